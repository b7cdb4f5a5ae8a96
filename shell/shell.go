// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shell implements prompt-synchronized command execution on a raw
// byte channel. A sentinel prompt is injected into the remote shell and all
// further synchronization is done by watching for that prompt in the output
// stream. There is no framing from the remote side; command boundaries are
// reconstructed from the stream alone.
package shell

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// V allows debug printing.
var V = func(string, ...interface{}) {}

var (
	// ErrInvalidCommand means a command contained a newline. Commands are
	// single-line by contract; use ';' to chain.
	ErrInvalidCommand = errors.New("command contains a newline")
	// ErrInvalidChannelState means a dispatch was attempted on a channel
	// that already reported exit status.
	ErrInvalidChannelState = errors.New("channel is closed")
	// ErrPromptTimeout means the prompt was not seen before the channel's
	// receive deadline. The session buffer is no longer trustworthy and the
	// channel must be closed.
	ErrPromptTimeout = errors.New("timed out waiting for prompt")
)

// Channel is a byte-stream duplex connection to a remote shell,
// typically an SSH session channel with a pty.
type Channel interface {
	// Send writes data to the remote shell's input.
	Send(data []byte) error
	// Recv blocks until at least one byte is available or the channel
	// closes, and returns up to max bytes. A zero-byte return with
	// ExitStatusReady true means the remote side went away.
	Recv(max int) ([]byte, error)
	// ExitStatusReady reports whether the remote side has finished.
	ExitStatusReady() bool
	Close() error
}

// Sink receives completed output lines during a dispatch, for live
// display or logging.
type Sink interface {
	Line(text string)
}

// Read as much as is currently available in one go, so we rarely cut a
// multi-byte sequence between two reads.
const readMax = 1 << 20

// RandomPrompt returns a prompt sentinel for a new session. It is random
// enough to not show up in ordinary command output, but there is no
// collision check against the output; picking a safe prompt remains the
// caller's responsibility.
func RandomPrompt() string {
	return fmt.Sprintf("TBOT-%s>", uuid.New())
}

// Shell setup: no history file, no prompt hooks, our sentinel as PS1.
const setupFormat = "unset HISTFILE\nPROMPT_COMMAND=''\nPS1='%s'\n"

// Setup initializes a freshly opened channel: it reconfigures the remote
// shell to use prompt and consumes the startup banner plus the echo of the
// setup commands. On return the channel is synchronized and ready for
// ExecCommand.
func Setup(ch Channel, prompt string) error {
	if err := ch.Send([]byte(fmt.Sprintf(setupFormat, prompt))); err != nil {
		return fmt.Errorf("shell setup: %w", err)
	}
	buf, err := ReadToPrompt(ch, prompt, nil)
	if err != nil {
		return fmt.Errorf("shell setup: %w", err)
	}
	if !strings.HasSuffix(buf, prompt) {
		return fmt.Errorf("shell setup: channel closed before the prompt appeared: %w", ErrInvalidChannelState)
	}
	return nil
}

// decode interprets data as UTF-8. If the data is not valid UTF-8 it falls
// back to a one-byte-per-rune (Latin-1) reading, so a single garbled
// sequence never aborts the read loop.
func decode(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

// normalizeNewlines folds all line-ending variants into '\n'. The "\r\n"
// pass runs twice so doubly encoded endings like "\r\r\n" collapse cleanly
// before the bare-'\r' pass.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// ReadToPrompt reads from ch until the buffered output ends with the
// literal prompt, streaming completed lines to sink on the way. It returns
// the whole buffer including the trailing prompt. If the channel closes
// before the prompt shows up, the partial buffer is returned without error;
// callers that care must check for the prompt suffix themselves.
func ReadToPrompt(ch Channel, prompt string, sink Sink) (string, error) {
	return readToPrompt(ch, sink, func(buf string) (int, bool) {
		if strings.HasSuffix(buf, prompt) {
			return len(prompt), true
		}
		return 0, false
	})
}

// ReadToPromptPattern is ReadToPrompt for shells whose prompt cannot be
// replaced with a literal sentinel (boot loaders, login prompts). The
// pattern is anchored to the end of the buffer internally.
func ReadToPromptPattern(ch Channel, pattern *regexp.Regexp, sink Sink) (string, error) {
	anchored, err := regexp.Compile(pattern.String() + "$")
	if err != nil {
		return "", fmt.Errorf("anchor prompt pattern %q: %w", pattern, err)
	}
	return readToPrompt(ch, sink, func(buf string) (int, bool) {
		if loc := anchored.FindStringIndex(buf); loc != nil && loc[1] == len(buf) {
			return loc[1] - loc[0], true
		}
		return 0, false
	})
}

// readToPrompt is the synchronization loop. match reports whether buf ends
// in the prompt and how long the matched prompt is, so the trailing flush
// can exclude it.
func readToPrompt(ch Channel, sink Sink, match func(buf string) (int, bool)) (string, error) {
	var buf string
	// Byte offset of the first line not yet delivered to the sink. The
	// very first line is the echoed command, not output, and is skipped.
	lastNewline := 0

	for {
		data, err := ch.Recv(readMax)
		if err != nil {
			return buf, err
		}
		chunk := normalizeNewlines(decode(data))
		V("recv %q", chunk)
		buf += chunk

		if sink != nil {
			for {
				i := strings.IndexByte(buf[lastNewline:], '\n')
				if i < 0 {
					break
				}
				if lastNewline != 0 {
					sink.Line(buf[lastNewline : lastNewline+i])
				}
				lastNewline += i + 1
			}
		}

		if n, ok := match(buf); ok {
			// Flush the unterminated tail, minus the prompt itself. A
			// prompt match that spans a newline leaves no tail.
			if sink != nil && !strings.Contains(buf[lastNewline:], "\n") {
				if end := len(buf) - n; end > lastNewline {
					sink.Line(buf[lastNewline:end])
				}
			}
			return buf, nil
		}

		if len(data) == 0 && ch.ExitStatusReady() {
			// Remote side closed without a matching prompt. Hand back
			// whatever accumulated; the buffer lacks the prompt suffix and
			// the caller must treat it as a partial result.
			return buf, nil
		}
	}
}

// ExecCommand runs a single command on a synchronized channel and returns
// its output, with the echoed command line and the trailing prompt
// stripped. command must not contain a newline and the channel must still
// be open; both are checked before any byte is sent.
func ExecCommand(ch Channel, prompt, command string, sink Sink) (string, error) {
	if strings.ContainsRune(command, '\n') {
		return "", fmt.Errorf("exec %q: %w", command, ErrInvalidCommand)
	}
	if ch.ExitStatusReady() {
		return "", fmt.Errorf("exec %q: %w", command, ErrInvalidChannelState)
	}
	if err := ch.Send([]byte(command + "\n")); err != nil {
		return "", fmt.Errorf("exec %q: %w", command, err)
	}
	out, err := ReadToPrompt(ch, prompt, sink)
	if err != nil {
		return "", fmt.Errorf("exec %q: %w", command, err)
	}
	out = strings.TrimPrefix(out, command+"\n")
	out = strings.TrimSuffix(out, prompt)
	return out, nil
}

// CommandAndRetval runs command and retrieves its exit status with a
// follow-up "echo $?" round trip. The remote shell does not report exit
// codes inline, so the second round trip is the price of a reliable code.
func CommandAndRetval(ch Channel, prompt, command string, sink Sink) (int, string, error) {
	out, err := ExecCommand(ch, prompt, command, sink)
	if err != nil {
		return 0, "", err
	}
	status, err := ExecCommand(ch, prompt, "echo $?", nil)
	if err != nil {
		return 0, out, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(status))
	if err != nil {
		return 0, out, fmt.Errorf("exec %q: bad exit status %q: %w", command, status, err)
	}
	return code, out, nil
}
