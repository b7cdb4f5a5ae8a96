// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package machine provides the execution surface for remote and local
// machines: a Machine interface with Exec/Exec0 implemented once on top of
// it, typed argument fragments for safe command construction, and a
// registry that owns the lab connection and tears machines down in reverse
// order of creation.
package machine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jiuzhuaxiong/tbot/config"
	"github.com/jiuzhuaxiong/tbot/event"
	"github.com/jiuzhuaxiong/tbot/shell"
)

// V allows debug printing.
var V = func(string, ...interface{}) {}

// Machine is something commands can be dispatched to. Concrete machines
// differ in what session they drive (lab host over SSH, board console,
// local pty); Exec and Exec0 are shared and sit on top of Dispatch.
type Machine interface {
	// Setup binds the machine to a live session. previous is the machine
	// this one is layered over, if any; Setup may return a different
	// Machine than its receiver.
	Setup(ctx *Context, previous Machine) (Machine, error)
	// Teardown releases the machine's session. It must be safe to call
	// more than once and after a failed Setup.
	Teardown(ctx *Context) error
	// Dispatch sends one command and blocks until the session reports
	// completion, streaming output lines to sink.
	Dispatch(command string, sink shell.Sink) (int, string, error)
	// CommonName is the machine family, e.g. "labhost" or "board".
	CommonName() string
	// UniqueName identifies this machine in the registry, e.g.
	// "labhost-env".
	UniqueName() string
	// Workdir is where testcases can safely store data on this machine.
	Workdir() string
}

// Context carries the ambient collaborators that used to be module-level
// singletons: configuration, event logging and the interactive
// confirmation surface.
type Context struct {
	Config      *config.Config
	Log         *event.Emitter
	Interactive bool
	// Confirm is where interactive confirmations are read from; defaults
	// to os.Stdin. ConfirmOut is where the question goes; defaults to
	// os.Stderr.
	Confirm    io.Reader
	ConfirmOut io.Writer

	confirmRd *bufio.Reader
}

// confirm asks the operator whether command may run on m. An empty answer
// or one starting with y/Y means yes.
func (ctx *Context) confirm(m Machine, command string) bool {
	out := ctx.ConfirmOut
	if out == nil {
		out = os.Stderr
	}
	if ctx.confirmRd == nil {
		in := ctx.Confirm
		if in == nil {
			in = os.Stdin
		}
		ctx.confirmRd = bufio.NewReader(in)
	}
	fmt.Fprintf(out, "%s: %q [Y/n]? ", m.UniqueName(), command)
	line, err := ctx.confirmRd.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "" || answer[0] == 'y'
}

// applyRecvTimeout sets ch's receive deadline from the named config key,
// a duration string like "30s". With no deadline a desynchronized session
// blocks forever; with one it fails with shell.ErrPromptTimeout instead.
// An unset key leaves the channel blocking.
func applyRecvTimeout(cfg *config.Config, key string, ch interface{ SetRecvTimeout(time.Duration) }) error {
	s := cfg.String(key, "")
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	ch.SetRecvTimeout(d)
	return nil
}

// ExecOption adjusts how a single Exec is logged.
type ExecOption func(*execOptions)

type execOptions struct {
	show       bool
	showOutput bool
}

// HideCommand keeps the command itself out of rendered logs.
func HideCommand() ExecOption {
	return func(o *execOptions) { o.show = false }
}

// HideOutput keeps the command's output out of rendered logs.
func HideOutput() ExecOption {
	return func(o *execOptions) { o.showOutput = false }
}

// Exec runs command on m. In interactive mode the operator is asked first;
// declining skips the command and reports success with empty output, so an
// interactive dry-run can continue without derailing the caller's logic.
// The execution event is emitted before dispatch and gets the exit code
// attached afterwards, whatever the outcome.
func Exec(ctx *Context, m Machine, command string, opts ...ExecOption) (int, string, error) {
	o := execOptions{show: true, showOutput: true}
	for _, opt := range opts {
		opt(&o)
	}
	if ctx.Interactive && !ctx.confirm(m, command) {
		ctx.Log.Message(fmt.Sprintf("Skipping command %q ... Might cause unintended side effects!", command))
		return 0, "", nil
	}
	ev := ctx.Log.ShellCommand(strings.Split(m.UniqueName(), "-"), command, o.show, o.showOutput)
	code, out, err := m.Dispatch(command, ev)
	ev.SetExitCode(code)
	ev.Done()
	return code, out, err
}

// Exec0 runs command on m and fails unless it exits with code zero.
func Exec0(ctx *Context, m Machine, command string, opts ...ExecOption) (string, error) {
	code, out, err := Exec(ctx, m, command, opts...)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", &CommandFailedError{Command: command, ExitCode: code, Output: out}
	}
	return out, nil
}

// CommandFailedError reports a command that was expected to succeed but
// exited nonzero.
type CommandFailedError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d:\n%s", e.Command, e.ExitCode, e.Output)
}
