// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package machine

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/ssh"

	"github.com/jiuzhuaxiong/tbot/shell"
)

// Board is a machine layered over a lab host: the board is powered on with
// a lab-side command and its console is reached through a connect command
// running on a fresh session channel. Boot completion is detected either
// by the configured prompt or by a boot pattern, since a boot loader's
// prompt cannot be replaced with a sentinel.
type Board struct {
	name    string
	lab     Machine
	channel *shell.SSHChannel
	prompt  string
	workdir string
}

var _ Machine = (*Board)(nil)

// NewBoard prepares a board machine named by the board.name config key.
// The machine is inert until Setup, which must receive the lab host as
// previous.
func NewBoard(ctx *Context) *Board {
	return &Board{name: ctx.Config.String("board.name", "default")}
}

// Setup powers the board on, opens the console and waits for it to become
// interactive. A failure after power-on still leaves the machine safe to
// tear down.
func (b *Board) Setup(ctx *Context, previous Machine) (Machine, error) {
	if b.channel != nil {
		return b, nil
	}
	if previous == nil {
		return nil, fmt.Errorf("board %s: requires a lab host to connect through", b.name)
	}
	host, ok := previous.(interface{ Client() *ssh.Client })
	if !ok {
		return nil, fmt.Errorf("board %s: %s cannot host a console", b.name, previous.UniqueName())
	}
	cfg := ctx.Config
	b.lab = previous

	if cmd := cfg.String("board.power_on", ""); cmd != "" {
		if _, err := Exec0(ctx, previous, cmd); err != nil {
			return nil, fmt.Errorf("board %s: power on: %w", b.name, err)
		}
	}

	connect, err := cfg.Require("board.connect")
	if err != nil {
		return nil, err
	}
	ch, err := shell.NewSSHChannel(host.Client())
	if err != nil {
		return nil, fmt.Errorf("board %s: %w", b.name, err)
	}
	// From here on Teardown owns the channel, even if boot fails.
	b.channel = ch
	if err := applyRecvTimeout(cfg, "board.recv_timeout", ch); err != nil {
		b.Teardown(ctx)
		return nil, fmt.Errorf("board %s: %w", b.name, err)
	}
	if err := ch.Send([]byte(connect + "\n")); err != nil {
		b.Teardown(ctx)
		return nil, fmt.Errorf("board %s: %w", b.name, err)
	}

	boot := ctx.Log.ShellCommand([]string{"board", b.name}, connect, true, true)
	var bootErr error
	if pat := cfg.String("board.boot_pattern", ""); pat != "" {
		re, err := regexp.Compile(pat)
		if err != nil {
			b.Teardown(ctx)
			return nil, fmt.Errorf("board %s: boot pattern: %w", b.name, err)
		}
		_, bootErr = shell.ReadToPromptPattern(ch, re, boot)
	} else {
		_, bootErr = shell.ReadToPrompt(ch, cfg.String("board.prompt", "=> "), boot)
	}
	boot.Done()
	if bootErr != nil {
		b.Teardown(ctx)
		return nil, fmt.Errorf("board %s: waiting for console: %w", b.name, bootErr)
	}

	if cfg.Bool("board.linux", false) {
		// A Linux board can take a sentinel prompt like any other shell.
		prompt := shell.RandomPrompt()
		if err := shell.Setup(ch, prompt); err != nil {
			b.Teardown(ctx)
			return nil, fmt.Errorf("board %s: %w", b.name, err)
		}
		b.prompt = prompt
	} else {
		b.prompt = cfg.String("board.prompt", "=> ")
	}
	b.workdir = cfg.String("board.workdir", "/tmp")
	return b, nil
}

// Teardown closes the console and powers the board off through the lab
// host. Safe to call repeatedly and after a failed Setup.
func (b *Board) Teardown(ctx *Context) error {
	if b.channel == nil {
		return nil
	}
	ch := b.channel
	b.channel = nil
	var result error
	if err := ch.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if cmd := ctx.Config.String("board.power_off", ""); cmd != "" && b.lab != nil {
		if _, err := Exec0(ctx, b.lab, cmd); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func (b *Board) Dispatch(command string, sink shell.Sink) (int, string, error) {
	if b.channel == nil {
		return 0, "", fmt.Errorf("board %s: %w", b.name, shell.ErrInvalidChannelState)
	}
	return shell.CommandAndRetval(b.channel, b.prompt, command, sink)
}

func (b *Board) CommonName() string {
	return "board"
}

func (b *Board) UniqueName() string {
	return "board-" + b.name
}

func (b *Board) Workdir() string {
	return b.workdir
}
