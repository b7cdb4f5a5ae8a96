// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package machine

import (
	"fmt"

	"github.com/jiuzhuaxiong/tbot/shell"
)

// Localhost drives a local shell through a pty with the same protocol as
// a lab host. Useful for developing testcases without a lab connection.
type Localhost struct {
	shellPath string
	channel   *shell.PTYChannel
	prompt    string
	workdir   string
}

var _ Machine = (*Localhost)(nil)

// NewLocalhost prepares a localhost machine running shellPath, or /bin/sh
// if empty.
func NewLocalhost(shellPath string) *Localhost {
	if shellPath == "" {
		shellPath = "/bin/sh"
	}
	return &Localhost{shellPath: shellPath}
}

func (l *Localhost) Setup(ctx *Context, previous Machine) (Machine, error) {
	if l.channel != nil {
		return l, nil
	}
	ch, err := shell.NewPTYChannel(l.shellPath)
	if err != nil {
		return nil, fmt.Errorf("localhost: %w", err)
	}
	if err := applyRecvTimeout(ctx.Config, "lab.recv_timeout", ch); err != nil {
		ch.Close()
		return nil, fmt.Errorf("localhost: %w", err)
	}
	prompt := shell.RandomPrompt()
	if err := shell.Setup(ch, prompt); err != nil {
		ch.Close()
		return nil, fmt.Errorf("localhost: %w", err)
	}
	l.channel = ch
	l.prompt = prompt

	l.workdir = ctx.Config.String("tbot.workdir", "/tmp/tbot")
	enter := "mkdir -p " + quoteArg(l.workdir) + " && cd " + quoteArg(l.workdir)
	if _, err := shell.ExecCommand(ch, prompt, enter, nil); err != nil {
		l.Teardown(ctx)
		return nil, fmt.Errorf("localhost: enter workdir: %w", err)
	}
	return l, nil
}

func (l *Localhost) Teardown(ctx *Context) error {
	if l.channel == nil {
		return nil
	}
	ch := l.channel
	l.channel = nil
	return ch.Close()
}

func (l *Localhost) Dispatch(command string, sink shell.Sink) (int, string, error) {
	if l.channel == nil {
		return 0, "", fmt.Errorf("localhost: %w", shell.ErrInvalidChannelState)
	}
	return shell.CommandAndRetval(l.channel, l.prompt, command, sink)
}

func (l *Localhost) CommonName() string {
	return "labhost"
}

func (l *Localhost) UniqueName() string {
	return "labhost-local"
}

func (l *Localhost) Workdir() string {
	return l.workdir
}
