// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package machine

import (
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/jiuzhuaxiong/tbot/shell"
)

// LabHost is the machine commands run on by default: a shell session on
// the lab host, opened on the manager's SSH connection and synchronized
// with a random sentinel prompt.
type LabHost struct {
	client  *ssh.Client
	name    string
	channel *shell.SSHChannel
	prompt  string
	workdir string
}

var _ Machine = (*LabHost)(nil)

// NewLabHost prepares a lab host machine on client. name distinguishes
// multiple lab host sessions, e.g. "env". The machine is inert until
// Setup.
func NewLabHost(client *ssh.Client, name string) *LabHost {
	return &LabHost{client: client, name: name}
}

// Setup opens the session channel, injects the prompt and enters the
// workdir. Calling it on an already set up machine is a no-op.
func (l *LabHost) Setup(ctx *Context, previous Machine) (Machine, error) {
	if l.channel != nil {
		return l, nil
	}
	ch, err := shell.NewSSHChannel(l.client)
	if err != nil {
		return nil, fmt.Errorf("labhost %s: %w", l.name, err)
	}
	if err := applyRecvTimeout(ctx.Config, "lab.recv_timeout", ch); err != nil {
		ch.Close()
		return nil, fmt.Errorf("labhost %s: %w", l.name, err)
	}
	prompt := shell.RandomPrompt()
	if err := shell.Setup(ch, prompt); err != nil {
		ch.Close()
		return nil, fmt.Errorf("labhost %s: %w", l.name, err)
	}
	l.channel = ch
	l.prompt = prompt

	l.workdir = ctx.Config.String("tbot.workdir", "/tmp/tbot")
	enter := "mkdir -p " + quoteArg(l.workdir) + " && cd " + quoteArg(l.workdir)
	if _, err := shell.ExecCommand(ch, prompt, enter, nil); err != nil {
		l.Teardown(ctx)
		return nil, fmt.Errorf("labhost %s: enter workdir: %w", l.name, err)
	}
	return l, nil
}

// Teardown closes the session channel. Safe to call repeatedly.
func (l *LabHost) Teardown(ctx *Context) error {
	if l.channel == nil {
		return nil
	}
	ch := l.channel
	l.channel = nil
	return ch.Close()
}

func (l *LabHost) Dispatch(command string, sink shell.Sink) (int, string, error) {
	if l.channel == nil {
		return 0, "", fmt.Errorf("labhost %s: %w", l.name, shell.ErrInvalidChannelState)
	}
	return shell.CommandAndRetval(l.channel, l.prompt, command, sink)
}

// Client exposes the SSH connection so layered machines (boards) can open
// their own console channels on it.
func (l *LabHost) Client() *ssh.Client {
	return l.client
}

func (l *LabHost) CommonName() string {
	return "labhost"
}

func (l *LabHost) UniqueName() string {
	return "labhost-" + l.name
}

func (l *LabHost) Workdir() string {
	return l.workdir
}
