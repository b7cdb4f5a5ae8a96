// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shell

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/ssh"
)

// Pty geometry: wide and tall so the terminal does not wrap long command
// echoes into escape-sequence artifacts the synchronizer would have to
// understand.
const (
	ptyCols = 200
	ptyRows = 200
)

// SSHChannel adapts an SSH session into a Channel. The session runs the
// remote login shell on a pty, which also merges stderr into the stream;
// the protocol never sees separate output streams.
type SSHChannel struct {
	*pump
	session *ssh.Session
	stdin   io.WriteCloser
}

var _ Channel = (*SSHChannel)(nil)

// NewSSHChannel opens a new session channel on client, requests a pty and
// invokes the remote shell. The channel still needs Setup before it can
// execute commands.
func NewSSHChannel(client *ssh.Client) (*SSHChannel, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	modes := ssh.TerminalModes{
		// The protocol strips the echoed command off the output, so echo
		// must stay on.
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty("xterm-256color", ptyRows, ptyCols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("invoke shell: %w", err)
	}
	return &SSHChannel{pump: newPump(stdout), session: session, stdin: stdin}, nil
}

func (c *SSHChannel) Send(data []byte) error {
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Resize changes the remote pty dimensions.
func (c *SSHChannel) Resize(cols, rows int) error {
	return c.session.WindowChange(rows, cols)
}

func (c *SSHChannel) Close() error {
	var result error
	if err := c.stdin.Close(); err != nil && err != io.EOF {
		result = multierror.Append(result, err)
	}
	if err := c.session.Close(); err != nil && err != io.EOF {
		result = multierror.Append(result, err)
	}
	return result
}
