// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shell

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"github.com/hashicorp/go-multierror"
)

// PTYChannel runs a local shell on a pseudo terminal and exposes it as a
// Channel. It speaks the same protocol as an SSH channel, just without the
// network, which makes it useful for localhost machines and offline runs.
type PTYChannel struct {
	*pump
	cmd *exec.Cmd
	f   *os.File
}

var _ Channel = (*PTYChannel)(nil)

// NewPTYChannel starts shellPath (e.g. /bin/sh) on a local pty. The
// channel still needs Setup before it can execute commands.
func NewPTYChannel(shellPath string) (*PTYChannel, error) {
	cmd := exec.Command(shellPath)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})
	if err != nil {
		return nil, fmt.Errorf("start %s on pty: %w", shellPath, err)
	}
	return &PTYChannel{pump: newPump(f), cmd: cmd, f: f}, nil
}

func (c *PTYChannel) Send(data []byte) error {
	if _, err := c.f.Write(data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Resize changes the pty dimensions.
func (c *PTYChannel) Resize(cols, rows int) error {
	return pty.Setsize(c.f, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Close hangs up the pty and reaps the shell. Closing the master is what
// makes the shell exit, so the Wait must come after.
func (c *PTYChannel) Close() error {
	var result error
	if err := c.f.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			result = multierror.Append(result, err)
		}
	}
	return result
}
