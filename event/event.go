// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package event is the observability sink for command execution: it
// renders shell commands and their output to a console writer and records
// one JSON object per event to an optional log writer, for later rendering
// by documentation backends.
package event

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Emitter writes events. All methods are safe on a nil receiver, which
// stands in for "no logging".
type Emitter struct {
	mu      sync.Mutex
	console io.Writer
	log     io.Writer
}

// New returns an Emitter rendering to console and, if log is non-nil,
// appending JSON lines to log.
func New(console, log io.Writer) *Emitter {
	return &Emitter{console: console, log: log}
}

type record struct {
	Type     []string  `json:"type"`
	Time     time.Time `json:"time"`
	Machine  []string  `json:"machine,omitempty"`
	Command  string    `json:"command,omitempty"`
	Show     bool      `json:"show,omitempty"`
	ShowOut  bool      `json:"show_stdout,omitempty"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Output   string    `json:"output,omitempty"`
	Message  string    `json:"message,omitempty"`
}

func (e *Emitter) write(r record) {
	if e == nil || e.log == nil {
		return
	}
	r.Time = time.Now()
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Write(append(b, '\n'))
}

// Message emits a free-form notice.
func (e *Emitter) Message(text string) {
	if e == nil {
		return
	}
	if e.console != nil {
		fmt.Fprintf(e.console, "%s\n", text)
	}
	e.write(record{Type: []string{"msg", "info"}, Message: text})
}

// ShellCommand opens a command event. The returned CommandEvent streams
// output lines as they are produced and is finalized with SetExitCode and
// Done. machine is the machine-name path, e.g. ["labhost", "env"].
func (e *Emitter) ShellCommand(machine []string, command string, show, showOutput bool) *CommandEvent {
	if e == nil {
		return nil
	}
	if show && e.console != nil {
		fmt.Fprintf(e.console, "[%s] %s\n", strings.Join(machine, "-"), command)
	}
	return &CommandEvent{
		em:      e,
		machine: machine,
		command: command,
		show:    show,
		showOut: showOutput,
	}
}

// CommandEvent is a single shell-command event in flight. Its methods are
// safe on a nil receiver so it can be passed unconditionally as an output
// sink.
type CommandEvent struct {
	em       *Emitter
	machine  []string
	command  string
	show     bool
	showOut  bool
	exitCode *int
	output   strings.Builder
}

// Line streams one completed output line to the event.
func (ev *CommandEvent) Line(text string) {
	if ev == nil {
		return
	}
	ev.output.WriteString(text)
	ev.output.WriteByte('\n')
	if ev.show && ev.showOut && ev.em.console != nil {
		fmt.Fprintf(ev.em.console, "   | %s\n", text)
	}
}

// SetExitCode attaches the command's exit code to the event.
func (ev *CommandEvent) SetExitCode(code int) {
	if ev == nil {
		return
	}
	ev.exitCode = &code
}

// Done finalizes the event and writes its record.
func (ev *CommandEvent) Done() {
	if ev == nil {
		return
	}
	ev.em.write(record{
		Type:     []string{"shell", "command"},
		Machine:  ev.machine,
		Command:  ev.command,
		Show:     ev.show,
		ShowOut:  ev.showOut,
		ExitCode: ev.exitCode,
		Output:   ev.output.String(),
	})
}
