// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package machine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/jiuzhuaxiong/tbot/event"
	"github.com/jiuzhuaxiong/tbot/shell"
)

// fakeMachine records dispatches and returns a fixed result.
type fakeMachine struct {
	name       string
	code       int
	out        string
	dispatches []string
	teardowns  *[]string
}

func (f *fakeMachine) Setup(ctx *Context, previous Machine) (Machine, error) { return f, nil }

func (f *fakeMachine) Teardown(ctx *Context) error {
	if f.teardowns != nil {
		*f.teardowns = append(*f.teardowns, f.name)
	}
	return nil
}

func (f *fakeMachine) Dispatch(command string, sink shell.Sink) (int, string, error) {
	f.dispatches = append(f.dispatches, command)
	for _, line := range strings.Split(strings.TrimSuffix(f.out, "\n"), "\n") {
		if line != "" && sink != nil {
			sink.Line(line)
		}
	}
	return f.code, f.out, nil
}

func (f *fakeMachine) CommonName() string { return "fake" }
func (f *fakeMachine) UniqueName() string { return "fake-" + f.name }
func (f *fakeMachine) Workdir() string    { return "/tmp" }

func testContext() *Context {
	return &Context{Log: event.New(io.Discard, nil)}
}

func TestExec(t *testing.T) {
	m := &fakeMachine{name: "a", out: "hello\n"}
	code, out, err := Exec(testContext(), m, "echo hello")
	if err != nil {
		t.Fatalf("Exec: %v != nil", err)
	}
	if code != 0 || out != "hello\n" {
		t.Errorf("Exec: (%d, %q) != (0, %q)", code, out, "hello\n")
	}
	if len(m.dispatches) != 1 || m.dispatches[0] != "echo hello" {
		t.Errorf("dispatches: %q != [%q]", m.dispatches, "echo hello")
	}
}

func TestExec0Failure(t *testing.T) {
	m := &fakeMachine{name: "a", code: 1, out: "it broke\n"}
	_, err := Exec0(testContext(), m, "do-thing")
	var failed *CommandFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Exec0: %v is not a CommandFailedError", err)
	}
	if failed.Command != "do-thing" || failed.ExitCode != 1 || failed.Output != "it broke\n" {
		t.Errorf("CommandFailedError: %+v has wrong fields", failed)
	}
}

func TestInteractiveDecline(t *testing.T) {
	m := &fakeMachine{name: "a", out: "should not run\n"}
	ctx := testContext()
	ctx.Interactive = true
	ctx.Confirm = strings.NewReader("n\n")
	ctx.ConfirmOut = io.Discard
	code, out, err := Exec(ctx, m, "rm -rf /")
	if err != nil {
		t.Fatalf("Exec: %v != nil", err)
	}
	// Declining is a deliberate no-op success, not a failure.
	if code != 0 || out != "" {
		t.Errorf("Exec: (%d, %q) != (0, \"\")", code, out)
	}
	if len(m.dispatches) != 0 {
		t.Errorf("command was dispatched despite decline: %q", m.dispatches)
	}
}

func TestInteractiveAccept(t *testing.T) {
	var tests = []struct {
		answer string
	}{
		{answer: "\n"},
		{answer: "y\n"},
		{answer: "Yes\n"},
	}
	for _, tt := range tests {
		m := &fakeMachine{name: "a"}
		ctx := testContext()
		ctx.Interactive = true
		ctx.Confirm = strings.NewReader(tt.answer)
		ctx.ConfirmOut = io.Discard
		if _, _, err := Exec(ctx, m, "true"); err != nil {
			t.Fatalf("Exec: %v != nil", err)
		}
		if len(m.dispatches) != 1 {
			t.Errorf("answer %q: dispatches %d != 1", tt.answer, len(m.dispatches))
		}
	}
}

func TestInteractiveSequence(t *testing.T) {
	// One reader serves several confirmations without losing buffered
	// input between commands.
	m := &fakeMachine{name: "a"}
	ctx := testContext()
	ctx.Interactive = true
	ctx.Confirm = strings.NewReader("y\nn\ny\n")
	ctx.ConfirmOut = io.Discard
	for i := 0; i < 3; i++ {
		if _, _, err := Exec(ctx, m, "true"); err != nil {
			t.Fatalf("Exec: %v != nil", err)
		}
	}
	if len(m.dispatches) != 2 {
		t.Errorf("dispatches: %d != 2", len(m.dispatches))
	}
}

func TestExecEvent(t *testing.T) {
	var console, logw bytes.Buffer
	m := &fakeMachine{name: "a", code: 3, out: "boom\n"}
	ctx := &Context{Log: event.New(&console, &logw)}
	if _, _, err := Exec(ctx, m, "explode"); err != nil {
		t.Fatalf("Exec: %v != nil", err)
	}

	var rec struct {
		Type     []string `json:"type"`
		Machine  []string `json:"machine"`
		Command  string   `json:"command"`
		ExitCode *int     `json:"exit_code"`
		Output   string   `json:"output"`
	}
	line, err := bufio.NewReader(&logw).ReadBytes('\n')
	if err != nil {
		t.Fatalf("reading event log: %v", err)
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		t.Fatalf("event is not JSON: %v", err)
	}
	if rec.Command != "explode" {
		t.Errorf("command: %q != %q", rec.Command, "explode")
	}
	if rec.ExitCode == nil || *rec.ExitCode != 3 {
		t.Errorf("exit_code: %v != 3", rec.ExitCode)
	}
	if rec.Output != "boom\n" {
		t.Errorf("output: %q != %q", rec.Output, "boom\n")
	}
	if len(rec.Machine) != 2 || rec.Machine[0] != "fake" || rec.Machine[1] != "a" {
		t.Errorf("machine path: %q != [fake a]", rec.Machine)
	}
	if !strings.Contains(console.String(), "explode") {
		t.Errorf("console: %q does not show the command", console.String())
	}
}

func TestRegistryTeardownOrder(t *testing.T) {
	var teardowns []string
	mgr := &Manager{machines: map[string]Machine{}}
	ctx := testContext()
	for _, name := range []string{"one", "two", "three"} {
		if _, err := mgr.Register(ctx, &fakeMachine{name: name, teardowns: &teardowns}, nil); err != nil {
			t.Fatalf("Register(%s): %v != nil", name, err)
		}
	}
	if _, ok := mgr.Get("fake-two"); !ok {
		t.Error("Get(fake-two): not found")
	}
	if err := mgr.Close(ctx); err != nil {
		t.Fatalf("Close: %v != nil", err)
	}
	want := []string{"three", "two", "one"}
	for i := range want {
		if teardowns[i] != want[i] {
			t.Fatalf("teardown order: %q != %q", teardowns, want)
		}
	}
	if _, ok := mgr.Get("fake-two"); ok {
		t.Error("Get(fake-two) after Close: found")
	}
}

func TestRegistryDuplicateName(t *testing.T) {
	mgr := &Manager{machines: map[string]Machine{}}
	ctx := testContext()
	if _, err := mgr.Register(ctx, &fakeMachine{name: "dup"}, nil); err != nil {
		t.Fatalf("Register: %v != nil", err)
	}
	if _, err := mgr.Register(ctx, &fakeMachine{name: "dup"}, nil); err == nil {
		t.Fatal("Register accepted a duplicate name")
	}
}
