// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package machine

import (
	"errors"
	"testing"

	"github.com/jiuzhuaxiong/tbot/shell"
)

func TestQuoteArg(t *testing.T) {
	var tests = []struct {
		in  string
		out string
	}{
		{in: "", out: "''"},
		{in: "arg", out: "'arg'"},
		{in: "arg space", out: "'arg space'"},
		{in: "\"", out: "'\"'"},
		{in: "'", out: "''\"'\"''"},
		{in: "'a'", out: "''\"'\"'a'\"'\"''"},
	}
	for i, tt := range tests {
		result := quoteArg(tt.in)
		if result != tt.out {
			t.Errorf("%d: quoteArg(%s) = %s, expected %s", i, tt.in, result, tt.out)
		}
	}
}

func TestArgResolve(t *testing.T) {
	var tests = []struct {
		arg Arg
		out string
	}{
		{arg: Env{Name: "HOME"}, out: "${HOME}"},
		{arg: Raw{Text: "2>&1"}, out: "2>&1"},
		{arg: Quote("a b"), out: "'a b'"},
	}
	for i, tt := range tests {
		if result := tt.arg.Resolve(); result != tt.out {
			t.Errorf("%d: Resolve() = %q, expected %q", i, result, tt.out)
		}
		// Resolution is pure: a second call yields the same fragment.
		if again := tt.arg.Resolve(); again != tt.out {
			t.Errorf("%d: second Resolve() = %q, expected %q", i, again, tt.out)
		}
	}
}

func TestCommand(t *testing.T) {
	got, err := Command("echo", Env{Name: "HOME"}, "a b", Raw{Text: ">out"})
	if err != nil {
		t.Fatalf("Command: %v != nil", err)
	}
	want := `'echo' ${HOME} 'a b' >out`
	if got != want {
		t.Errorf("Command: %q != %q", got, want)
	}
}

func TestCommandRejectsNewline(t *testing.T) {
	if _, err := Command(Raw{Text: "ls\nrm"}); !errors.Is(err, shell.ErrInvalidCommand) {
		t.Fatalf("Command: %v != %v", err, shell.ErrInvalidCommand)
	}
}

func TestCommandRejectsUnknownType(t *testing.T) {
	if _, err := Command("echo", 42); err == nil {
		t.Fatal("Command accepted an int word")
	}
}
