// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package machine

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/jiuzhuaxiong/tbot/config"
	"github.com/jiuzhuaxiong/tbot/event"
)

func TestLocalhostExec(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skipf("no /bin/sh: %v", err)
	}
	workdir := t.TempDir()
	ctx := &Context{
		Config: config.New(map[string]interface{}{
			"tbot": map[string]interface{}{"workdir": workdir},
		}),
		Log: event.New(io.Discard, nil),
	}
	m, err := NewLocalhost("").Setup(ctx, nil)
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer m.Teardown(ctx)

	out, err := Exec0(ctx, m, "echo hello")
	if err != nil {
		t.Fatalf("Exec0: %v != nil", err)
	}
	if out != "hello\n" {
		t.Errorf("output: %q != %q", out, "hello\n")
	}

	pwd, err := Exec0(ctx, m, "pwd")
	if err != nil {
		t.Fatalf("Exec0(pwd): %v != nil", err)
	}
	if strings.TrimSpace(pwd) != workdir {
		t.Errorf("pwd: %q != %q", strings.TrimSpace(pwd), workdir)
	}

	code, _, err := Exec(ctx, m, "false")
	if err != nil {
		t.Fatalf("Exec(false): %v != nil", err)
	}
	if code != 1 {
		t.Errorf("exit code: %d != 1", code)
	}

	// Teardown twice must be safe.
	if err := m.Teardown(ctx); err != nil {
		t.Fatalf("Teardown: %v != nil", err)
	}
	if err := m.Teardown(ctx); err != nil {
		t.Fatalf("second Teardown: %v != nil", err)
	}
}
