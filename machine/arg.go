// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package machine

import (
	"fmt"
	"strings"

	"github.com/jiuzhuaxiong/tbot/shell"
)

// Arg is one fragment of a command line. The set of implementations is
// closed: Env, Raw and the internal pre-quoted static. Resolve is pure;
// resolving twice yields the same string.
type Arg interface {
	Resolve() string
}

// Env expands to the remote shell's value of the named variable. The
// expansion happens on the remote side.
type Env struct {
	Name string
}

func (e Env) Resolve() string {
	return "${" + e.Name + "}"
}

// Raw is spliced into the command line verbatim. The caller takes
// responsibility for quoting.
type Raw struct {
	Text string
}

func (r Raw) Resolve() string {
	return r.Text
}

// static is pre-quoted text produced inside this package. It exists so
// already-resolved fragments are distinguishable from user-supplied Raw
// text at the type level.
type static string

func (s static) Resolve() string {
	return string(s)
}

// Quote returns arg quoted for safe use as a single shell word.
func Quote(arg string) Arg {
	return static(quoteArg(arg))
}

func quoteArg(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

// Command builds a single command line from words. Plain strings are
// quoted as single shell words; Arg values resolve themselves. The result
// must be a single line; an embedded newline is a construction error, not
// something that surfaces during dispatch.
func Command(words ...interface{}) (string, error) {
	parts := make([]string, len(words))
	for i, w := range words {
		switch v := w.(type) {
		case string:
			parts[i] = quoteArg(v)
		case Arg:
			parts[i] = v.Resolve()
		default:
			return "", fmt.Errorf("command word %d: unsupported type %T", i, w)
		}
	}
	command := strings.Join(parts, " ")
	if strings.ContainsRune(command, '\n') {
		return "", fmt.Errorf("build command %q: %w", command, shell.ErrInvalidCommand)
	}
	return command, nil
}
