// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tbot runs shell commands on configured machines: the lab host,
// a board connected through it, or a local shell. Execution events stream
// to stderr; the command's output goes to stdout; the exit code of a
// failed command becomes tbot's own.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jiuzhuaxiong/tbot/config"
	"github.com/jiuzhuaxiong/tbot/event"
	"github.com/jiuzhuaxiong/tbot/machine"
	"github.com/jiuzhuaxiong/tbot/shell"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var failed *machine.CommandFailedError
		if errors.As(err, &failed) {
			fmt.Fprint(os.Stderr, failed.Output)
			os.Exit(failed.ExitCode)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tbot",
		Short:         "Run commands on lab hosts and boards over prompt-synchronized shells",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newExecCmd())
	return root
}

func newExecCmd() *cobra.Command {
	var cfgPath, logPath, target, shellPath string
	var interactive, verbose bool
	cmd := &cobra.Command{
		Use:   "exec [flags] -- COMMAND...",
		Short: "Execute a command on a configured machine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if cfgPath != "" {
				var err error
				if cfg, err = config.Load(cfgPath); err != nil {
					return err
				}
			}
			var logw io.Writer
			if logPath != "" {
				f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				logw = f
			}
			if verbose {
				debug := func(f string, a ...interface{}) { fmt.Fprintf(os.Stderr, f+"\n", a...) }
				machine.V = debug
				shell.V = debug
			}
			ctx := &machine.Context{
				Config:      cfg,
				Log:         event.New(os.Stderr, logw),
				Interactive: interactive,
			}
			command := strings.Join(args, " ")

			if target == "localhost" {
				m, err := machine.NewLocalhost(shellPath).Setup(ctx, nil)
				if err != nil {
					return err
				}
				defer m.Teardown(ctx)
				return run(ctx, m, command)
			}

			maybePromptPassword(cfg)
			mgr, err := machine.Connect(ctx, nil)
			if err != nil {
				return err
			}
			defer mgr.Close(ctx)
			lab, err := mgr.Register(ctx, machine.NewLabHost(mgr.Connection, "env"), nil)
			if err != nil {
				return err
			}
			m := lab
			if target == "board" {
				if m, err = mgr.Register(ctx, machine.NewBoard(ctx), lab); err != nil {
					return err
				}
			}
			return run(ctx, m, command)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to the lab config file")
	cmd.Flags().StringVar(&logPath, "logfile", "", "append the JSON event log to this file")
	cmd.Flags().StringVarP(&target, "machine", "m", "labhost", "machine to run on: labhost, board or localhost")
	cmd.Flags().StringVar(&shellPath, "shell", "", "shell to use with -m localhost (default /bin/sh)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "confirm every command before running it")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug output")
	return cmd
}

func run(ctx *machine.Context, m machine.Machine, command string) error {
	out, err := machine.Exec0(ctx, m, command)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// maybePromptPassword asks for a password on the terminal when the config
// names a user but supplies neither a password nor a keyfile.
func maybePromptPassword(cfg *config.Config) {
	if cfg == nil || !cfg.Has("lab.user") || cfg.Has("lab.password") || cfg.Has("lab.keyfile") {
		return
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	fmt.Fprintf(os.Stderr, "password for %s@%s: ", cfg.String("lab.user", ""), cfg.String("lab.hostname", ""))
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil || len(pw) == 0 {
		return
	}
	cfg.Set("lab.password", string(pw))
}
