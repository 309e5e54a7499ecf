// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

// Package driver provides the Cobra commands backing cmd/luavm: loading a
// precompiled chunk and either disassembling it or running it to
// completion.
package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"github.com/devDesu/RustyMoon/internal/bytecode"
	"github.com/devDesu/RustyMoon/internal/vm"
)

var initLogOnce sync.Once

func initLogging(level string) {
	initLogOnce.Do(func() {
		minLevel := log.Info
		switch strings.ToLower(level) {
		case "debug", "trace":
			minLevel = log.Debug
		case "warn", "warning":
			minLevel = log.Warn
		case "error":
			minLevel = log.Error
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLevel,
			Output: log.New(os.Stderr, "luavm: ", log.StdFlags, nil),
		})
	})
}

// New returns the root command for the luavm CLI.
func New() *cobra.Command {
	root := &cobra.Command{
		Use:                   "luavm",
		Short:                 "run and inspect precompiled register-machine bytecode",
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	logLevel := root.PersistentFlags().String("log-level", "info", "minimum log level: debug, info, warn, error")
	root.PersistentPreRun = func(*cobra.Command, []string) {
		initLogging(*logLevel)
	}
	root.AddCommand(newRunCommand(), newDumpCommand())
	return root
}

var artifacts = newArtifactCache()

// ExecError distinguishes a load failure (exit code 1) from a failure during
// execution (exit code 2), so main can map either to the driver's documented
// exit status without inspecting error internals itself.
type ExecError struct {
	Err       error
	DuringRun bool
}

func (e *ExecError) Error() string { return e.Err.Error() }
func (e *ExecError) Unwrap() error { return e.Err }

func readArtifact(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func loadFile(path string) (*bytecode.Proto, error) {
	proto, err := artifacts.load(path, readArtifact)
	if err != nil {
		return nil, &ExecError{Err: fmt.Errorf("load %s: %w", path, err)}
	}
	return proto, nil
}

func newRunCommand() *cobra.Command {
	var limitStack, limitDepth int
	var entryArgs string
	var trace bool
	c := &cobra.Command{
		Use:                   "run FILE",
		Short:                 "execute a precompiled chunk",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := loadFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			limits := vm.DefaultLimits()
			if limitStack > 0 {
				limits.MaxStackSize = limitStack
			}
			if limitDepth > 0 {
				limits.MaxCallDepth = limitDepth
			}
			th := vm.NewThread(limits)
			growInitialStack(th, limits)
			if trace {
				th.SetTrace(func(proto *bytecode.Proto, pc int, instr bytecode.Instruction) {
					log.Debugf(ctx, "%s:%d\t%s", sourceName(proto), pc+1, instr.String())
				})
			}
			callArgs := parseEntryArgs(entryArgs)
			log.Debugf(ctx, "running %s (%d instructions)", args[0], len(proto.Code))
			if _, err := vm.Run(ctx, th, proto, callArgs); err != nil {
				return &ExecError{Err: err, DuringRun: true}
			}
			return nil
		},
	}
	c.Flags().IntVar(&limitStack, "limit-stack", 0, "override the interpreter's value-stack limit")
	c.Flags().IntVar(&limitDepth, "limit-depth", 0, "override the interpreter's call-depth limit")
	c.Flags().StringVar(&entryArgs, "entry-args", "", "comma-separated arguments passed to the chunk's main function")
	c.Flags().BoolVar(&trace, "trace", false, "log each instruction before it executes, at debug level")
	return c
}

func newDumpCommand() *cobra.Command {
	var full bool
	var rawPC bool
	c := &cobra.Command{
		Use:                   "dump FILE",
		Short:                 "disassemble a precompiled chunk",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := loadFile(args[0])
			if err != nil {
				return err
			}
			printProto(cmd.OutOrStdout(), proto, full, rawPC)
			return nil
		},
	}
	c.Flags().BoolVarP(&full, "list", "l", false, "recursively dump nested prototypes")
	c.Flags().BoolVar(&rawPC, "raw-pc", false, "show zero-based PC values instead of one-based")
	return c
}

// parseEntryArgs turns a comma-separated command-line value into VM
// arguments, guessing integer, then float, then falling back to string —
// there is no surface-language reader to delegate this to.
func parseEntryArgs(s string) []vm.Value {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]vm.Value, len(parts))
	for i, p := range parts {
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			out[i] = vm.IntegerValue(n)
			continue
		}
		if f, err := strconv.ParseFloat(p, 64); err == nil {
			out[i] = vm.FloatValue(f)
			continue
		}
		out[i] = vm.StringValue(p)
	}
	return out
}
