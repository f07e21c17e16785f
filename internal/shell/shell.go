// Package shell implements the interactive read-eval-print loop over one open store.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sajjad-MoBe/kvs/internal/codec"
	kvErr "github.com/sajjad-MoBe/kvs/internal/errors"
	"github.com/sajjad-MoBe/kvs/internal/shared"
)

const (
	// Prompt is printed before every line is read.
	Prompt = ">>> "
	// Farewell is printed when the shell exits.
	Farewell = "Bye!"
	// NotFound is printed for get and rm of an absent key.
	NotFound = "Key not found"

	// maxLineSize fits a set of the largest key and value the codec accepts.
	maxLineSize = codec.MaxKeySize + codec.MaxValueSize + 1024
)

// Store is the part of the engine the shell drives.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Shell reads whitespace-separated commands from in and writes results to out.
type Shell struct {
	store  Store
	in     *bufio.Scanner
	out    io.Writer
	logger *shared.Logger
	done   bool
}

// New creates a shell over store.
func New(store Store, in io.Reader, out io.Writer, logger *shared.Logger) *Shell {
	if logger == nil {
		logger = shared.DefaultLogger
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Shell{
		store:  store,
		in:     scanner,
		out:    out,
		logger: logger,
	}
}

// commands builds a fresh command tree; flag values parsed by cobra would
// otherwise leak from one line into the next.
func (s *Shell) commands() *cobra.Command {
	root := &cobra.Command{
		Use:           "kvs",
		Short:         "KVS shell",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("invalid argument")
		},
	}
	root.SetOut(s.out)
	root.SetErr(s.out)

	root.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "get key from storage",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				value, found, err := s.store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !found {
					value = NotFound
				}
				fmt.Fprintln(s.out, value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "set key with given value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return s.store.Set(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "rm <key>",
			Short: "remove key-value pair from storage",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return s.store.Remove(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "exit",
			Short: "quit shell",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(s.out, Farewell)
				s.done = true
			},
		},
	)
	return root
}

// Run loops until exit, end of input or ctx cancellation. Command errors are
// printed and the loop continues; only failures to read input are returned.
func (s *Shell) Run(ctx context.Context) error {
	for !s.done {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(s.out, Prompt)
		if !s.in.Scan() {
			if err := s.in.Err(); err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			fmt.Fprintln(s.out)
			fmt.Fprintln(s.out, Farewell)
			return nil
		}

		s.Exec(ctx, s.in.Text())
	}
	return nil
}

// Exec runs one input line.
func (s *Shell) Exec(ctx context.Context, line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}

	err := s.execute(ctx, args)
	switch {
	case err == nil:
	case kvErr.IsKeyNotFound(err):
		fmt.Fprintln(s.out, NotFound)
	default:
		s.logger.Debug("shell command %q failed: %v", args[0], err)
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
}

func (s *Shell) execute(ctx context.Context, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kvErr.RecoverError(r)
		}
	}()

	root := s.commands()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// Done reports whether the exit command has been run.
func (s *Shell) Done() bool {
	return s.done
}
