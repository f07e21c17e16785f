package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set the value of a string key to a string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				return s.engine.Set(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func (a *app) newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get the string value of a given string key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				value, found, err := s.engine.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !found {
					value = notFound
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}
}

func (a *app) newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a given key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				return s.engine.Remove(cmd.Context(), args[0])
			})
		},
	}
}
