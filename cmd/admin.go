package cmd

import (
	"fmt"
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

func (a *app) newCompactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite live entries into a fresh segment and drop stale data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				before, err := s.engine.Stats()
				if err != nil {
					return err
				}
				if err := s.engine.Compact(cmd.Context()); err != nil {
					return err
				}
				after, err := s.engine.Stats()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "compacted %d keys in %s: %d -> %d bytes\n",
					after.Keys, s.engine.Path(), before.DiskBytes, after.DiskBytes)
				return nil
			})
		},
	}
}

func (a *app) newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write every live key-value pair to a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				n, err := s.engine.Export(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d keys to %s\n", n, args[0])
				return nil
			})
		},
	}
}

func (a *app) newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Set every key-value pair from a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				n, err := s.engine.Import(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d keys from %s\n", n, args[0])
				return nil
			})
		},
	}
}

func (a *app) newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print storage metrics in Prometheus text format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				families, err := s.registry.Gather()
				if err != nil {
					return fmt.Errorf("failed to gather metrics: %w", err)
				}
				return writeMetrics(cmd.OutOrStdout(), families)
			})
		},
	}
}

func writeMetrics(w io.Writer, families []*dto.MetricFamily) error {
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}
