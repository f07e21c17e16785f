package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sajjad-MoBe/kvs/internal/api"
	"github.com/sajjad-MoBe/kvs/internal/config"
	kvErr "github.com/sajjad-MoBe/kvs/internal/errors"
	"github.com/sajjad-MoBe/kvs/internal/shared"
	"github.com/sajjad-MoBe/kvs/internal/storage"
)

const (
	// Version is reported by --version
	Version = "0.1.0"

	defaultDB   = "kvs.db"
	serviceName = "kvs"
	notFound    = "Key not found"
)

// app carries the persistent flags shared by every subcommand
type app struct {
	dbPath     string
	configPath string
	verbose    bool
}

// session is one opened engine plus everything hanging off it
type session struct {
	engine   *storage.Engine
	config   *config.Config
	logger   *shared.Logger
	registry *prometheus.Registry
	tracer   *api.Tracer
}

// NewRootCommand builds the kvs command tree
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "kvs",
		Short: "An embedded log-structured key-value store",
		Long: `kvs stores string keys and values in an append-only command log on disk.
Overwritten and removed entries are reclaimed by compaction.`,
		Version:       Version,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Arguments are valid by now; runtime failures should not print usage.
			cmd.SilenceUsage = true
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.dbPath, "db", "d", defaultDB, "Directory holding the store's log segments")
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		a.newSetCommand(),
		a.newGetCommand(),
		a.newRemoveCommand(),
		a.newShellCommand(),
		a.newCompactCommand(),
		a.newExportCommand(),
		a.newImportCommand(),
		a.newStatsCommand(),
	)
	return rootCmd
}

// Execute runs the CLI against the process arguments and exits on failure
func Execute() {
	os.Exit(Run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// Run executes the command line args and returns the process exit code
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if kvErr.IsKeyNotFound(err) {
			fmt.Fprintln(stderr, notFound)
		} else {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

// loadConfig returns defaults overlaid with the optional config file
func (a *app) loadConfig() (*config.Config, error) {
	cfg := config.New()
	if a.configPath == "" {
		return cfg, nil
	}
	if err := cfg.Load(a.configPath); err != nil {
		return nil, kvErr.New(kvErr.ErrorTypeInvalidInput, "failed to load configuration", err)
	}
	return cfg, nil
}

// open loads configuration, sets up logging, metrics and tracing, and opens
// the engine. The caller must close the returned session.
func (a *app) open(cmd *cobra.Command) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	level, err := shared.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, kvErr.New(kvErr.ErrorTypeInvalidInput, "invalid log_level", err)
	}
	if a.verbose {
		level = shared.DEBUG
	}
	logger := shared.NewLoggerTo(cmd.ErrOrStderr(), level)

	s := &session{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	opts := []storage.Option{
		storage.WithConfig(cfg),
		storage.WithLogger(logger),
		storage.WithRegisterer(s.registry),
	}
	if cfg.JaegerEndpoint != "" {
		tracer, err := api.NewTracer(serviceName, cfg.JaegerEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		s.tracer = tracer
		opts = append(opts, storage.WithTracer(tracer.Tracer()))
		logger.Debug("exporting traces to %s", cfg.JaegerEndpoint)
	}

	engine, err := storage.Open(a.dbPath, opts...)
	if err != nil {
		s.shutdownTracer(cmd.Context())
		return nil, err
	}
	s.engine = engine
	return s, nil
}

func (s *session) shutdownTracer(ctx context.Context) {
	if s.tracer == nil {
		return
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		s.logger.Warn("failed to flush traces: %v", err)
	}
}

// Close closes the engine and flushes traces
func (s *session) Close(ctx context.Context) error {
	err := s.engine.Close()
	s.shutdownTracer(ctx)
	return err
}

// withSession opens the store, runs fn and always closes the store again
func (a *app) withSession(cmd *cobra.Command, fn func(*session) error) (err error) {
	s, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(cmd.Context()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}
