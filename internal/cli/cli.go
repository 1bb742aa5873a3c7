// Package cli provides the command-line interface for memeops.
// The CLI runs the migration, serves the SPA, and diagnoses the stores.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/memeplatform/memeops/internal/config"
	"github.com/memeplatform/memeops/internal/observability"
	"github.com/memeplatform/memeops/internal/source"
	"github.com/memeplatform/memeops/internal/storage"
)

// Exit codes. Any failure exits with ExitFailure.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "memeops/skip-config"

// Openers connect to the stores. They are replaced in tests.
type Openers struct {
	Source      func(ctx context.Context, cfg config.SourceConfig) (source.Source, error)
	Destination func(ctx context.Context, cfg config.DatabaseConfig) (storage.Destination, error)
}

// DefaultOpeners connect to MongoDB and PostgreSQL.
func DefaultOpeners() Openers {
	return Openers{
		Source: func(ctx context.Context, cfg config.SourceConfig) (source.Source, error) {
			return source.OpenMongo(ctx, cfg)
		},
		Destination: func(ctx context.Context, cfg config.DatabaseConfig) (storage.Destination, error) {
			return storage.OpenPostgres(ctx, cfg.DSN())
		},
	}
}

// schemaManager is implemented by destinations that own their schema.
type schemaManager interface {
	ApplySchema(ctx context.Context) ([]string, error)
	PendingSchema(ctx context.Context) ([]string, error)
}

// CLI holds the command-line interface state.
type CLI struct {
	rootCmd *cobra.Command
	cfg     *config.Config
	logger  *zap.Logger
	openers Openers
	out     io.Writer
	errOut  io.Writer

	// Global flags
	configPath string
	envFiles   []string
	jsonOutput bool
	quiet      bool
	debug      bool
}

// Option configures a CLI.
type Option func(*CLI)

// WithOpeners replaces the store openers.
func WithOpeners(o Openers) Option {
	return func(c *CLI) { c.openers = o }
}

// WithOutput redirects standard and error output.
func WithOutput(out, errOut io.Writer) Option {
	return func(c *CLI) {
		c.out = out
		c.errOut = errOut
	}
}

// New creates a new CLI instance.
func New(opts ...Option) *CLI {
	c := &CLI{
		openers: DefaultOpeners(),
		out:     os.Stdout,
		errOut:  os.Stderr,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rootCmd = c.newRootCmd()
	return c
}

// Execute runs the CLI with the process arguments and returns the exit code.
func (c *CLI) Execute() int {
	return c.Run(os.Args[1:])
}

// Run runs the CLI with args and returns the exit code.
func (c *CLI) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.rootCmd.SetArgs(args)
	err := c.rootCmd.ExecuteContext(ctx)
	_ = c.logger.Sync()
	if err != nil {
		c.errorf("Error: %v\n", err)
		return ExitFailure
	}
	return ExitSuccess
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memeops",
		Short: "memeops - operations toolkit for the meme token platform",
		Long: `memeops operates the meme token platform.

It provides:
  • A one-shot migration of tokens, trades and users from MongoDB to PostgreSQL
  • Checkpoint inspection and schema management for the destination
  • A static server for the single-page application
  • Diagnostics for every configured store`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return c.initConfig()
		},
	}
	cmd.SetOut(c.out)
	cmd.SetErr(c.errOut)

	// Global flags
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ./memeops.yaml or ~/.memeops/memeops.yaml)")
	cmd.PersistentFlags().StringSliceVar(&c.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment")
	cmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "verbose debug logs")

	cmd.AddCommand(c.newMigrateCmd())
	cmd.AddCommand(c.newServeCmd())
	cmd.AddCommand(c.newDistCmd())
	cmd.AddCommand(c.newDoctorCmd())
	cmd.AddCommand(c.newConfigCmd())
	cmd.AddCommand(c.newVersionCmd())

	return cmd
}

func (c *CLI) initConfig() error {
	cfg, err := config.Load(c.configPath, c.envFiles...)
	if err != nil {
		return err
	}
	c.cfg = cfg

	// Override with flags
	logging := cfg.Logging
	switch {
	case c.debug:
		logging.Level = "debug"
	case c.quiet:
		logging.Level = "warn"
	}
	logger, err := observability.NewLogger(logging, c.errOut)
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

// warnPlaceholders reports placeholder config values in use.
func (c *CLI) warnPlaceholders() {
	for _, w := range c.cfg.Warnings() {
		c.logger.Warn("configuration placeholder in use", zap.String("warning", w))
	}
}

// Helper functions for output

func (c *CLI) printf(format string, args ...interface{}) {
	if !c.quiet && !c.jsonOutput {
		fmt.Fprintf(c.out, format, args...)
	}
}

func (c *CLI) println(args ...interface{}) {
	if !c.quiet && !c.jsonOutput {
		fmt.Fprintln(c.out, args...)
	}
}

func (c *CLI) errorf(format string, args ...interface{}) {
	fmt.Fprintf(c.errOut, format, args...)
}

func (c *CLI) outputJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openDestination validates the destination config and connects.
func (c *CLI) openDestination(ctx context.Context) (storage.Destination, error) {
	if err := c.cfg.ValidateDestination(); err != nil {
		return nil, err
	}
	c.warnPlaceholders()
	return c.openers.Destination(ctx, c.cfg.Destination)
}
