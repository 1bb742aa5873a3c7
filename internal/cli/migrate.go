package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/memeplatform/memeops/internal/migrator"
	"github.com/memeplatform/memeops/internal/observability"
	"github.com/memeplatform/memeops/internal/records"
	"github.com/memeplatform/memeops/internal/source"
	"github.com/memeplatform/memeops/internal/storage"
)

func (c *CLI) newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate platform data from MongoDB to PostgreSQL",
		Long: `Migrate tokens, trades and users from the source MongoDB database
into the destination PostgreSQL database.

Kinds are migrated in the fixed order Token, Trade, User. The first error
aborts the run. Every inserted row advances a checkpoint, so a failed run can
be resumed simply by running it again.`,
	}

	cmd.AddCommand(c.newMigrateRunCmd())
	cmd.AddCommand(c.newMigrateStatusCmd())
	cmd.AddCommand(c.newMigrateCheckpointCmd())
	cmd.AddCommand(c.newMigrateSchemaCmd())

	return cmd
}

func (c *CLI) newMigrateRunCmd() *cobra.Command {
	var reportPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the migration",
		Long: `Run the migration once.

Exit code 0 means every kind was migrated; exit code 1 means the run failed
and the destination holds a prefix of the data. Running again resumes from
the checkpoint. A completed migration is never repeated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runMigrate(cmd.Context(), reportPath)
		},
	}

	cmd.Flags().StringVar(&reportPath, "report", "", "write the run report to a .json or .yaml file")
	return cmd
}

func (c *CLI) runMigrate(ctx context.Context, reportPath string) error {
	if reportPath != "" {
		if _, err := observability.FormatForPath(reportPath); err != nil {
			return err
		}
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	c.warnPlaceholders()

	if timeout := c.cfg.Migration.RunTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// The source is connected first; if it fails the destination is never
	// contacted.
	src, err := c.openers.Source(ctx, c.cfg.Source)
	if err != nil {
		c.errorf("✗ Migration failed: cannot connect to source\n")
		return err
	}
	defer src.Close(context.Background())
	c.printf("✓ Connected to source (database %s)\n", c.sourceDatabase())

	dst, err := c.openers.Destination(ctx, c.cfg.Destination)
	if err != nil {
		c.errorf("✗ Migration failed: cannot connect to destination\n")
		return err
	}
	defer dst.Close()
	c.printf("✓ Connected to destination (%s)\n", c.cfg.Destination.Redacted())

	if c.cfg.Migration.ApplySchema {
		if err := c.applySchema(ctx, dst); err != nil {
			c.errorf("✗ Migration failed: cannot apply destination schema\n")
			return err
		}
	}

	runner := migrator.New(src, dst,
		migrator.WithLogger(c.logger),
		migrator.WithRateLimit(c.cfg.Migration.InsertsPerSecond),
		migrator.WithProgress(func(k migrator.KindReport) {
			if k.Skipped > 0 {
				c.printf("  Migrated %d %s (%d already present)\n", k.Migrated, k.Kind.Table(), k.Skipped)
				return
			}
			c.printf("  Migrated %d %s\n", k.Migrated, k.Kind.Table())
		}),
	)

	report, runErr := runner.Run(ctx)

	if reportPath != "" {
		if err := observability.WriteReport(reportPath, report); err != nil {
			c.logger.Error("failed to write report", zap.String("path", reportPath), zap.Error(err))
			if runErr == nil {
				return err
			}
		}
	}

	if c.jsonOutput {
		if err := c.outputJSON(report); err != nil {
			return err
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			c.errorf("✗ Migration failed: timed out after %s\n", c.cfg.Migration.RunTimeout())
		} else {
			c.errorf("✗ Migration failed after %d rows\n", report.Total())
		}
		return runErr
	}

	c.println("")
	c.printf("✓ Migration completed successfully (%d rows in %s)\n", report.Total(), report.Duration().Round(time.Millisecond))
	return nil
}

func (c *CLI) sourceDatabase() string {
	name, err := source.DatabaseName(c.cfg.Source)
	if err != nil {
		return "unknown"
	}
	return name
}

func (c *CLI) applySchema(ctx context.Context, dst storage.Destination) error {
	sm, ok := dst.(schemaManager)
	if !ok {
		return nil
	}
	applied, err := sm.ApplySchema(ctx)
	if err != nil {
		return err
	}
	for _, name := range applied {
		c.logger.Info("applied schema migration", zap.String("migration", name))
	}
	return nil
}

// MigrationStatus is the JSON output of 'migrate status'.
type MigrationStatus struct {
	Rows       map[records.Kind]int64 `json:"rows"`
	Checkpoint *storage.Checkpoint    `json:"checkpoint"`
	Runs       []storage.RunRecord    `json:"runs"`
}

func (c *CLI) newMigrateStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show destination row counts, checkpoint and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runMigrateStatus(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 5, "number of recent runs to show")
	return cmd
}

func (c *CLI) runMigrateStatus(ctx context.Context, limit int) error {
	dst, err := c.openDestination(ctx)
	if err != nil {
		return err
	}
	defer dst.Close()

	status := MigrationStatus{Rows: make(map[records.Kind]int64)}
	for _, kind := range records.Kinds() {
		n, err := dst.CountRows(ctx, kind)
		if err != nil {
			return err
		}
		status.Rows[kind] = n
	}
	if status.Checkpoint, err = dst.LoadCheckpoint(ctx); err != nil {
		return err
	}
	if status.Runs, err = dst.ListRuns(ctx, limit); err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(status)
	}

	c.println("Destination rows:")
	for _, kind := range records.Kinds() {
		c.printf("  %-8s %d\n", kind.Table(), status.Rows[kind])
	}
	c.println("")
	c.printCheckpoint(status.Checkpoint)
	c.println("")

	if len(status.Runs) == 0 {
		c.println("No runs recorded")
		return nil
	}
	c.println("Recent runs:")
	for _, run := range status.Runs {
		result := "✓"
		if !run.Success {
			result = "✗"
		}
		c.printf("  %s %s  %s  tokens=%d trades=%d users=%d\n",
			result, run.RunID, run.StartedAt.Format(time.RFC3339),
			run.Counts[records.KindToken], run.Counts[records.KindTrade], run.Counts[records.KindUser])
		if run.Error != "" {
			c.printf("    → %s\n", firstLine(run.Error))
		}
	}
	return nil
}

func (c *CLI) printCheckpoint(cp *storage.Checkpoint) {
	if cp == nil {
		c.println("Checkpoint: none")
		return
	}
	c.printf("Checkpoint: %s\n", cp.Status)
	c.printf("  Run:     %s\n", cp.RunID)
	c.printf("  Kind:    %s\n", cp.Kind)
	c.printf("  Offset:  %d\n", cp.Offset)
	c.printf("  Updated: %s\n", cp.UpdatedAt.Format(time.RFC3339))
}

func (c *CLI) newMigrateCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or clear the migration checkpoint",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCheckpointShow(cmd.Context())
		},
	})

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored checkpoint",
		Long: `Remove the stored checkpoint. Migrated rows are not deleted.

Without a checkpoint the next run starts from the beginning and refuses to
write into non-empty tables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the checkpoint without --yes")
			}
			return c.runCheckpointClear(cmd.Context())
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing the checkpoint")
	cmd.AddCommand(clearCmd)

	return cmd
}

func (c *CLI) runCheckpointShow(ctx context.Context) error {
	dst, err := c.openDestination(ctx)
	if err != nil {
		return err
	}
	defer dst.Close()

	cp, err := dst.LoadCheckpoint(ctx)
	if err != nil {
		return err
	}
	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{"checkpoint": cp})
	}
	c.printCheckpoint(cp)
	return nil
}

func (c *CLI) runCheckpointClear(ctx context.Context) error {
	dst, err := c.openDestination(ctx)
	if err != nil {
		return err
	}
	defer dst.Close()

	if err := dst.ClearCheckpoint(ctx); err != nil {
		return err
	}
	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{"cleared": true})
	}
	c.println("✓ Checkpoint cleared (migrated rows were not deleted)")
	return nil
}

func (c *CLI) newMigrateSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Apply the destination schema",
		Long: `Apply the embedded schema migrations to the destination database.
Applied versions are tracked in schema_migrations; running twice is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runMigrateSchema(cmd.Context())
		},
	}
}

func (c *CLI) runMigrateSchema(ctx context.Context) error {
	dst, err := c.openDestination(ctx)
	if err != nil {
		return err
	}
	defer dst.Close()

	sm, ok := dst.(schemaManager)
	if !ok {
		return fmt.Errorf("destination does not manage its schema")
	}
	applied, err := sm.ApplySchema(ctx)
	if err != nil {
		return err
	}
	if applied == nil {
		applied = []string{}
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{"applied": applied})
	}
	if len(applied) == 0 {
		c.println("✓ Schema is up to date")
		return nil
	}
	for _, name := range applied {
		c.printf("✓ Applied %s\n", name)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
