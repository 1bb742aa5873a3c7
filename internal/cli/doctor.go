package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memeplatform/memeops/internal/storage"
)

const doctorTimeout = 5 * time.Second

func (c *CLI) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run system diagnostics",
		Long: `Run comprehensive system diagnostics.

Checks:
  - configuration and placeholder values
  - connectivity to the source store
  - connectivity to the destination store
  - destination schema and checkpoint
  - the served SPA directory`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDoctor(cmd.Context())
		},
	}
}

func (c *CLI) runDoctor(ctx context.Context) error {
	c.println("memeops System Diagnostics")
	c.println("==========================")
	c.println("")

	checks := []DiagnosticCheck{}
	allPassed := true
	record := func(check DiagnosticCheck) {
		checks = append(checks, check)
		if !check.Passed {
			allPassed = false
		}
		c.printCheck(check)
	}

	record(c.checkConfig())
	record(c.checkSource(ctx))

	dstCheck, dst := c.checkDestination(ctx)
	record(dstCheck)
	if dst != nil {
		defer dst.Close()
		record(c.checkSchema(ctx, dst))
		record(c.checkCheckpoint(ctx, dst))
	}

	record(c.checkWebRoot())

	c.println("")

	if c.jsonOutput {
		if err := c.outputJSON(map[string]interface{}{
			"checks":     checks,
			"all_passed": allPassed,
		}); err != nil {
			return err
		}
	}

	if !allPassed {
		c.println("✗ Some checks failed - see above for details")
		return fmt.Errorf("diagnostics failed")
	}
	c.println("✓ All checks passed")
	return nil
}

// DiagnosticCheck represents a single diagnostic check result.
type DiagnosticCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (c *CLI) printCheck(check DiagnosticCheck) {
	status := "✗"
	if check.Passed {
		status = "✓"
	}
	c.printf("%s %s: %s\n", status, check.Name, check.Message)
	if check.Details != "" {
		c.printf("  → %s\n", check.Details)
	}
}

func (c *CLI) checkConfig() DiagnosticCheck {
	check := DiagnosticCheck{Name: "Configuration"}

	if err := c.cfg.Validate(); err != nil {
		check.Message = "Invalid configuration"
		check.Details = firstLine(err.Error())
		return check
	}

	check.Passed = true
	check.Message = "Source and destination configured"
	if warnings := c.cfg.Warnings(); len(warnings) > 0 {
		check.Message = fmt.Sprintf("Valid with %d placeholder value(s)", len(warnings))
		check.Details = strings.Join(warnings, "; ")
	}
	return check
}

func (c *CLI) checkSource(ctx context.Context) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Source Connectivity"}

	if c.cfg.Source.URI == "" {
		check.Message = "No source URI configured"
		check.Details = "Set MONGODB_URI or source.uri"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()
	src, err := c.openers.Source(ctx, c.cfg.Source)
	if err != nil {
		check.Message = "Cannot connect to source"
		check.Details = firstLine(err.Error())
		return check
	}
	defer src.Close(context.Background())

	check.Passed = true
	check.Message = fmt.Sprintf("Connected to database %s", c.sourceDatabase())
	return check
}

func (c *CLI) checkDestination(ctx context.Context) (DiagnosticCheck, storage.Destination) {
	check := DiagnosticCheck{Name: "Destination Connectivity"}

	if err := c.cfg.ValidateDestination(); err != nil {
		check.Message = "Destination not configured"
		check.Details = firstLine(err.Error())
		return check, nil
	}

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()
	dst, err := c.openers.Destination(ctx, c.cfg.Destination)
	if err != nil {
		check.Message = "Cannot connect to destination"
		check.Details = firstLine(err.Error())
		return check, nil
	}

	check.Passed = true
	check.Message = fmt.Sprintf("Connected to %s", c.cfg.Destination.Redacted())
	return check, dst
}

func (c *CLI) checkSchema(ctx context.Context, dst storage.Destination) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Destination Schema"}

	sm, ok := dst.(schemaManager)
	if !ok {
		check.Passed = true
		check.Message = "Managed externally"
		return check
	}
	pending, err := sm.PendingSchema(ctx)
	if err != nil {
		check.Message = "Cannot read schema_migrations"
		check.Details = firstLine(err.Error())
		return check
	}
	if len(pending) > 0 {
		check.Message = fmt.Sprintf("%d pending migration(s)", len(pending))
		check.Details = "Run 'memeops migrate schema'"
		return check
	}

	check.Passed = true
	check.Message = "Up to date"
	return check
}

func (c *CLI) checkCheckpoint(ctx context.Context, dst storage.Destination) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Migration Checkpoint"}

	cp, err := dst.LoadCheckpoint(ctx)
	if err != nil {
		check.Message = "Cannot read checkpoint"
		check.Details = firstLine(err.Error())
		return check
	}

	check.Passed = true
	switch {
	case cp == nil:
		check.Message = "None; the next run starts from the beginning"
	case cp.Status == storage.CheckpointCompleted:
		check.Message = fmt.Sprintf("Migration completed by run %s", cp.RunID)
	default:
		check.Message = fmt.Sprintf("Run %s interrupted at %s #%d; the next run resumes", cp.RunID, cp.Kind, cp.Offset)
	}
	return check
}

func (c *CLI) checkWebRoot() DiagnosticCheck {
	check := DiagnosticCheck{Name: "SPA Directory"}

	index := filepath.Join(c.cfg.Server.Root, "index.html")
	if _, err := os.Stat(index); err != nil {
		check.Message = fmt.Sprintf("No index.html in %s", c.cfg.Server.Root)
		check.Details = "Run 'memeops dist copy --from <build> --to " + c.cfg.Server.Root + "'"
		return check
	}

	check.Passed = true
	check.Message = fmt.Sprintf("Serving %s", c.cfg.Server.Root)
	return check
}
