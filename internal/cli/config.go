package cli

import (
	"github.com/spf13/cobra"

	"github.com/memeplatform/memeops/internal/config"
)

func (c *CLI) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage memeops configuration",
	}

	var dir string
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a configuration template",
		Long:        `Write memeops.yaml with every setting and its default. Secrets are left empty.`,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteTemplate(dir)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return c.outputJSON(map[string]interface{}{"path": path})
			}
			c.printf("✓ Wrote %s\n", path)
			c.println("  Set MONGODB_URI and POSTGRES_PASSWORD before running 'memeops migrate run'")
			return nil
		},
	}
	initCmd.Flags().StringVar(&dir, "dir", ".", "directory to write memeops.yaml into")
	cmd.AddCommand(initCmd)

	return cmd
}
