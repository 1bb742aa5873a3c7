package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/memeplatform/memeops/internal/web"
)

func (c *CLI) newServeCmd() *cobra.Command {
	var addr, root string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the single-page application",
		Long: `Serve the pre-built single-page application.

Existing files are served directly. Any other path without a file extension
returns index.html so client-side routes resolve. Hashed assets under
/assets/ are cached immutably; index.html is never cached.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			if root != "" {
				c.cfg.Server.Root = root
			}
			return c.runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	cmd.Flags().StringVar(&root, "root", "", "directory to serve (default from server.root)")
	return cmd
}

func (c *CLI) runServe(ctx context.Context) error {
	if err := c.cfg.ValidateServer(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(c.cfg.Server.Root, "index.html")); err != nil {
		c.errorf("⚠ %s has no index.html; run 'memeops dist copy' after the SPA build\n", c.cfg.Server.Root)
	}

	c.printf("Serving %s on %s\n", c.cfg.Server.Root, c.cfg.Server.Addr)
	return web.NewServer(c.cfg.Server, c.logger).ListenAndServe(ctx)
}

func (c *CLI) newDistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dist",
		Short: "Manage the served SPA build",
	}

	var from, to string
	copyCmd := &cobra.Command{
		Use:   "copy",
		Short: "Replace the served directory with the SPA build output",
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				to = c.cfg.Server.Root
			}
			n, err := web.CopyDist(from, to)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return c.outputJSON(map[string]interface{}{"from": from, "to": to, "files": n})
			}
			c.printf("✓ Copied %d files from %s to %s\n", n, from, to)
			return nil
		},
	}
	copyCmd.Flags().StringVar(&from, "from", "build", "SPA build output directory")
	copyCmd.Flags().StringVar(&to, "to", "", "served directory (default from server.root)")
	cmd.AddCommand(copyCmd)

	return cmd
}
