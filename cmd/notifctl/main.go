// notifctl administers clients and notification types and sends
// notifications directly against the configured storage backend.
//
// Usage:
//
//	notifctl client create user@example.com
//	notifctl type create News --max 1 --window 1440
//	notifctl send --type News --client <client-id> --message "hello"
//	notifctl log list --client <client-id> -o json
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"notifgate/internal/app"
	"notifgate/internal/common"
	"notifgate/internal/config"

	"github.com/spf13/cobra"
)

var version = "dev"

// cli carries the global flags and how commands reach the services.
type cli struct {
	configPath string
	output     string
	out        io.Writer
	open       func(ctx context.Context, configPath string) (*app.App, error)
}

func main() {
	c := &cli{out: os.Stdout, open: openApp}

	if err := newRootCmd(c).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "notifctl",
		Short: "Manage clients, notification types and rate-limited sends",
		Long: `notifctl talks to the configured storage backend directly, applying the
same validation and rate limits as the HTTP API.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to a config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "Output format: table, json")

	rootCmd.AddCommand(clientCmd(c))
	rootCmd.AddCommand(typeCmd(c))
	rootCmd.AddCommand(sendCmd(c))
	rootCmd.AddCommand(logCmd(c))

	return rootCmd
}

func openApp(ctx context.Context, configPath string) (*app.App, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, err
	}
	logger := common.NewLogger(os.Stderr, "warn", cfg.Log.Format)
	return app.New(ctx, cfg, logger)
}

// run opens the services, calls fn and prints what it returns.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := c.open(ctx, c.configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	v, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return c.print(v)
}
