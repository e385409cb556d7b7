package main

import (
	"context"
	"fmt"

	"github.com/alexjbarnes/iotcloud/internal/config"
	"github.com/alexjbarnes/iotcloud/internal/logging"
	"github.com/spf13/cobra"
)

// cli carries flags shared by every subcommand.
type cli struct {
	output string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "iotcloud",
		Short:         "Command line client for the device cloud",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&c.output, "output", "o", formatYAML, "output format: yaml or json")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.statusCmd(),
		c.devicesCmd(),
		c.callCmd(),
		c.getCmd(),
		c.publishCmd(),
		c.eventsCmd(),
		c.productsCmd(),
		c.simsCmd(),
		c.webhooksCmd(),
		c.mcpCmd(),
	)

	return root
}

type runFunc func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error

// withApp loads configuration, assembles the app, restores the session,
// and closes the stores once fn returns.
func (c *cli) withApp(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(c.output); err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

		ctx := cmd.Context()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		return fn(ctx, cmd, args, a)
	}
}

func (c *cli) print(cmd *cobra.Command, v any) error {
	return render(cmd.OutOrStdout(), c.output, v)
}
