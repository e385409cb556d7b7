package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/iotcloud/internal/cloud"
	"github.com/alexjbarnes/iotcloud/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (c *cli) eventsCmd() *cobra.Command {
	var scope cloud.EventScope

	cmd := &cobra.Command{
		Use:   "events [PREFIX]",
		Short: "Stream events until interrupted",
		Long: `Stream server-sent events, one document per event, until interrupted.

Without flags the public stream is used. The stream reconnects after
network timeouts and ends on any other error.`,
		Args: cobra.MaximumNArgs(1),
	}

	cmd.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		if len(args) == 1 {
			scope.Prefix = args[0]
		}

		out := cmd.OutOrStdout()

		sub, err := a.api.SubscribeEvents(ctx, scope, func(ev models.Event) {
			if err := render(out, c.output, ev); err != nil {
				a.logger.Warn("writing event", slog.String("event", ev.Name), slog.String("error", err.Error()))
			}
		}, nil)
		if err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
		defer sub.Close()

		a.logger.Info("streaming events",
			slog.String("device", scope.DeviceID),
			slog.String("product", scope.Product),
			slog.Bool("mine", scope.Mine),
			slog.String("prefix", scope.Prefix),
		)

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return a.serveMetrics(gctx)
		})

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-sub.Done():
				if err := sub.Err(); err != nil {
					return fmt.Errorf("event stream: %w", err)
				}

				return nil
			}
		})

		return g.Wait()
	})

	cmd.Flags().StringVar(&scope.DeviceID, "device", "", "only events from this device")
	cmd.Flags().StringVar(&scope.Product, "product", "", "only events from this product, by ID or slug")
	cmd.Flags().BoolVar(&scope.Mine, "mine", false, "only events from the account's own devices")

	return cmd
}
