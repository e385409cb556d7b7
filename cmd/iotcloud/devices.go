package main

import (
	"context"
	"fmt"

	"github.com/alexjbarnes/iotcloud/internal/models"
	"github.com/spf13/cobra"
)

func (c *cli) devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices [DEVICE...]",
		Short: "List devices, or show the named devices in detail",
	}

	cmd.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		var (
			devices []models.Device
			err     error
		)

		if len(args) == 0 {
			devices, err = a.api.ListDevices(ctx)
		} else {
			devices, err = a.api.GetDevices(ctx, args)
		}

		if err != nil {
			return fmt.Errorf("listing devices: %w", err)
		}

		return c.print(cmd, devices)
	})

	return cmd
}

func (c *cli) callCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call DEVICE FUNCTION [ARGUMENT]",
		Short: "Call a cloud function on a device",
		Args:  cobra.RangeArgs(2, 3),
	}

	cmd.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		var arg string
		if len(args) == 3 {
			arg = args[2]
		}

		res, err := a.api.CallFunction(ctx, args[0], args[1], arg)
		if err != nil {
			return fmt.Errorf("calling %s on %s: %w", args[1], args[0], err)
		}

		return c.print(cmd, res)
	})

	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get DEVICE VARIABLE",
		Short: "Read a cloud variable from a device",
		Args:  cobra.ExactArgs(2),
	}

	cmd.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		res, err := a.api.GetVariable(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("reading %s from %s: %w", args[1], args[0], err)
		}

		return c.print(cmd, res)
	})

	return cmd
}

func (c *cli) publishCmd() *cobra.Command {
	var (
		public bool
		ttl    int
	)

	cmd := &cobra.Command{
		Use:   "publish NAME [DATA]",
		Short: "Publish an event to the account's event stream",
		Args:  cobra.RangeArgs(1, 2),
	}

	cmd.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		req := models.PublishRequest{Name: args[0], Private: !public, TTL: ttl}
		if len(args) == 2 {
			req.Data = args[1]
		}

		res, err := a.api.PublishEvent(ctx, req)
		if err != nil {
			return fmt.Errorf("publishing %s: %w", req.Name, err)
		}

		return c.print(cmd, res)
	})

	cmd.Flags().BoolVar(&public, "public", false, "publish to the public stream")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "event lifetime in seconds, 0 for the server default")

	return cmd
}

func (c *cli) productsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List products the account belongs to",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
		products, err := a.api.ListProducts(ctx)
		if err != nil {
			return fmt.Errorf("listing products: %w", err)
		}

		return c.print(cmd, products)
	})

	return cmd
}

func (c *cli) simsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sims",
		Short: "List SIM cards owned by the account",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
		sims, err := a.api.ListSIMCards(ctx)
		if err != nil {
			return fmt.Errorf("listing sim cards: %w", err)
		}

		return c.print(cmd, sims)
	})

	return cmd
}

func (c *cli) webhooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Manage webhooks",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List webhooks",
		Args:  cobra.NoArgs,
	}
	list.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
		hooks, err := a.api.ListWebhooks(ctx)
		if err != nil {
			return fmt.Errorf("listing webhooks: %w", err)
		}

		return c.print(cmd, hooks)
	})

	var (
		requestType string
		deviceID    string
	)

	create := &cobra.Command{
		Use:   "create EVENT URL",
		Short: "Forward events whose name starts with EVENT to URL",
		Args:  cobra.ExactArgs(2),
	}
	create.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		res, err := a.api.CreateWebhook(ctx, models.WebhookRequest{
			Event:       args[0],
			URL:         args[1],
			RequestType: requestType,
			DeviceID:    deviceID,
		})
		if err != nil {
			return fmt.Errorf("creating webhook: %w", err)
		}

		return c.print(cmd, res)
	})
	create.Flags().StringVar(&requestType, "method", "POST", "HTTP method the webhook uses")
	create.Flags().StringVar(&deviceID, "device", "", "only forward events from this device")

	remove := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a webhook",
		Args:  cobra.ExactArgs(1),
	}
	remove.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		res, err := a.api.DeleteWebhook(ctx, args[0])
		if err != nil {
			return fmt.Errorf("deleting webhook: %w", err)
		}

		return c.print(cmd, res)
	})

	cmd.AddCommand(list, create, remove)

	return cmd
}
