package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexjbarnes/iotcloud/internal/mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errClientGone = errors.New("mcp client disconnected")

func (c *cli) mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve cloud tools to an MCP client over stdio",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = c.withApp(func(ctx context.Context, _ *cobra.Command, _ []string, a *app) error {
		server := newMCPServer(a)

		a.logger.Info("mcp server starting on stdio")

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return a.serveMetrics(gctx)
		})

		g.Go(func() error {
			if err := server.Run(gctx, &mcp.StdioTransport{}); err != nil && gctx.Err() == nil {
				return fmt.Errorf("mcp server: %w", err)
			}

			// Stdin closed: stop the metrics listener too.
			return errClientGone
		})

		if err := g.Wait(); err != nil && !errors.Is(err, errClientGone) {
			return err
		}

		return nil
	})

	return cmd
}

func newMCPServer(a *app) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "iotcloud", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(server, a.session, a.api)

	return server
}
