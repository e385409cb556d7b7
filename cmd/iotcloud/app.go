package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/iotcloud/internal/api"
	"github.com/alexjbarnes/iotcloud/internal/cloud"
	"github.com/alexjbarnes/iotcloud/internal/config"
	"github.com/alexjbarnes/iotcloud/internal/keys"
	"github.com/alexjbarnes/iotcloud/internal/metrics"
	"github.com/alexjbarnes/iotcloud/internal/secretstore"
	"github.com/alexjbarnes/iotcloud/internal/session"
	"github.com/alexjbarnes/iotcloud/internal/tokenstore"
)

// secretService names the bolt bucket holding this tool's secrets.
const secretService = "iotcloud"

// app is the per-invocation object graph: one secret store, one key
// manager, one session, shared by every collaborator.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Transport
	cloud   *cloud.Client
	session *session.Session
	api     *api.Client
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	secrets, err := a.openSecrets(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	km := keys.NewManager(secrets, logger, keys.WithAlgorithm(cfg.Algorithm()))
	tokens := tokenstore.New(secrets, km, "", logger)

	a.metrics = metrics.NewTransport()
	a.cloud = cloud.NewClient(cloud.Config{
		BaseURL:          cfg.APIURL,
		RequestTimeout:   cfg.RequestTimeout,
		EventIdleTimeout: cfg.EventIdleTimeout,
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		Recorder:         a.metrics,
	}, logger)
	a.session = session.New(a.cloud, tokens, logger)
	a.api = api.New(a.cloud, a.session, logger)

	if err := a.session.Restore(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("restoring session: %w", err)
	}

	return a, nil
}

func (a *app) openSecrets(ctx context.Context) (secretstore.Store, error) {
	var store secretstore.Store

	switch a.cfg.SecretBackend {
	case config.BackendMemory:
		store = secretstore.NewMemory()
	default:
		if err := os.MkdirAll(a.cfg.StateDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}

		bolt, err := secretstore.OpenBolt(filepath.Join(a.cfg.StateDir, secretstore.FileName), secretService)
		if err != nil {
			return nil, fmt.Errorf("opening secret store: %w", err)
		}

		a.closers = append(a.closers, bolt.Close)
		store = bolt
	}

	if a.cfg.SecretKeeperURL == "" {
		return store, nil
	}

	keeper, err := secretstore.OpenKeeperStore(ctx, store, a.cfg.SecretKeeperURL)
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, keeper.Close)

	return keeper, nil
}

// Close releases stores in reverse open order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}

	a.closers = nil

	return errors.Join(errs...)
}

// serveMetrics exposes Prometheus metrics until ctx ends. A blank addr
// disables the endpoint.
func (a *app) serveMetrics(ctx context.Context) error {
	if a.cfg.MetricsAddr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())

	server := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	a.logger.Info("serving metrics", slog.String("listen", a.cfg.MetricsAddr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server error: %w", err)
	}

	return nil
}
