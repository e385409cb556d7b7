// Package api holds the resource-level operations built on the cloud
// transport. Every call reads the session's current token first and
// fails with an AuthError, without any network I/O, when there is none.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/alexjbarnes/iotcloud/internal/cloud"
	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
	"github.com/alexjbarnes/iotcloud/internal/models"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentFetches bounds parallel device lookups.
const maxConcurrentFetches = 4

// TokenSource yields the current token snapshot. *session.Session
// satisfies it.
type TokenSource interface {
	CurrentToken() *models.AccessToken
}

// Client performs resource operations for the signed-in user.
type Client struct {
	cloud  *cloud.Client
	tokens TokenSource
	logger *slog.Logger
}

// New creates a resource client.
func New(c *cloud.Client, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{cloud: c, tokens: tokens, logger: logger}
}

func (c *Client) token() (string, error) {
	t := c.tokens.CurrentToken()
	if t == nil {
		return "", apperr.NotAuthenticated()
	}

	return t.Value, nil
}

// call checks for a token, then dispatches.
func call[T any](ctx context.Context, c *Client, r cloud.Request) (T, error) {
	tok, err := c.token()
	if err != nil {
		var zero T
		return zero, err
	}

	r.Token = tok

	return cloud.Call[T](ctx, c.cloud, r)
}

func devicePath(id string, rest ...string) string {
	p := "/v1/devices/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}

	return p
}

// ListDevices lists the user's devices.
func (c *Client) ListDevices(ctx context.Context) ([]models.Device, error) {
	return call[[]models.Device](ctx, c, cloud.Request{
		Method: http.MethodGet,
		Path:   "/v1/devices",
	})
}

// GetDevice returns one device including its functions and variables.
func (c *Client) GetDevice(ctx context.Context, id string) (models.Device, error) {
	return call[models.Device](ctx, c, cloud.Request{
		Method: http.MethodGet,
		Path:   devicePath(id),
	})
}

// GetDevices looks up several devices concurrently. The first failure
// cancels the rest. Results keep the order of ids.
func (c *Client) GetDevices(ctx context.Context, ids []string) ([]models.Device, error) {
	if _, err := c.token(); err != nil {
		return nil, err
	}

	out := make([]models.Device, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	for i, id := range ids {
		g.Go(func() error {
			d, err := c.GetDevice(gctx, id)
			if err != nil {
				return err
			}

			out[i] = d

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// CallFunction invokes a cloud function on a device.
func (c *Client) CallFunction(ctx context.Context, deviceID, name, arg string) (models.FunctionResult, error) {
	return call[models.FunctionResult](ctx, c, cloud.Request{
		Method: http.MethodPost,
		Path:   devicePath(deviceID, name),
		Form:   url.Values{"arg": {arg}},
	})
}

// GetVariable reads a cloud variable from a device.
func (c *Client) GetVariable(ctx context.Context, deviceID, name string) (models.VariableResult, error) {
	return call[models.VariableResult](ctx, c, cloud.Request{
		Method: http.MethodGet,
		Path:   devicePath(deviceID, name),
	})
}

// PublishEvent publishes an event to the user's stream.
func (c *Client) PublishEvent(ctx context.Context, p models.PublishRequest) (models.PublishResponse, error) {
	form := url.Values{
		"name":    {p.Name},
		"private": {strconv.FormatBool(p.Private)},
	}

	if p.Data != "" {
		form.Set("data", p.Data)
	}

	if p.TTL > 0 {
		form.Set("ttl", strconv.Itoa(p.TTL))
	}

	return call[models.PublishResponse](ctx, c, cloud.Request{
		Method: http.MethodPost,
		Path:   "/v1/devices/events",
		Form:   form,
	})
}

// SubscribeEvents opens an event stream with the current token.
func (c *Client) SubscribeEvents(ctx context.Context, scope cloud.EventScope, onEvent func(models.Event), onDone func(error)) (*cloud.Subscription, error) {
	tok, err := c.token()
	if err != nil {
		return nil, err
	}

	return c.cloud.Subscribe(ctx, scope, tok, onEvent, onDone), nil
}

// ListProducts lists the products the user belongs to.
func (c *Client) ListProducts(ctx context.Context) ([]models.Product, error) {
	resp, err := call[models.ProductList](ctx, c, cloud.Request{
		Method: http.MethodGet,
		Path:   "/v1/products",
	})
	if err != nil {
		return nil, err
	}

	return resp.Products, nil
}

// ListSIMCards lists the user's SIM cards.
func (c *Client) ListSIMCards(ctx context.Context) ([]models.SIMCard, error) {
	resp, err := call[models.SIMCardList](ctx, c, cloud.Request{
		Method: http.MethodGet,
		Path:   "/v1/sims",
	})
	if err != nil {
		return nil, err
	}

	return resp.SIMs, nil
}

// ListWebhooks lists the user's webhooks.
func (c *Client) ListWebhooks(ctx context.Context) ([]models.Webhook, error) {
	return call[[]models.Webhook](ctx, c, cloud.Request{
		Method: http.MethodGet,
		Path:   "/v1/webhooks",
	})
}

// CreateWebhook registers a webhook.
func (c *Client) CreateWebhook(ctx context.Context, w models.WebhookRequest) (models.WebhookCreated, error) {
	return call[models.WebhookCreated](ctx, c, cloud.Request{
		Method: http.MethodPost,
		Path:   "/v1/webhooks",
		JSON:   w,
	})
}

// DeleteWebhook removes a webhook.
func (c *Client) DeleteWebhook(ctx context.Context, id string) (models.DeleteResponse, error) {
	return call[models.DeleteResponse](ctx, c, cloud.Request{
		Method: http.MethodDelete,
		Path:   "/v1/webhooks/" + url.PathEscape(id),
	})
}

// CurrentUser returns the signed-in account.
func (c *Client) CurrentUser(ctx context.Context) (models.User, error) {
	return call[models.User](ctx, c, cloud.Request{
		Method: http.MethodGet,
		Path:   "/v1/user",
	})
}
