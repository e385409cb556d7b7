// Package cloud performs requests against the cloud REST API and its
// server-sent event streams, and decodes every response into either a
// typed value or one of the errors in internal/errors.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
	"github.com/google/uuid"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.particle.io"

const (
	// maxRedirects matches the default net/http limit.
	maxRedirects = 10

	// defaultRequestTimeout applies to ordinary calls when the caller
	// supplies no HTTP client.
	defaultRequestTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. API responses are
	// small JSON payloads.
	maxAPIResponseBytes = 4 * 1024 * 1024

	// requestIDHeader carries a per-request correlation ID.
	requestIDHeader = "X-Request-ID"
)

// Recorder receives one observation per completed request.
// *metrics.Transport satisfies it.
type Recorder interface {
	ObserveRequest(method, outcome string, elapsed time.Duration)
}

// Config configures a Client. Zero values select defaults.
type Config struct {
	BaseURL string

	// HTTPClient serves ordinary calls. A nil client gets a
	// RequestTimeout timeout and a same-host redirect policy.
	HTTPClient     *http.Client
	RequestTimeout time.Duration

	// EventClient serves event streams and must not set a Timeout.
	EventClient *http.Client

	// EventIdleTimeout forces a reconnect when a stream delivers nothing,
	// not even a keepalive, for this long. 0 disables the watchdog.
	EventIdleTimeout time.Duration

	// ReconnectMin and ReconnectMax bound the event stream reconnect backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// ClientID and ClientSecret authenticate token mint requests.
	ClientID     string
	ClientSecret string

	Recorder Recorder
}

// Client talks to the cloud API.
type Client struct {
	httpClient   *http.Client
	eventClient  *http.Client
	baseURL      string
	idleTimeout  time.Duration
	reconnectMin time.Duration
	reconnectMax time.Duration
	clientID     string
	clientSecret string
	recorder     Recorder
	logger       *slog.Logger
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host so bearer tokens stay on the API host.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout:       cfg.RequestTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	if cfg.EventClient == nil {
		cfg.EventClient = &http.Client{CheckRedirect: sameHostRedirectPolicy}
	}

	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = reconnectMin
	}

	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = max(reconnectMax, cfg.ReconnectMin)
	}

	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}

	if cfg.ClientSecret == "" {
		cfg.ClientSecret = DefaultClientSecret
	}

	return &Client{
		httpClient:   cfg.HTTPClient,
		eventClient:  cfg.EventClient,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		idleTimeout:  cfg.EventIdleTimeout,
		reconnectMin: cfg.ReconnectMin,
		reconnectMax: cfg.ReconnectMax,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		recorder:     cfg.Recorder,
		logger:       logger,
	}
}

// BaseURL returns the API root the client sends requests to.
func (c *Client) BaseURL() string { return c.baseURL }

// Request describes one API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values

	// At most one of Form and JSON is sent as the body.
	Form url.Values
	JSON any

	Header http.Header

	// Token is sent as a bearer credential when set.
	Token string

	// BasicUser and BasicPass are sent as basic auth when BasicUser is set.
	BasicUser string
	BasicPass string
}

// response is a received HTTP response with its body fully read.
type response struct {
	status int
	body   []byte
}

func (c *Client) newHTTPRequest(ctx context.Context, r Request) (*http.Request, error) {
	u := c.baseURL + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)

	switch {
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.JSON != nil:
		payload, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	req.Header.Set(requestIDHeader, uuid.NewString())

	switch {
	case r.Token != "":
		req.Header.Set("Authorization", "Bearer "+r.Token)
	case r.BasicUser != "":
		req.SetBasicAuth(r.BasicUser, r.BasicPass)
	}

	return req, nil
}

// do sends the request and reads the whole body. Any failure before a
// response arrives is a TransportError.
func (c *Client) do(ctx context.Context, r Request) (*response, error) {
	req, err := c.newHTTPRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("cloud request",
		slog.String("method", r.Method),
		slog.String("path", r.Path),
		slog.String("request_id", req.Header.Get(requestIDHeader)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperr.TransportError{Err: fmt.Errorf("%s %s: %w", r.Method, r.Path, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, &apperr.TransportError{Err: fmt.Errorf("reading response from %s: %w", r.Path, err)}
	}

	return &response{status: resp.StatusCode, body: body}, nil
}

func (c *Client) observe(method string, started time.Time, err error) {
	if c.recorder == nil {
		return
	}

	c.recorder.ObserveRequest(method, outcomeOf(err), time.Since(started))
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
