package cloud

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
	"github.com/alexjbarnes/iotcloud/internal/models"
	"github.com/tidwall/gjson"
)

const (
	reconnectMin = 5 * time.Second
	reconnectMax = 5 * time.Minute

	// jitterDivisor controls the range of random jitter added to
	// reconnect backoff: jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2

	reconnectBackoffMultiplier = 2

	// maxEventLineBytes bounds a single SSE line.
	maxEventLineBytes = 1024 * 1024
)

var errIdleTimeout = errors.New("event stream idle timeout")

// EventScope selects an event stream. Prefix filters by event name
// prefix; empty means all events in the scope.
type EventScope struct {
	// DeviceID limits the stream to one device.
	DeviceID string

	// Product limits the stream to one product, by ID or slug.
	Product string

	// Mine limits the stream to the caller's devices. Ignored when
	// DeviceID or Product is set.
	Mine bool

	Prefix string
}

func (s EventScope) path() string {
	var p string

	switch {
	case s.Product != "" && s.DeviceID != "":
		p = "/v1/products/" + url.PathEscape(s.Product) + "/devices/" + url.PathEscape(s.DeviceID) + "/events"
	case s.Product != "":
		p = "/v1/products/" + url.PathEscape(s.Product) + "/events"
	case s.DeviceID != "":
		p = "/v1/devices/" + url.PathEscape(s.DeviceID) + "/events"
	case s.Mine:
		p = "/v1/devices/events"
	default:
		p = "/v1/events"
	}

	if s.Prefix != "" {
		p += "/" + url.PathEscape(s.Prefix)
	}

	return p
}

// Subscription is one live event stream. Close stops it.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Close cancels the stream and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Done is closed when the subscription has terminated.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the terminal error after Done is closed. It is nil when
// the subscription was closed or its context was cancelled.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

// Subscribe opens an event stream. onEvent is called for each event, in
// arrival order, from a single goroutine. Idle timeouts and server-side
// stream closes reconnect silently with backoff. Any other failure ends
// the subscription: onDone, if set, is called once with the error, or
// with nil when the subscription was closed.
func (c *Client) Subscribe(ctx context.Context, scope EventScope, token string, onEvent func(models.Event), onDone func(error)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	req := Request{
		Method: http.MethodGet,
		Path:   scope.path(),
		Header: http.Header{"Accept": {"text/event-stream"}},
		Token:  token,
	}

	go func() {
		defer close(sub.done)
		defer cancel()

		sub.err = c.listen(ctx, req, onEvent)
		if onDone != nil {
			onDone(sub.err)
		}
	}()

	return sub
}

// listen runs the stream with automatic reconnection. Returns nil on
// cancellation and the terminal error otherwise.
func (c *Client) listen(ctx context.Context, req Request, onEvent func(models.Event)) error {
	backoff := c.reconnectMin

	for {
		connected, err := c.stream(ctx, req, onEvent)
		if ctx.Err() != nil {
			return nil
		}

		if !isTimeoutClass(err) {
			return err
		}

		if connected {
			backoff = c.reconnectMin
		}

		c.logger.Debug("event stream dropped, reconnecting",
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff)/jitterDivisor + 1)) //nolint:gosec // G404: math/rand is fine for reconnect jitter, no security impact

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		backoff = min(backoff*reconnectBackoffMultiplier, c.reconnectMax)
	}
}

// stream holds one connection open until it fails. connected reports
// whether the server accepted the stream.
func (c *Client) stream(ctx context.Context, r Request, onEvent func(models.Event)) (bool, error) {
	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var watchdog *time.Timer
	if c.idleTimeout > 0 {
		watchdog = time.AfterFunc(c.idleTimeout, func() { cancel(errIdleTimeout) })
		defer watchdog.Stop()
	}

	req, err := c.newHTTPRequest(connCtx, r)
	if err != nil {
		return false, err
	}

	resp, err := c.eventClient.Do(req)
	if err != nil {
		return false, streamError(connCtx, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
		return false, serverError(&response{status: resp.StatusCode, body: body})
	}

	c.logger.Debug("event stream open", slog.String("path", r.Path))

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)

	var (
		name string
		data []string
	)

	for sc.Scan() {
		if watchdog != nil {
			watchdog.Reset(c.idleTimeout)
		}

		line := sc.Text()

		switch {
		case line == "":
			if name != "" || len(data) > 0 {
				onEvent(parseEvent(name, strings.Join(data, "\n")))
			}

			name, data = "", nil
		case strings.HasPrefix(line, ":"):
			// keepalive
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")

			switch field {
			case "event":
				name = value
			case "data":
				data = append(data, value)
			}
		}
	}

	err = sc.Err()
	if err == nil {
		err = io.EOF
	}

	return true, streamError(connCtx, err)
}

func streamError(connCtx context.Context, err error) error {
	if errors.Is(context.Cause(connCtx), errIdleTimeout) {
		return &apperr.TransportError{Err: errIdleTimeout}
	}

	return &apperr.TransportError{Err: fmt.Errorf("event stream: %w", err)}
}

// isTimeoutClass reports whether a stream failure should reconnect
// rather than end the subscription.
func isTimeoutClass(err error) bool {
	if errors.Is(err, errIdleTimeout) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}

// parseEvent decodes an SSE data payload. The cloud wraps the published
// data in a JSON envelope; anything else is passed through as Data.
func parseEvent(name, payload string) models.Event {
	ev := models.Event{Name: name}

	if gjson.Valid(payload) {
		res := gjson.Parse(payload)
		if res.IsObject() {
			ev.Data = res.Get("data").String()
			ev.TTL = int(res.Get("ttl").Int())
			ev.CoreID = res.Get("coreid").String()

			if t, err := time.Parse(time.RFC3339Nano, res.Get("published_at").String()); err == nil {
				ev.PublishedAt = t
			}

			return ev
		}
	}

	ev.Data = payload

	return ev
}
