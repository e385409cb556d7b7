package cloud

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type observation struct {
	method  string
	outcome string
}

type fakeRecorder struct {
	mu  sync.Mutex
	obs []observation
}

func (r *fakeRecorder) ObserveRequest(method, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{method, outcome})
}

func (r *fakeRecorder) all() []observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observation(nil), r.obs...)
}

// newTestClient starts a fake cloud and returns a client pointed at it
// with short reconnect delays.
func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server, *fakeRecorder) {
	t.Helper()

	srv := httptest.NewServer(h)
	rec := &fakeRecorder{}
	c := NewClient(Config{
		BaseURL:      srv.URL,
		ReconnectMin: 5 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
		Recorder:     rec,
	}, discardLogger())

	t.Cleanup(func() {
		c.httpClient.CloseIdleConnections()
		c.eventClient.CloseIdleConnections()
		srv.Close()
	})

	return c, srv, rec
}
