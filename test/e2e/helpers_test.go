package e2e_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/iotcloud/internal/api"
	"github.com/alexjbarnes/iotcloud/internal/cloud"
	"github.com/alexjbarnes/iotcloud/internal/keys"
	"github.com/alexjbarnes/iotcloud/internal/mcpserver"
	"github.com/alexjbarnes/iotcloud/internal/metrics"
	"github.com/alexjbarnes/iotcloud/internal/models"
	"github.com/alexjbarnes/iotcloud/internal/secretstore"
	"github.com/alexjbarnes/iotcloud/internal/session"
	"github.com/alexjbarnes/iotcloud/internal/tokenstore"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

const (
	testUsername = "ada@example.com"
	testPassword = "correct horse battery staple"
)

// fakeCloud is an in-memory device cloud: it mints and revokes tokens,
// serves one device, and fans published events out to SSE subscribers.
type fakeCloud struct {
	mu          sync.Mutex
	live        map[string]bool
	minted      int
	subscribers map[chan string]struct{}
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		live:        map[string]bool{},
		subscribers: map[chan string]struct{}{},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// revokeAll invalidates every token, as a password reset would.
func (f *fakeCloud) revokeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	clear(f.live)
}

func (f *fakeCloud) isLive(tok string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.live[tok]
}

func (f *fakeCloud) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.subscribers)
}

func (f *fakeCloud) broadcast(frame string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (f *fakeCloud) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !f.isLive(bearer(r)) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":             "invalid_token",
				"error_description": "The access token provided is invalid.",
			})
			return
		}
		next(w, r)
	}
}

func (f *fakeCloud) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("username") != testUsername || r.PostForm.Get("password") != testPassword {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "User credentials are invalid"})
			return
		}

		f.mu.Lock()
		f.minted++
		tok := fmt.Sprintf("e2e-token-%d", f.minted)
		f.live[tok] = true
		f.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]any{"access_token": tok, "token_type": "bearer", "expires_in": 7776000})
	})

	mux.HandleFunc("GET /v1/access_tokens/current", f.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"expires_at": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)})
	}))

	mux.HandleFunc("DELETE /v1/access_tokens/current", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		delete(f.live, bearer(r))
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	mux.HandleFunc("GET /v1/devices", f.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []models.Device{{ID: "0123abcd", Name: "greenhouse", Online: true}})
	}))

	mux.HandleFunc("GET /v1/devices/{id}/{name}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"name": r.PathValue("name"), "result": 18.25})
	}))

	mux.HandleFunc("POST /v1/devices/events", f.authed(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		envelope, _ := json.Marshal(map[string]any{
			"data":         r.PostForm.Get("data"),
			"ttl":          60,
			"published_at": time.Now().UTC().Format(time.RFC3339Nano),
			"coreid":       "api",
		})
		f.broadcast(fmt.Sprintf("event: %s\ndata: %s\n\n", r.PostForm.Get("name"), envelope))

		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	mux.HandleFunc("GET /v1/devices/events", f.authed(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ch := make(chan string, 16)
		f.mu.Lock()
		f.subscribers[ch] = struct{}{}
		f.mu.Unlock()

		defer func() {
			f.mu.Lock()
			delete(f.subscribers, ch)
			f.mu.Unlock()
		}()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, ":ok\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case frame := <-ch:
				_, _ = io.WriteString(w, frame)
				flusher.Flush()
			}
		}
	}))

	return mux
}

// harness owns the fake cloud and the on-disk state shared by every
// stack started from it, so a second stack sees what the first saved.
type harness struct {
	cloud     *fakeCloud
	URL       string
	stateDir  string
	keeperURL string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fc := newFakeCloud()
	srv := httptest.NewServer(fc.handler())
	t.Cleanup(srv.Close)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	return &harness{
		cloud:     fc,
		URL:       srv.URL,
		stateDir:  t.TempDir(),
		keeperURL: "base64key://" + base64.URLEncoding.EncodeToString(key),
	}
}

// stack is one process lifetime: stores opened, session restored.
type stack struct {
	Session *session.Session
	API     *api.Client
	Metrics *metrics.Transport
	Tokens  *tokenstore.Store

	closeOnce sync.Once
	closers   []func() error
}

func (s *stack) Close() {
	s.closeOnce.Do(func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			_ = s.closers[i]()
		}
	})
}

// start wires the full client stack the way the CLI does and restores
// the session from disk.
func (h *harness) start(t *testing.T) *stack {
	t.Helper()

	ctx := t.Context()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bolt, err := secretstore.OpenBolt(filepath.Join(h.stateDir, secretstore.FileName), "iotcloud-e2e")
	require.NoError(t, err)

	st := &stack{closers: []func() error{bolt.Close}}
	t.Cleanup(st.Close)

	keeper, err := secretstore.OpenKeeperStore(ctx, bolt, h.keeperURL)
	require.NoError(t, err)
	st.closers = append(st.closers, keeper.Close)

	km := keys.NewManager(keeper, logger, keys.WithAlgorithm(keys.AESGCM))
	st.Tokens = tokenstore.New(keeper, km, "", logger)
	st.Metrics = metrics.NewTransport()

	client := cloud.NewClient(cloud.Config{
		BaseURL:      h.URL,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
		Recorder:     st.Metrics,
	}, logger)

	st.Session = session.New(client, st.Tokens, logger)
	st.API = api.New(client, st.Session, logger)

	require.NoError(t, st.Session.Restore(ctx))

	return st
}

// mcpSession connects an in-memory MCP client to the stack's tools.
func (s *stack) mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: "iotcloud-e2e", Version: "test"}, nil)
	mcpserver.RegisterTools(server, s.Session, s.API)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx := context.Background()

	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "e2e-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	return cs
}

func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])

	return tc.Text
}

func credentials() models.Credentials {
	return models.Credentials{Username: testUsername, Password: testPassword}
}
