package cloud

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alexjbarnes/iotcloud/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callAllShapes issues the same request through every call shape.
func callAllShapes[T any](t *testing.T, c *Client, r Request) []Result[T] {
	t.Helper()
	ctx := context.Background()

	var out []Result[T]

	v, err := Call[T](ctx, c, r)
	out = append(out, Result[T]{Value: v, Err: err})

	done := make(chan Result[T], 1)
	CallFunc(ctx, c, r, func(v T, err error) {
		done <- Result[T]{Value: v, Err: err}
	})

	select {
	case res := <-done:
		out = append(out, res)
	case <-time.After(5 * time.Second):
		t.Fatal("callback never invoked")
	}

	ch := Latest[T](ctx, c, r)

	res, ok := <-ch
	require.True(t, ok)
	out = append(out, res)

	_, ok = <-ch
	assert.False(t, ok, "stream closes after its value")

	return out
}

func TestCallShapes_Equivalent(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"success", 200, `{"expires_at":"2099-01-01T00:00:00Z"}`},
		{"structured error", 401, `{"error":"invalid_token","error_description":"The access token provided is invalid."}`},
		{"status only", 503, ``},
		{"undecodable", 200, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := &capture{}
			c, _, _ := newTestClient(t, jsonHandler(cp, tt.status, tt.body))

			results := callAllShapes[models.TokenInfo](t, c, Request{
				Method: http.MethodGet,
				Path:   currentTokenPath,
				Token:  "tok",
			})

			require.Len(t, results, 3)
			for _, r := range results[1:] {
				assert.Equal(t, results[0].Value, r.Value)
				assert.Equal(t, results[0].Err, r.Err)
			}
		})
	}
}

func TestRequest_JSONBodyAndQuery(t *testing.T) {
	var (
		gotType  string
		gotQuery string
	)

	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))

	_, err := Call[models.DeleteResponse](context.Background(), c, Request{
		Method: http.MethodPost,
		Path:   "/v1/integrations",
		Query:  map[string][]string{"page": {"2"}},
		JSON:   map[string]string{"event": "temp"},
		Token:  "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "page=2", gotQuery)
}
