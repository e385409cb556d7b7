package cloud

import (
	"context"
	"time"
)

// Call sends the request and decodes the response as T. This is the
// native call shape; CallFunc and Latest wrap it.
func Call[T any](ctx context.Context, c *Client, r Request) (T, error) {
	started := time.Now()

	resp, err := c.do(ctx, r)
	if err != nil {
		c.observe(r.Method, started, err)

		var zero T

		return zero, err
	}

	out, err := decode[T](resp)
	c.observe(r.Method, started, err)

	return out, err
}

// CallFunc sends the request in the background and invokes fn exactly
// once with the result.
func CallFunc[T any](ctx context.Context, c *Client, r Request, fn func(T, error)) {
	go func() {
		fn(Call[T](ctx, c, r))
	}()
}

// Result is one value delivered by Latest.
type Result[T any] struct {
	Value T
	Err   error
}

// Latest sends the request in the background and returns a channel that
// yields the result once and is then closed.
func Latest[T any](ctx context.Context, c *Client, r Request) <-chan Result[T] {
	ch := make(chan Result[T], 1)

	go func() {
		defer close(ch)

		v, err := Call[T](ctx, c, r)
		ch <- Result[T]{Value: v, Err: err}
	}()

	return ch
}
