package device

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

type retryConn struct {
	Conn
	policy RetryPolicy
}

// WithRetry re-runs commands that failed with a transient error, waiting a
// constant interval between attempts. Router rejections are returned at once.
func WithRetry(conn Conn, policy RetryPolicy) Conn {
	if policy.MaxRetries <= 0 {
		return conn
	}
	return &retryConn{Conn: conn, policy: policy}
}

func (c *retryConn) Run(ctx context.Context, cmd Command) ([]Record, error) {
	var records []Record
	op := func() error {
		if IsBroken(c.Conn) {
			return backoff.Permanent(ErrBroken)
		}
		recs, err := c.Conn.Run(ctx, cmd)
		if err != nil {
			if IsTransient(err) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		records = recs
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.policy.Backoff), uint64(c.policy.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *retryConn) Broken() bool {
	return IsBroken(c.Conn)
}

type limitedConn struct {
	Conn
	limiter *rate.Limiter
}

// WithRateLimit throttles commands sent over conn to limit per second with
// the given burst.
func WithRateLimit(conn Conn, limit rate.Limit, burst int) Conn {
	if limit <= 0 {
		return conn
	}
	if burst < 1 {
		burst = 1
	}
	return &limitedConn{Conn: conn, limiter: rate.NewLimiter(limit, burst)}
}

func (c *limitedConn) Run(ctx context.Context, cmd Command) ([]Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.Conn.Run(ctx, cmd)
}

func (c *limitedConn) Broken() bool {
	return IsBroken(c.Conn)
}
