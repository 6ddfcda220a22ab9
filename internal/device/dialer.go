package device

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	TransportAPI  = "api"
	TransportREST = "rest"
)

// NetDialer opens real router connections and wraps them with the retry and
// rate-limit decorators.
type NetDialer struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	Retry          RetryPolicy
	RateLimit      float64
	RateBurst      int
	TLSConfig      *tls.Config
	Logger         *zap.Logger
}

func (d *NetDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var conn Conn
	switch ep.Transport {
	case TransportAPI, "":
		c, err := dialAPI(ctx, ep, d.connectTimeout(), d.commandTimeout(), d.TLSConfig)
		if err != nil {
			return nil, err
		}
		conn = c
	case TransportREST:
		conn = newRESTConn(ep, d.commandTimeout(), d.TLSConfig)
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadTransport, ep.Transport)
	}

	logger.Debug("Router connection opened",
		zap.String("host", ep.Host),
		zap.Int("port", ep.Port),
		zap.String("transport", ep.Transport),
		zap.Bool("tls", ep.TLS))

	conn = WithRetry(conn, d.Retry)
	conn = WithRateLimit(conn, rate.Limit(d.RateLimit), d.RateBurst)
	return conn, nil
}

func (d *NetDialer) connectTimeout() time.Duration {
	if d.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return d.ConnectTimeout
}

func (d *NetDialer) commandTimeout() time.Duration {
	if d.CommandTimeout <= 0 {
		return 15 * time.Second
	}
	return d.CommandTimeout
}
