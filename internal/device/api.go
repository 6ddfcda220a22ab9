package device

import (
	"bufio"
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultAPIPort    = 8728
	DefaultAPITLSPort = 8729
)

// apiConn is a RouterOS API session over one TCP stream. Commands are
// serialized: the protocol allows tagged multiplexing but nothing here needs
// it.
type apiConn struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
	broken  atomic.Bool
	closed  atomic.Bool
}

func dialAPI(ctx context.Context, ep Endpoint, connectTimeout, commandTimeout time.Duration, tlsConfig *tls.Config) (*apiConn, error) {
	port := ep.Port
	if port == 0 {
		port = DefaultAPIPort
		if ep.TLS {
			port = DefaultAPITLSPort
		}
	}
	addr := net.JoinHostPort(ep.Host, fmt.Sprint(port))

	dctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var nc net.Conn
	var err error
	if ep.TLS {
		cfg := tlsConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: ep.Host}
		}
		d := &tls.Dialer{Config: cfg}
		nc, err = d.DialContext(dctx, "tcp", addr)
	} else {
		var d net.Dialer
		nc, err = d.DialContext(dctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := newAPIConn(nc, commandTimeout)
	if err := c.login(dctx, ep.Username, ep.Password); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func newAPIConn(nc net.Conn, timeout time.Duration) *apiConn {
	return &apiConn{
		conn:    nc,
		r:       bufio.NewReader(nc),
		w:       bufio.NewWriter(nc),
		timeout: timeout,
	}
}

func (c *apiConn) login(ctx context.Context, user, password string) error {
	recs, err := c.Run(ctx, Command{
		Path: "/login",
		Args: map[string]string{"name": user, "password": password},
	})
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			return fmt.Errorf("%w: %s", ErrAuthFailed, de.Message)
		}
		return err
	}

	// Routers older than 6.43 answer with an MD5 challenge.
	var challenge string
	for _, rec := range recs {
		if ret, ok := rec["ret"]; ok {
			challenge = ret
		}
	}
	if challenge == "" {
		return nil
	}

	raw, err := hex.DecodeString(challenge)
	if err != nil {
		return fmt.Errorf("%w: bad challenge", ErrAuthFailed)
	}
	h := md5.New()
	h.Write([]byte{0})
	h.Write([]byte(password))
	h.Write(raw)
	_, err = c.Run(ctx, Command{
		Path: "/login",
		Args: map[string]string{"name": user, "response": "00" + hex.EncodeToString(h.Sum(nil))},
	})
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			return fmt.Errorf("%w: %s", ErrAuthFailed, de.Message)
		}
		return err
	}
	return nil
}

// Run sends cmd and collects every "!re" row. When the closing "!done"
// carries attributes (such as "ret" from an add), they are appended as a
// final record.
func (c *apiConn) Run(ctx context.Context, cmd Command) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() || c.broken.Load() {
		return nil, ErrBroken
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.broken.Store(true)
		return nil, fmt.Errorf("%w: %v", ErrBroken, err)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := writeSentence(c.w, cmd.words()); err != nil {
		return nil, c.fail(ctx, err)
	}

	var (
		records []Record
		trap    *Error
	)
	for {
		words, err := readSentence(c.r)
		if err != nil {
			return nil, c.fail(ctx, err)
		}
		rep := parseSentence(words)
		switch rep.kind {
		case "!re":
			records = append(records, rep.attrs)
		case "!trap":
			if trap == nil {
				trap = newError(cmd.Path, rep.attrs["message"], 0)
			}
		case "!fatal":
			c.broken.Store(true)
			msg := rep.attrs["message"]
			if msg == "" && len(words) > 1 {
				msg = words[1]
			}
			return nil, fmt.Errorf("%w: %s", ErrFatal, msg)
		case "!done":
			if trap != nil {
				return nil, trap
			}
			if len(rep.attrs) > 0 {
				records = append(records, rep.attrs)
			}
			return records, nil
		case "!empty":
		default:
			c.broken.Store(true)
			return nil, fmt.Errorf("%w: unexpected reply %q", ErrBroken, rep.kind)
		}
	}
}

// fail marks the stream unusable; a half-read reply cannot be resynchronised.
func (c *apiConn) fail(ctx context.Context, err error) error {
	c.broken.Store(true)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("device: %w", ctxErr)
	}
	return fmt.Errorf("device: %w", err)
}

func (c *apiConn) Broken() bool {
	return c.broken.Load()
}

func (c *apiConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
