package devicetest

import (
	"context"
	"sync"

	"github.com/leozw/hotspot-guardian/internal/device"
)

// Dialer hands out Conn handles onto a single Router.
type Dialer struct {
	Router *Router

	// Gate, when set, blocks every Dial until it is closed or receives.
	Gate chan struct{}

	mu        sync.Mutex
	err       error
	conns     []*Conn
	endpoints []device.Endpoint
	attempts  int
}

func NewDialer(r *Router) *Dialer {
	return &Dialer{Router: r}
}

// SetError makes later dials fail with err. A nil err restores dialing.
func (d *Dialer) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *Dialer) Dial(ctx context.Context, ep device.Endpoint) (device.Conn, error) {
	d.mu.Lock()
	d.attempts++
	d.endpoints = append(d.endpoints, ep)
	gate := d.Gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &Conn{router: d.Router, ID: len(d.conns) + 1}
	d.conns = append(d.conns, c)
	return c, nil
}

// Attempts counts Dial calls, failed ones included.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

func (d *Dialer) Endpoints() []device.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]device.Endpoint(nil), d.endpoints...)
}
