// Package devicetest provides an in-memory router for tests.
package devicetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/leozw/hotspot-guardian/internal/device"
)

// Router models the handful of RouterOS menus the service touches. Objects
// are plain records; print filters by exact match on every query key.
type Router struct {
	mu       sync.Mutex
	tables   map[string][]device.Record
	unique   map[string]string
	failures map[string]error
	calls    map[string]int
	nextID   int
}

func NewRouter() *Router {
	r := &Router{
		tables: make(map[string][]device.Record),
		unique: map[string]string{
			device.PathIPBinding:   "address",
			device.PathSimpleQueue: "name",
		},
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
	r.Put(device.PathIdentity, device.Record{"name": "hotspot-test"})
	r.Put(device.PathResource, device.Record{
		"version":      "7.14.3 (stable)",
		"board-name":   "hAP ax2",
		"uptime":       "3d4h5m",
		"cpu-load":     "7",
		"free-memory":  "536870912",
		"total-memory": "1073741824",
	})
	return r
}

// Put seeds a record under menu and returns its id.
func (r *Router) Put(menu string, rec device.Record) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(menu, rec)
}

func (r *Router) insert(menu string, rec device.Record) string {
	r.nextID++
	id := fmt.Sprintf("*%X", r.nextID)
	row := make(device.Record, len(rec)+1)
	for k, v := range rec {
		row[k] = v
	}
	row[".id"] = id
	r.tables[menu] = append(r.tables[menu], row)
	return id
}

// Rows returns copies of every record under menu.
func (r *Router) Rows(menu string) []device.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.match(menu, nil)
}

// Find returns the first record under menu whose key equals value.
func (r *Router) Find(menu, key, value string) (device.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.match(menu, map[string]string{key: value})
	if len(rows) == 0 {
		return nil, false
	}
	return rows[0], true
}

func (r *Router) match(menu string, query map[string]string) []device.Record {
	var out []device.Record
	for _, row := range r.tables[menu] {
		ok := true
		for k, v := range query {
			if row[k] != v {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		cp := make(device.Record, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// Fail makes every later command on path return err. A nil err clears it.
func (r *Router) Fail(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, path)
		return
	}
	r.failures[path] = err
}

// Calls returns how many commands were sent for path.
func (r *Router) Calls(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[path]
}

func (r *Router) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, c := range r.calls {
		n += c
	}
	return n
}

func (r *Router) Run(ctx context.Context, cmd device.Command) ([]device.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls[cmd.Path]++
	if err := r.failures[cmd.Path]; err != nil {
		return nil, err
	}

	i := strings.LastIndex(cmd.Path, "/")
	menu, verb := cmd.Path[:i], cmd.Path[i+1:]

	switch verb {
	case "print":
		return r.match(menu, cmd.Query), nil
	case "add":
		if key, ok := r.unique[menu]; ok && cmd.Args[key] != "" {
			if len(r.match(menu, map[string]string{key: cmd.Args[key]})) > 0 {
				return nil, Trap(cmd.Path, "failure: already have such entry")
			}
		}
		id := r.insert(menu, cmd.Args)
		return []device.Record{{"ret": id}}, nil
	case "remove":
		id := cmd.Args[".id"]
		rows := r.tables[menu]
		for j, row := range rows {
			if row[".id"] == id {
				r.tables[menu] = append(rows[:j:j], rows[j+1:]...)
				return nil, nil
			}
		}
		return nil, Trap(cmd.Path, "no such item")
	case "set":
		id := cmd.Args[".id"]
		for _, row := range r.tables[menu] {
			if row[".id"] == id {
				for k, v := range cmd.Args {
					row[k] = v
				}
				return nil, nil
			}
		}
		return nil, Trap(cmd.Path, "no such item")
	}
	return nil, Trap(cmd.Path, "no such command")
}

func (r *Router) Close() error {
	return nil
}

// Trap builds the error a router returns for a rejected command.
func Trap(path, message string) *device.Error {
	category := device.CategoryOther
	switch {
	case strings.Contains(message, "already have"):
		category = device.CategoryAlreadyExists
	case strings.Contains(message, "no such item"):
		category = device.CategoryNotFound
	}
	return &device.Error{Path: path, Message: message, Category: category}
}

// Conn is one handle onto a Router, as returned by Dialer.
type Conn struct {
	router *Router
	ID     int
	closed atomic.Bool
	broken atomic.Bool
}

func (c *Conn) Run(ctx context.Context, cmd device.Command) ([]device.Record, error) {
	if c.closed.Load() || c.broken.Load() {
		return nil, device.ErrBroken
	}
	return c.router.Run(ctx, cmd)
}

func (c *Conn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Conn) Closed() bool {
	return c.closed.Load()
}

func (c *Conn) Broken() bool {
	return c.broken.Load()
}

// Break simulates a dropped stream.
func (c *Conn) Break() {
	c.broken.Store(true)
}
