// Package device talks to hotspot routers over the RouterOS control
// protocol. Callers see an opaque RPC: a command path with key/value
// arguments goes in, a list of records comes out.
package device

import (
	"context"
	"sort"
	"strings"
)

// Command is one RouterOS command, e.g. Path "/ip/hotspot/ip-binding/print".
// Args become "=key=value" words and Query entries become "?key=value"
// filters.
type Command struct {
	Path  string
	Args  map[string]string
	Query map[string]string
}

// Record is one reply row. The router's object id is stored under ".id".
type Record map[string]string

// ID returns the router-assigned object id.
func (r Record) ID() string {
	return r[".id"]
}

// Conn is a live control channel to one router. Implementations must be
// safe for concurrent use.
type Conn interface {
	Run(ctx context.Context, cmd Command) ([]Record, error)
	Close() error
}

// Endpoint identifies a router and the credentials to log in with.
type Endpoint struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Transport string
	TLS       bool
}

// Dialer opens control channels.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// IsBroken reports whether conn has flagged its underlying stream as
// unusable. Connections that do not track this are assumed healthy.
func IsBroken(conn Conn) bool {
	if b, ok := conn.(interface{ Broken() bool }); ok {
		return b.Broken()
	}
	return false
}

func (c Command) resource() string {
	i := strings.LastIndex(c.Path, "/")
	if i <= 0 {
		return c.Path
	}
	return c.Path[:i]
}

func (c Command) verb() string {
	return c.Path[strings.LastIndex(c.Path, "/")+1:]
}

// words renders the command as API words with a stable argument order.
func (c Command) words() []string {
	words := []string{c.Path}
	for _, k := range sortedKeys(c.Args) {
		words = append(words, "="+k+"="+c.Args[k])
	}
	for _, k := range sortedKeys(c.Query) {
		words = append(words, "?"+k+"="+c.Query[k])
	}
	return words
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
