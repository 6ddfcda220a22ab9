package device

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer answers each received sentence with the replies produced by
// handle.
func fakeServer(t *testing.T, nc net.Conn, handle func(words []string) [][]string) {
	t.Helper()
	go func() {
		r := bufio.NewReader(nc)
		w := bufio.NewWriter(nc)
		for {
			words, err := readSentence(r)
			if err != nil {
				return
			}
			for _, rep := range handle(words) {
				if err := writeSentence(w, rep); err != nil {
					return
				}
			}
		}
	}()
}

func TestAPIConnLoginAndPrint(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })

	fakeServer(t, server, func(words []string) [][]string {
		switch words[0] {
		case "/login":
			assert.Contains(t, words, "=name=admin")
			assert.Contains(t, words, "=password=secret")
			return [][]string{{"!done"}}
		case "/ip/arp/print":
			assert.Contains(t, words, "?address=10.0.0.5")
			return [][]string{
				{"!re", "=.id=*1", "=address=10.0.0.5", "=mac-address=AA:BB:CC:DD:EE:FF"},
				{"!done"},
			}
		}
		return [][]string{{"!trap", "=message=no such command"}, {"!done"}}
	})

	c := newAPIConn(client, time.Second)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.login(ctx, "admin", "secret"))

	recs, err := c.Run(ctx, Command{Path: "/ip/arp/print", Query: map[string]string{"address": "10.0.0.5"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", recs[0]["mac-address"])
	assert.False(t, c.Broken())
}

func TestAPIConnTrapIsCategorized(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })

	fakeServer(t, server, func(words []string) [][]string {
		switch words[0] {
		case "/ip/hotspot/ip-binding/add":
			return [][]string{{"!trap", "=message=failure: already have such entry"}, {"!done"}}
		case "/queue/simple/remove":
			return [][]string{{"!trap", "=message=no such item"}, {"!done"}}
		}
		return [][]string{{"!done", "=ret=*5"}}
	})

	c := newAPIConn(client, time.Second)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Run(ctx, Command{Path: "/ip/hotspot/ip-binding/add", Args: map[string]string{"address": "10.0.0.5"}})
	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err))
	assert.False(t, IsNotFound(err))

	_, err = c.Run(ctx, Command{Path: "/queue/simple/remove", Args: map[string]string{".id": "*9"}})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	id, err := Add(ctx, c, PathSimpleQueue, map[string]string{"name": "speed-s1"})
	require.NoError(t, err)
	assert.Equal(t, "*5", id)

	// A trap is a rejected command, not a broken stream.
	assert.False(t, c.Broken())
}

func TestAPIConnLoginRejected(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })

	fakeServer(t, server, func(words []string) [][]string {
		return [][]string{{"!trap", "=message=invalid user name or password (6)"}, {"!done"}}
	})

	c := newAPIConn(client, time.Second)
	defer c.Close()

	err := c.login(context.Background(), "admin", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthFailed))
}

func TestAPIConnFatalMarksBroken(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })

	fakeServer(t, server, func(words []string) [][]string {
		return [][]string{{"!fatal", "session terminated on request"}}
	})

	c := newAPIConn(client, time.Second)
	defer c.Close()

	_, err := c.Run(context.Background(), Command{Path: "/system/identity/print"})
	require.ErrorIs(t, err, ErrFatal)
	assert.True(t, c.Broken())
	assert.True(t, IsBroken(c))

	_, err = c.Run(context.Background(), Command{Path: "/system/identity/print"})
	assert.ErrorIs(t, err, ErrBroken)
}

func TestAPIConnTimeoutMarksBroken(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })

	// Read the request but never answer.
	go func() {
		r := bufio.NewReader(server)
		for {
			if _, err := readSentence(r); err != nil {
				return
			}
		}
	}()

	c := newAPIConn(client, 50*time.Millisecond)
	defer c.Close()

	_, err := c.Run(context.Background(), Command{Path: "/system/identity/print"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.True(t, c.Broken())
}
