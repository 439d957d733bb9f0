package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipe is a connection handler with separate inbound and outbound queues.
type pipe struct {
	in, out *utils.Queue[codec.Records]
	name    string
}

func newPipe(name string) *pipe {
	return &pipe{
		in:   utils.NewQueue[codec.Records](1<<20, 1<<10),
		out:  utils.NewQueue[codec.Records](1<<20, 1<<10),
		name: name,
	}
}

func (p *pipe) Feed(ctx context.Context) (codec.Records, error) { return p.out.Feed(ctx) }

func (p *pipe) Drain(ctx context.Context, recs codec.Records) error { return p.in.Drain(ctx, recs) }

func (p *pipe) Close() error      { return nil }
func (p *pipe) GetTraceId() string { return p.name }

func feedOne(t *testing.T, q *utils.Queue[codec.Records]) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	recs, err := q.Feed(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	return recs[0]
}

func echo(t *testing.T, scheme string) {
	log := utils.NewWriterLogger(io.Discard, slog.LevelDebug)

	server := newPipe("server")
	l := NewNet(log, func(string) FeedDrainCloserTraced { return server }, func(string, Traced) {})
	listen := scheme + "://127.0.0.1:0"
	require.NoError(t, l.Listen(listen))
	assert.ErrorIs(t, l.Listen(listen), ErrAddressDuplicated)

	bound, ok := l.ListenAddr(listen)
	require.True(t, ok)

	client := newPipe("client")
	c := NewNet(log, func(string) FeedDrainCloserTraced { return client }, func(string, Traced) {},
		&NetWriteTimeoutOpt{Timeout: time.Minute})
	remote := scheme + "://" + bound.String()
	require.NoError(t, c.Connect(remote))
	assert.ErrorIs(t, c.Connect(remote), ErrAddressDuplicated)

	hello := codec.Frame([]byte("Hi there"))
	big := codec.Frame(bytes.Repeat([]byte{'x'}, 10*typicalMTU))
	require.NoError(t, client.out.Drain(context.Background(), codec.Records{hello}))
	assert.Equal(t, hello, feedOne(t, server.in))
	require.NoError(t, client.out.Drain(context.Background(), codec.Records{big}))
	assert.Equal(t, big, feedOne(t, server.in))

	reply := codec.Frame([]byte("Re: Hi there"))
	require.NoError(t, server.out.Drain(context.Background(), codec.Records{reply}))
	assert.Equal(t, reply, feedOne(t, client.in))

	assert.Len(t, c.Peers(), 1)
	assert.Eventually(t, func() bool { return l.Backlog() == 0 && c.Backlog() == 0 },
		10*time.Second, 10*time.Millisecond)
	assert.NoError(t, l.Unlisten(listen))
	assert.ErrorIs(t, l.Unlisten(listen), ErrAddressUnknown)
	_, ok = l.ListenAddr(listen)
	assert.False(t, ok)
	assert.NoError(t, c.Disconnect(remote))
	assert.ErrorIs(t, c.Disconnect(remote), ErrAddressUnknown)

	assert.NoError(t, c.Close())
	assert.NoError(t, l.Close())
}

func TestTCPEcho(t *testing.T) {
	echo(t, "tcp")
}

func TestWebSocketEcho(t *testing.T) {
	echo(t, "ws")
}

func TestParseAddr(t *testing.T) {
	cases := []struct {
		addr string
		typ  ConnType
		host string
		path string
	}{
		{"localhost:8080", TCP, "localhost:8080", ""},
		{"tcp://localhost:8080", TCP, "localhost:8080", ""},
		{"tls://example.com:443", TLS, "example.com:443", ""},
		{"ws://example.com:80", WS, "example.com:80", DefaultWSPath},
		{"wss://example.com:443/sync", WSS, "example.com:443", "/sync"},
	}
	for _, c := range cases {
		typ, host, path, err := parseAddr(c.addr)
		assert.NoError(t, err, c.addr)
		assert.Equal(t, c.typ, typ, c.addr)
		assert.Equal(t, c.host, host, c.addr)
		assert.Equal(t, c.path, path, c.addr)
	}

	_, _, _, err := parseAddr("quic://example.com:443")
	assert.ErrorIs(t, err, ErrAddressInvalid)
}

func TestPumpThenClose(t *testing.T) {
	from := utils.NewQueue[codec.Records](1<<10, 1)
	to := utils.NewQueue[codec.Records](1<<10, 1<<10)
	require.NoError(t, from.Drain(context.Background(), codec.Records{[]byte("a"), []byte("b")}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, Relay(ctx, from, to))
	require.NoError(t, Relay(ctx, from, to))
	assert.Equal(t, 2, to.Len())

	from.Close()
	err := PumpThenClose(ctx, from, to)
	assert.Error(t, err)
	assert.ErrorIs(t, to.Drain(ctx, codec.Records{[]byte("c")}), err)
}
