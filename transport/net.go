// Package transport moves frames between replicas over long-lived
// connections. A Net owns listeners and outbound connections; every
// connection is a Peer that feeds and drains frames through the handler
// returned by the install callback.
//
// Addresses carry a scheme:
//
//	tcp://host:port        plain TCP (the default when no scheme is given)
//	tls://host:port        TCP with the configured tls.Config
//	ws://host:port/path    WebSocket, binary messages
//	wss://host:port/path   WebSocket over TLS
//
// Outbound connections are retried with exponential backoff until
// Disconnect or Close. Inbound connections are named
// "listen:<uuid>:<remote>".
//
// Usage:
//
//	n := NewNet(log, install, destroy,
//		&NetTlsConfigOpt{Config: tlsConfig},
//		&NetWriteTimeoutOpt{Timeout: 30 * time.Second},
//	)
//	defer n.Close()
//	err := n.Listen("tcp://:8080")
//	err = n.Connect("ws://replica:8081/steit")
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/drpcorg/steit/utils"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

type ConnType = uint

var (
	ErrAddressInvalid    = errors.New("the address invalid")
	ErrAddressDuplicated = errors.New("the address already used")
	ErrAddressUnknown    = errors.New("address unknown")
)

const (
	TCP ConnType = iota + 1
	TLS
	WS
	WSS
)

const (
	typicalMTU = 1500

	MaxRetryPeriod = time.Minute
	MinRetryPeriod = time.Second / 2

	// DefaultWSPath is used when a ws address has no path.
	DefaultWSPath = "/steit"
)

type InstallCallback func(name string) FeedDrainCloserTraced
type DestroyCallback func(name string, p Traced)

type Net struct {
	wg        sync.WaitGroup
	log       utils.Logger
	onInstall InstallCallback
	onDestroy DestroyCallback

	conns   *xsync.MapOf[string, *Peer]
	dials   *xsync.MapOf[string, context.CancelFunc]
	listens *xsync.MapOf[string, net.Listener]

	ctx       context.Context
	cancelCtx context.CancelFunc

	tlsConfig    *tls.Config
	writeTimeout time.Duration
	dialTimeout  time.Duration
}

type NetOpt interface {
	Apply(*Net)
}

type NetWriteTimeoutOpt struct {
	Timeout time.Duration
}

func (opt *NetWriteTimeoutOpt) Apply(n *Net) {
	n.writeTimeout = opt.Timeout
}

type NetDialTimeoutOpt struct {
	Timeout time.Duration
}

func (opt *NetDialTimeoutOpt) Apply(n *Net) {
	n.dialTimeout = opt.Timeout
}

type NetTlsConfigOpt struct {
	Config *tls.Config
}

func (opt *NetTlsConfigOpt) Apply(n *Net) {
	n.tlsConfig = opt.Config
}

func NewNet(log utils.Logger, install InstallCallback, destroy DestroyCallback, opts ...NetOpt) *Net {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Net{
		log:         log,
		onInstall:   install,
		onDestroy:   destroy,
		conns:       xsync.NewMapOf[string, *Peer](),
		dials:       xsync.NewMapOf[string, context.CancelFunc](),
		listens:     xsync.NewMapOf[string, net.Listener](),
		ctx:         ctx,
		cancelCtx:   cancel,
		dialTimeout: time.Minute,
	}
	for _, o := range opts {
		o.Apply(n)
	}
	return n
}

// Close stops every listener and connection and waits for their goroutines.
func (n *Net) Close() error {
	n.cancelCtx()

	n.listens.Range(func(_ string, l net.Listener) bool {
		if l != nil {
			_ = l.Close()
		}
		return true
	})
	n.listens.Clear()

	n.conns.Range(func(_ string, p *Peer) bool {
		p.Close()
		return true
	})

	n.wg.Wait()
	n.conns.Clear()
	n.dials.Clear()
	return nil
}

func (n *Net) Connect(addr string) error {
	return n.ConnectPool(addr, []string{addr})
}

// ConnectPool keeps one connection named name alive, dialing addrs in order.
func (n *Net) ConnectPool(name string, addrs []string) error {
	for _, addr := range addrs {
		if _, _, _, err := parseAddr(addr); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithCancel(n.ctx)
	if _, loaded := n.dials.LoadOrStore(name, cancel); loaded {
		cancel()
		return ErrAddressDuplicated
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.KeepConnecting(ctx, name, addrs)
	}()
	return nil
}

func (n *Net) Disconnect(name string) error {
	cancel, ok := n.dials.LoadAndDelete(name)
	if !ok {
		return ErrAddressUnknown
	}
	cancel()
	if peer, ok := n.conns.Load(name); ok {
		peer.Close()
	}
	return nil
}

func (n *Net) Listen(addr string) error {
	// nil blocks a concurrent Listen while the listener is created
	if _, ok := n.listens.LoadOrStore(addr, nil); ok {
		return ErrAddressDuplicated
	}

	listener, err := n.createListener(addr)
	if err != nil {
		n.listens.Delete(addr)
		return err
	}
	n.listens.Store(addr, listener)

	n.log.Info("net: listening", "addr", addr, "local", listener.Addr().String())

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.KeepListening(addr, listener)
	}()
	return nil
}

// ListenAddr is the bound address of a listener, handy for ":0" ports.
func (n *Net) ListenAddr(addr string) (net.Addr, bool) {
	l, ok := n.listens.Load(addr)
	if !ok || l == nil {
		return nil, false
	}
	return l.Addr(), true
}

func (n *Net) Unlisten(addr string) error {
	listener, ok := n.listens.LoadAndDelete(addr)
	if !ok || listener == nil {
		return ErrAddressUnknown
	}
	return listener.Close()
}

// Backlog is the number of frames read off all live connections and
// not yet drained into the tree.
func (n *Net) Backlog() (frames int64) {
	n.conns.Range(func(_ string, peer *Peer) bool {
		frames += int64(peer.Incoming())
		return true
	})
	return
}

// Peers lists the names of live connections.
func (n *Net) Peers() (names []string) {
	n.conns.Range(func(name string, _ *Peer) bool {
		names = append(names, name)
		return true
	})
	return
}

func (n *Net) KeepConnecting(ctx context.Context, name string, addrs []string) {
	backoff := MinRetryPeriod
	for ctx.Err() == nil {
		var err error
		var conn net.Conn
		for _, addr := range addrs {
			if conn, err = n.createConn(ctx, addr); err == nil {
				break
			}
		}

		if err != nil {
			n.log.Error("net: couldn't connect", "name", name, "err", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			backoff = min(MaxRetryPeriod, backoff*2)
			continue
		}

		n.log.Info("net: connected", "name", name)
		backoff = MinRetryPeriod
		n.keepPeer(ctx, name, conn)
	}
}

// KeepListening accepts on listener until it is closed. A later Listen
// on the same addr after Unlisten is left alone.
func (n *Net) KeepListening(addr string, listener net.Listener) {
	for n.ctx.Err() == nil {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			// reconnects are the client's problem
			n.log.Error("net: couldn't accept request", "addr", addr, "err", err)
			continue
		}

		remote := conn.RemoteAddr().String()
		n.log.Info("net: accept connection", "addr", addr, "remoteAddr", remote)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.keepPeer(n.ctx, fmt.Sprintf("listen:%s:%s", uuid.Must(uuid.NewV7()).String(), remote), conn)
		}()
	}

	n.listens.Compute(addr, func(old net.Listener, loaded bool) (net.Listener, bool) {
		return old, !loaded || old == listener
	})
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		n.log.Error("net: couldn't correct close listener", "addr", addr, "err", err)
	}
	n.log.Info("net: listener closed", "addr", addr)
}

func (n *Net) keepPeer(ctx context.Context, name string, conn net.Conn) {
	peer := &Peer{
		inout:        n.onInstall(name),
		conn:         conn,
		writeTimeout: n.writeTimeout,
	}
	n.conns.Store(name, peer)

	lctx := utils.WithDefaultArgs(ctx, "name", name, "trace_id", peer.GetTraceId())
	readErr, writeErr, closeErr := peer.Keep(ctx)
	if readErr != nil {
		n.log.ErrorCtx(lctx, "net: couldn't read from peer", "err", readErr)
	}
	if writeErr != nil {
		n.log.ErrorCtx(lctx, "net: couldn't write to peer", "err", writeErr)
	}
	if closeErr != nil {
		n.log.ErrorCtx(lctx, "net: couldn't correct close peer", "err", closeErr)
	}

	n.log.InfoCtx(lctx, "net: peer closed", "avgWriteBatch", peer.WriteBatchSize(), "backlog", peer.Incoming())
	n.conns.Delete(name)
	peer.Close()
	n.onDestroy(name, peer)
}

func (n *Net) createListener(addr string) (net.Listener, error) {
	connType, address, path, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	config := net.ListenConfig{}
	listener, err := config.Listen(n.ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	switch connType {
	case TLS:
		listener = tls.NewListener(listener, n.tlsConfig)
	case WS:
		listener = listenWS(listener, path, n.log)
	case WSS:
		listener = listenWS(tls.NewListener(listener, n.tlsConfig), path, n.log)
	}
	return listener, nil
}

func (n *Net) createConn(ctx context.Context, addr string) (net.Conn, error) {
	connType, address, path, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	switch connType {
	case TLS:
		d := tls.Dialer{NetDialer: &net.Dialer{Timeout: n.dialTimeout}, Config: n.tlsConfig}
		return d.DialContext(ctx, "tcp", address)
	case WS:
		return dialWS(ctx, "ws://"+address+path, nil, n.dialTimeout)
	case WSS:
		return dialWS(ctx, "wss://"+address+path, n.tlsConfig, n.dialTimeout)
	default:
		d := net.Dialer{Timeout: n.dialTimeout}
		return d.DialContext(ctx, "tcp", address)
	}
}

// parseAddr splits an address into its scheme, host:port and, for
// WebSocket, the request path.
//
//	"tcp://localhost:8080"      -> TCP, "localhost:8080", ""
//	"localhost:8080"            -> TCP, "localhost:8080", ""
//	"ws://example.com:80/sync"  -> WS, "example.com:80", "/sync"
func parseAddr(addr string) (ConnType, string, string, error) {
	if !strings.Contains(addr, "://") {
		return TCP, addr, "", nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return TCP, "", "", err
	}

	var conn ConnType
	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		conn = TCP
	case "tls":
		conn = TLS
	case "ws":
		conn = WS
	case "wss":
		conn = WSS
	default:
		return conn, addr, "", ErrAddressInvalid
	}
	if u.Host == "" {
		return conn, addr, "", ErrAddressInvalid
	}

	path := ""
	if conn == WS || conn == WSS {
		path = u.Path
		if path == "" {
			path = DefaultWSPath
		}
	}
	return conn, u.Host, path, nil
}
