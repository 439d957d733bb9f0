package steit

import (
	"context"
	"strings"

	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/replay"
	"github.com/drpcorg/steit/state"
	"github.com/drpcorg/steit/transport"
	"github.com/drpcorg/steit/utils"
)

type SyncMode byte

const (
	// SyncRead applies the frames a peer sends.
	SyncRead SyncMode = 1
	// SyncWrite sends the whole root to a peer once it connects.
	SyncWrite SyncMode = 2
	// SyncLive relays every new entry to a peer.
	SyncLive   SyncMode = 4
	SyncRW     SyncMode = SyncRead | SyncWrite
	SyncRL     SyncMode = SyncRead | SyncLive
	SyncWL     SyncMode = SyncWrite | SyncLive
	SyncRWLive SyncMode = SyncRead | SyncWrite | SyncLive
)

// SyncHost is the tree side of a Syncer.
type SyncHost interface {
	Drain(ctx context.Context, recs codec.Records, from string) error
}

// Syncer is the per-connection handler: incoming frames go to the host,
// outgoing frames come from a bounded queue the host fills.
//
// The protocol has no handshake. A writing side opens with a whole-root
// Update and continues with live entries in log order, so a star or tree
// of replicas around one writer converges. Inbound peers are downstream
// and get Options.ListenMode; outbound ones are upstream and get
// Options.ConnectMode.
type Syncer struct {
	Name string
	Mode SyncMode

	host SyncHost
	out  *utils.Queue[codec.Records]
	log  utils.Logger
}

func (s *Syncer) Feed(ctx context.Context) (codec.Records, error) {
	return s.out.Feed(ctx)
}

func (s *Syncer) Drain(ctx context.Context, recs codec.Records) error {
	if s.Mode&SyncRead == 0 {
		s.log.Warn("sync: dropping frames from a write-only peer", "name", s.Name, "frames", len(recs))
		return nil
	}
	return s.host.Drain(ctx, recs, s.Name)
}

func (s *Syncer) Close() error {
	return s.out.Close()
}

func (s *Syncer) GetTraceId() string {
	return s.Name
}

func (t *Tree[T]) install(name string) transport.FeedDrainCloserTraced {
	s := &Syncer{
		Name: name,
		Mode: t.opts.ConnectMode,
		host: t,
		out:  utils.NewQueue[codec.Records](t.opts.QueueLimit, t.opts.QueueBatch),
		log:  t.log,
	}
	if strings.HasPrefix(name, "listen:") {
		s.Mode = t.opts.ListenMode
	}

	// the seed and the registration happen under the tree lock, so no
	// entry falls between the two
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		_ = s.Close()
		return s
	}
	if s.Mode&SyncWrite != 0 {
		seed := replay.Records(replay.NewUpdate(nil, state.Encode(t.root)))
		if err := s.out.Drain(context.Background(), seed); err != nil {
			t.log.Error("sync: couldn't queue the root", "name", name, "err", err)
			_ = s.Close()
			return s
		}
	}
	if s.Mode&SyncLive != 0 {
		t.outlock.Lock()
		old := t.outq[name]
		t.outq[name] = s.out
		t.outlock.Unlock()
		if old != nil {
			_ = old.Close()
		}
	}
	t.log.Info("sync: peer installed", "name", name, "mode", s.Mode)
	return s
}

func (t *Tree[T]) destroy(name string, _ transport.Traced) {
	t.outlock.Lock()
	q := t.outq[name]
	delete(t.outq, name)
	t.outlock.Unlock()
	if q != nil {
		_ = q.Close()
	}
	t.log.Info("sync: peer gone", "name", name)
}

func (t *Tree[T]) network() *transport.Net {
	t.netlock.Lock()
	defer t.netlock.Unlock()
	if t.net == nil {
		t.net = transport.NewNet(t.log, t.install, t.destroy, t.opts.NetOpts...)
	}
	return t.net
}

// Listen accepts peers on addr, e.g. "tcp://:8080" or "ws://:8081/steit".
func (t *Tree[T]) Listen(addr string) error {
	return t.network().Listen(addr)
}

// Unlisten closes the listener on addr; accepted peers stay connected.
func (t *Tree[T]) Unlisten(addr string) error {
	return t.network().Unlisten(addr)
}

// Connect keeps a connection to addr, reconnecting with backoff.
func (t *Tree[T]) Connect(addr string) error {
	return t.network().Connect(addr)
}

func (t *Tree[T]) Disconnect(addr string) error {
	return t.network().Disconnect(addr)
}

// Net exposes the transport, creating it on first use.
func (t *Tree[T]) Net() *transport.Net {
	return t.network()
}
