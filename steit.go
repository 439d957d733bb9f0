// Package steit keeps a typed state tree in sync across replicas. A Tree
// applies log entries to its root, appends them to a pebble-backed log,
// folds the log into snapshots and relays entries to connected peers.
package steit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/replay"
	"github.com/drpcorg/steit/state"
	"github.com/drpcorg/steit/steit_errors"
	"github.com/drpcorg/steit/store"
	"github.com/drpcorg/steit/transport"
	"github.com/drpcorg/steit/utils"
	"github.com/pkg/errors"
)

type Options struct {
	// Dir is the store directory; empty keeps everything in memory.
	Dir string
	// SnapshotEvery is the number of log entries between automatic
	// checkpoints; negative disables them.
	SnapshotEvery int
	RecentFrames  int
	Sync          bool

	// ListenMode applies to accepted peers, ConnectMode to dialed ones.
	ListenMode  SyncMode
	ConnectMode SyncMode
	// QueueLimit caps the bytes queued for one peer. A peer that falls
	// further behind is dropped and resyncs on reconnect.
	QueueLimit int
	QueueBatch int
	NetOpts    []transport.NetOpt

	Log utils.Logger
}

func (o *Options) SetDefaults() {
	if o.SnapshotEvery == 0 {
		o.SnapshotEvery = 1 << 16
	}
	if o.ListenMode == 0 {
		o.ListenMode = SyncWL
	}
	if o.ConnectMode == 0 {
		o.ConnectMode = SyncRead
	}
	if o.QueueLimit == 0 {
		o.QueueLimit = 1 << 26
	}
	if o.QueueBatch == 0 {
		o.QueueBatch = 1 << 16
	}
	if o.Log == nil {
		o.Log = utils.NewDefaultLogger(slog.LevelInfo)
	}
}

// Tree is a live root of type T. One lock serializes all access to the
// root; observer hooks run under it and must not call back into the tree.
type Tree[T state.Node] struct {
	opts  Options
	typ   state.Type[T]
	rp    replay.Replayer[T]
	obs   *state.Observer
	store *store.Store
	log   utils.Logger

	lock   sync.Mutex
	root   T
	since  int
	closed bool

	netlock sync.Mutex
	net     *transport.Net

	outlock sync.Mutex
	outq    map[string]*utils.Queue[codec.Records]
}

// Open restores the tree from the latest snapshot and the log after it.
func Open[T state.Node](typ state.Type[T], opts Options) (t *Tree[T], err error) {
	opts.SetDefaults()
	t = &Tree[T]{
		opts: opts,
		typ:  typ,
		rp:   replay.Replayer[T]{Type: typ, Log: opts.Log},
		obs:  state.NewObserver(opts.Log),
		log:  opts.Log,
		outq: make(map[string]*utils.Queue[codec.Records]),
	}
	if t.store, err = store.Open(store.Options{
		Dir:          opts.Dir,
		RecentFrames: opts.RecentFrames,
		Sync:         opts.Sync,
		Log:          opts.Log,
	}); err != nil {
		return nil, err
	}
	if err = t.restore(); err != nil {
		_ = t.store.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tree[T]) restore() error {
	path := state.NewRoot(t.obs)
	t.root = t.typ.Default(path)

	seq, digest, body, err := t.store.LoadSnapshot()
	switch {
	case err == nil:
		if t.root, err = state.DecodeNode(t.typ, body, path); err != nil {
			return errors.Wrapf(err, "snapshot %d", seq)
		}
		t.log.Debug("snapshot loaded", "seq", seq, "digest", digest)
	case errors.Is(err, steit_errors.ErrNoSnapshot):
		seq = 0
	default:
		return err
	}

	err = t.store.Scan(seq+1, func(_ uint64, frame []byte) (err error) {
		t.root, _, err = t.rp.ApplyFrame(t.root, frame)
		t.since++
		return err
	})
	if err != nil {
		return err
	}
	t.log.Info("tree open", "dir", t.opts.Dir, "snapshot", seq, "last", t.store.Last())
	return nil
}

// Commit applies entries locally, logs them and relays them to peers.
// Entries up to the first failing one are kept.
func (t *Tree[T]) Commit(ctx context.Context, entries ...*replay.LogEntry) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return steit_errors.ErrClosed
	}
	var err error
	applied := entries[:0:0]
	for _, e := range entries {
		if t.root, _, err = t.rp.Apply(t.root, e); err != nil {
			break
		}
		applied = append(applied, e)
	}
	if perr := t.persist(ctx, replay.Records(applied...), ""); err == nil {
		err = perr
	}
	return err
}

// Drain applies frames received from the peer named from, then logs them
// and relays them to every other peer.
func (t *Tree[T]) Drain(ctx context.Context, recs codec.Records, from string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return steit_errors.ErrClosed
	}
	var err error
	n := 0
	for ; n < len(recs); n++ {
		if t.root, _, err = t.rp.ApplyFrame(t.root, recs[n]); err != nil {
			t.log.Warn("bad frame", "from", from, "err", err)
			break
		}
	}
	if perr := t.persist(ctx, recs[:n], from); err == nil {
		err = perr
	}
	return err
}

func (t *Tree[T]) persist(ctx context.Context, recs codec.Records, except string) error {
	if len(recs) == 0 {
		return nil
	}
	if _, err := t.store.Append(recs); err != nil {
		return err
	}
	t.broadcast(ctx, recs, except)
	t.since += len(recs)
	if t.opts.SnapshotEvery > 0 && t.since >= t.opts.SnapshotEvery {
		return t.checkpoint()
	}
	return nil
}

func (t *Tree[T]) broadcast(ctx context.Context, recs codec.Records, except string) {
	t.outlock.Lock()
	defer t.outlock.Unlock()
	for name, q := range t.outq {
		if name == except {
			continue
		}
		if err := q.Drain(ctx, recs); err != nil {
			t.log.Warn("dropping peer", "name", name, "err", err)
			_ = q.Close()
			delete(t.outq, name)
		}
	}
}

// Checkpoint snapshots the root and drops the log it folds.
func (t *Tree[T]) Checkpoint() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return steit_errors.ErrClosed
	}
	return t.checkpoint()
}

func (t *Tree[T]) checkpoint() error {
	seq := t.store.Last()
	if err := t.store.SaveSnapshot(seq, state.Encode(t.root)); err != nil {
		return errors.Wrapf(err, "snapshot %d", seq)
	}
	t.log.Debug("checkpoint", "seq", seq, "entries", t.since)
	t.since = 0
	return nil
}

// View runs fn with the root under the tree lock.
func (t *Tree[T]) View(fn func(root T)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	fn(t.root)
}

// Subscribe registers a hook for changes at or below prefix. Hooks run
// synchronously inside Commit and Drain.
func (t *Tree[T]) Subscribe(prefix []uint32, hook state.Hook) (cancel func()) {
	return t.obs.Subscribe(prefix, hook)
}

func (t *Tree[T]) Encode() []byte {
	t.lock.Lock()
	defer t.lock.Unlock()
	return state.Encode(t.root)
}

// Digest hashes the encoded root; replicas holding equal state have equal
// digests.
func (t *Tree[T]) Digest() uint64 {
	return xxhash.Sum64(t.Encode())
}

// Last is the sequence number of the last logged entry.
func (t *Tree[T]) Last() uint64 {
	return t.store.Last()
}

func (t *Tree[T]) Store() *store.Store {
	return t.store
}

func (t *Tree[T]) Close() error {
	t.netlock.Lock()
	if t.net != nil {
		_ = t.net.Close()
		t.net = nil
	}
	t.netlock.Unlock()

	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return steit_errors.ErrClosed
	}
	t.closed = true

	t.outlock.Lock()
	for name, q := range t.outq {
		_ = q.Close()
		delete(t.outq, name)
	}
	t.outlock.Unlock()

	return t.store.Close()
}
