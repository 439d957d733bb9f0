package steit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/examples"
	"github.com/drpcorg/steit/replay"
	"github.com/drpcorg/steit/state"
	"github.com/drpcorg/steit/steit_errors"
	"github.com/drpcorg/steit/transport"
	"github.com/drpcorg/steit/utils"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() utils.Logger {
	return utils.NewWriterLogger(io.Discard, slog.LevelDebug)
}

func varint(v int64) []byte {
	return codec.AppendVarint(nil, v)
}

func TestTreeReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := Options{Dir: dir, Log: quietLog()}

	tree, err := Open(examples.HelloType, opts)
	require.NoError(t, err)
	require.NoError(t, tree.Commit(ctx,
		replay.NewListPush([]uint32{0}, varint(1)),
		replay.NewListPush([]uint32{0}, varint(2)),
		replay.NewUpdate([]uint32{0, 1}, varint(-20)),
	))
	before := tree.Encode()
	digest := tree.Digest()
	assert.Equal(t, uint64(3), tree.Last())
	require.NoError(t, tree.Close())
	assert.ErrorIs(t, tree.Close(), steit_errors.ErrClosed)

	tree, err = Open(examples.HelloType, opts)
	require.NoError(t, err)
	if diff := cmp.Diff(before, tree.Encode()); diff != "" {
		t.Errorf("state after reopen (-want +got):\n%s", diff)
	}
	assert.Equal(t, digest, tree.Digest())

	require.NoError(t, tree.Checkpoint())
	require.NoError(t, tree.Commit(ctx,
		replay.NewListPop([]uint32{0}),
		replay.NewUpdate([]uint32{1}, codec.Concat(varint(7), varint(8))),
	))
	digest = tree.Digest()
	require.NoError(t, tree.Close())

	tree, err = Open(examples.HelloType, opts)
	require.NoError(t, err)
	defer tree.Close()
	assert.Equal(t, digest, tree.Digest())
	tree.View(func(root *examples.Hello) {
		assert.Equal(t, []int32{1}, root.Numbers().Items())
		assert.Equal(t, []int32{7, 8}, root.Others().Items())
	})
}

func TestAutoCheckpoint(t *testing.T) {
	ctx := context.Background()
	tree, err := Open(examples.OuterType, Options{SnapshotEvery: 2, Log: quietLog()})
	require.NoError(t, err)
	defer tree.Close()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, tree.Commit(ctx, replay.NewUpdate([]uint32{0}, varint(i))))
	}
	seq, _, body, err := tree.Store().LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	snap, err := state.DecodeNode(examples.OuterType, body, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), snap.Foo())

	var seqs []uint64
	for s := range tree.Store().Frames(0) {
		seqs = append(seqs, s)
	}
	assert.Equal(t, []uint64{3}, seqs)
}

func TestCommitStopsAtFailure(t *testing.T) {
	ctx := context.Background()
	tree, err := Open(examples.HelloType, Options{Log: quietLog()})
	require.NoError(t, err)
	defer tree.Close()

	err = tree.Commit(ctx,
		replay.NewListPush([]uint32{0}, varint(1)),
		replay.NewListPop([]uint32{0}),
		replay.NewListPop([]uint32{0}),
		replay.NewListPush([]uint32{0}, varint(3)),
	)
	assert.ErrorIs(t, err, steit_errors.ErrInvalidOperation)
	assert.Equal(t, uint64(2), tree.Last())
	tree.View(func(root *examples.Hello) {
		assert.Equal(t, 0, root.Numbers().Len())
	})
}

func TestTreeSubscribe(t *testing.T) {
	ctx := context.Background()
	tree, err := Open(examples.OuterType, Options{Log: quietLog()})
	require.NoError(t, err)
	defer tree.Close()

	var kinds []state.EventKind
	cancel := tree.Subscribe([]uint32{2}, func(ev state.Event) {
		kinds = append(kinds, ev.Kind)
	})
	require.NoError(t, tree.Commit(ctx,
		replay.NewUpdate([]uint32{0}, varint(5)),
		replay.NewUpdate([]uint32{2, 0}, varint(6)),
	))
	assert.Equal(t, []state.EventKind{state.Updated}, kinds)

	cancel()
	require.NoError(t, tree.Commit(ctx, replay.NewUpdate([]uint32{2, 1}, []byte{1})))
	assert.Len(t, kinds, 1)
	tree.View(func(root *examples.Outer) {
		assert.Equal(t, int32(5), root.Foo())
		assert.Equal(t, int32(6), root.Inner().Foo())
		assert.True(t, root.Inner().Bar())
	})
}

func TestTreeUnlisten(t *testing.T) {
	tree, err := Open(examples.OuterType, Options{Log: quietLog()})
	require.NoError(t, err)
	defer tree.Close()

	listen := "tcp://127.0.0.1:0"
	require.NoError(t, tree.Listen(listen))
	_, ok := tree.Net().ListenAddr(listen)
	require.True(t, ok)

	require.NoError(t, tree.Unlisten(listen))
	assert.ErrorIs(t, tree.Unlisten(listen), transport.ErrAddressUnknown)
	_, ok = tree.Net().ListenAddr(listen)
	assert.False(t, ok)
	assert.Zero(t, tree.Net().Backlog())

	// the address is free for a new listener
	require.NoError(t, tree.Listen(listen))
}

func converge(t *testing.T, scheme string) {
	ctx := context.Background()
	writer, err := Open(examples.OuterType, Options{Log: quietLog()})
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.Commit(ctx, replay.NewUpdate([]uint32{0}, varint(42))))

	listen := scheme + "://127.0.0.1:0"
	require.NoError(t, writer.Listen(listen))
	addr, ok := writer.Net().ListenAddr(listen)
	require.True(t, ok)

	middle, err := Open(examples.OuterType, Options{Log: quietLog()})
	require.NoError(t, err)
	defer middle.Close()
	require.NoError(t, middle.Listen(listen))
	maddr, ok := middle.Net().ListenAddr(listen)
	require.True(t, ok)

	leaf, err := Open(examples.OuterType, Options{Log: quietLog()})
	require.NoError(t, err)
	defer leaf.Close()

	require.NoError(t, middle.Connect(scheme+"://"+addr.String()))
	require.NoError(t, leaf.Connect(scheme+"://"+maddr.String()))

	same := func() bool {
		d := writer.Digest()
		return middle.Digest() == d && leaf.Digest() == d
	}
	assert.Eventually(t, same, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, writer.Commit(ctx,
		replay.NewUpdate([]uint32{1}, []byte{1}),
		replay.NewUpdate([]uint32{2, 0}, varint(-3)),
	))
	assert.Eventually(t, same, 10*time.Second, 10*time.Millisecond)
	leaf.View(func(root *examples.Outer) {
		assert.Equal(t, int32(42), root.Foo())
		assert.True(t, root.Bar())
		assert.Equal(t, int32(-3), root.Inner().Foo())
	})
}

func TestTreesConvergeTCP(t *testing.T) {
	converge(t, "tcp")
}

func TestTreesConvergeWebSocket(t *testing.T) {
	converge(t, "ws")
}
