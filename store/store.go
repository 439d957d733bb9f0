// Package store keeps the durable side of a tree in pebble: the log of
// framed entries and one snapshot that folds the log prefix.
//
// Keys:
//
//	'L' + bigendian(seq)  one framed log entry
//	'S'                   snapshot: seq varint | digest u64 | body
package store

import (
	"encoding/binary"
	"iter"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/steit_errors"
	"github.com/drpcorg/steit/utils"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

const (
	logPrefix   = 'L'
	snapshotKey = 'S'
)

type Options struct {
	// Dir is the pebble directory; empty means an in-memory store.
	Dir string
	// RecentFrames is the number of freshly appended frames kept in memory.
	RecentFrames int
	// Sync makes every append durable before it returns.
	Sync bool
	Log  utils.Logger
}

func (o *Options) SetDefaults() {
	if o.RecentFrames == 0 {
		o.RecentFrames = 1 << 12
	}
	if o.Log == nil {
		o.Log = utils.NewDefaultLogger(slog.LevelInfo)
	}
}

type Store struct {
	db     *pebble.DB
	opts   Options
	wopts  *pebble.WriteOptions
	recent *lru.Cache[uint64, []byte]

	lock sync.Mutex
	last uint64
}

func LogKey(seq uint64) []byte {
	var ret = [9]byte{logPrefix}
	binary.BigEndian.PutUint64(ret[1:], seq)
	return ret[:]
}

func LogKeySeq(key []byte) (seq uint64, ok bool) {
	if len(key) != 9 || key[0] != logPrefix {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[1:]), true
}

func Open(opts Options) (s *Store, err error) {
	opts.SetDefaults()
	popts := pebble.Options{}
	dir := opts.Dir
	if dir == "" {
		dir = "steit"
		popts.FS = vfs.NewMem()
	}
	s = &Store{
		opts:  opts,
		wopts: &pebble.WriteOptions{Sync: opts.Sync},
	}
	if s.recent, err = lru.New[uint64, []byte](opts.RecentFrames); err != nil {
		return nil, err
	}
	if s.db, err = pebble.Open(dir, &popts); err != nil {
		return nil, errors.Wrapf(err, "open %q", dir)
	}
	if s.last, err = s.lastSeq(); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	opts.Log.Debug("store open", "dir", opts.Dir, "last", s.last)
	return s, nil
}

func (s *Store) lastSeq() (uint64, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{logPrefix},
		UpperBound: []byte{logPrefix + 1},
	})
	if err != nil {
		return 0, err
	}
	defer it.Close()
	if it.Last() {
		seq, _ := LogKeySeq(it.Key())
		return seq, nil
	}
	seq, _, err := s.snapshotHead()
	if errors.Is(err, steit_errors.ErrNoSnapshot) {
		return 0, nil
	}
	return seq, err
}

func (s *Store) DB() *pebble.DB {
	return s.db
}

// Last is the sequence number of the last appended frame, 0 for none.
func (s *Store) Last() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.last
}

// Append writes frames in one batch, numbering them after Last.
func (s *Store) Append(recs codec.Records) (last uint64, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	batch := s.db.NewBatch()
	defer batch.Close()
	seq := s.last
	for _, rec := range recs {
		seq++
		if err = batch.Set(LogKey(seq), rec, nil); err != nil {
			return s.last, err
		}
	}
	if err = batch.Commit(s.wopts); err != nil {
		return s.last, err
	}
	for i, rec := range recs {
		s.recent.Add(s.last+uint64(i)+1, rec)
	}
	s.last = seq
	return seq, nil
}

// Get reads one frame, from memory when it is recent.
func (s *Store) Get(seq uint64) ([]byte, error) {
	if rec, ok := s.recent.Get(seq); ok {
		return rec, nil
	}
	val, closer, err := s.db.Get(LogKey(seq))
	if err != nil {
		return nil, errors.Wrapf(err, "frame %d", seq)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// Frames iterates log frames with seq >= from in order. Frames are copies.
func (s *Store) Frames(from uint64) iter.Seq2[uint64, []byte] {
	return func(yield func(seq uint64, frame []byte) bool) {
		it, err := s.db.NewIter(&pebble.IterOptions{
			LowerBound: LogKey(from),
			UpperBound: []byte{logPrefix + 1},
		})
		if err != nil {
			s.opts.Log.Error("log scan failed", "err", err)
			return
		}
		defer it.Close()
		for valid := it.First(); valid; valid = it.Next() {
			seq, ok := LogKeySeq(it.Key())
			if !ok {
				continue
			}
			if !yield(seq, append([]byte(nil), it.Value()...)) {
				return
			}
		}
	}
}

// Scan calls fn for every frame from seq on, stopping at the first error.
func (s *Store) Scan(from uint64, fn func(seq uint64, frame []byte) error) error {
	for seq, frame := range s.Frames(from) {
		if err := fn(seq, frame); err != nil {
			return errors.Wrapf(err, "frame %d", seq)
		}
	}
	return nil
}

// SaveSnapshot stores the tree state as of seq and drops the log frames it
// folds, all in one batch.
func (s *Store) SaveSnapshot(seq uint64, body []byte) error {
	val := codec.AppendUvarint(nil, seq)
	val = binary.BigEndian.AppendUint64(val, xxhash.Sum64(body))
	val = append(val, body...)

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set([]byte{snapshotKey}, val, nil); err != nil {
		return err
	}
	if err := batch.DeleteRange(LogKey(0), LogKey(seq+1), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}
	for _, k := range s.recent.Keys() {
		if k <= seq {
			s.recent.Remove(k)
		}
	}
	return nil
}

func (s *Store) snapshotHead() (seq, digest uint64, err error) {
	seq, digest, _, err = s.LoadSnapshot()
	return
}

// LoadSnapshot returns the latest snapshot after checking its digest.
func (s *Store) LoadSnapshot() (seq, digest uint64, body []byte, err error) {
	val, closer, err := s.db.Get([]byte{snapshotKey})
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, 0, nil, steit_errors.ErrNoSnapshot
	} else if err != nil {
		return 0, 0, nil, err
	}
	defer closer.Close()
	r := codec.NewReader(val)
	if seq, err = r.Uvarint(); err != nil {
		return 0, 0, nil, errors.Wrap(steit_errors.ErrBadSnapshot, err.Error())
	}
	head, err := r.Next(8)
	if err != nil {
		return 0, 0, nil, errors.Wrap(steit_errors.ErrBadSnapshot, err.Error())
	}
	digest = binary.BigEndian.Uint64(head)
	body = append([]byte(nil), r.Rest()...)
	if xxhash.Sum64(body) != digest {
		return 0, 0, nil, errors.Wrapf(steit_errors.ErrBadSnapshot, "seq %d", seq)
	}
	return seq, digest, body, nil
}

func (s *Store) Close() error {
	s.recent.Purge()
	return s.db.Close()
}
