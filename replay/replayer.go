package replay

import (
	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/state"
	"github.com/drpcorg/steit/utils"
)

type Outcome uint8

const (
	Applied Outcome = iota
	// Discarded entries address nothing in the current tree; they are
	// dropped and replay goes on.
	Discarded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Discarded:
		return "discarded"
	default:
		return "failed"
	}
}

// Replayer applies log entries to a live root of type T.
// It keeps no state between calls; the caller serializes access to a root.
type Replayer[T state.Node] struct {
	Type state.Type[T]
	Log  utils.Logger
}

func (rp *Replayer[T]) logger(root T) utils.Logger {
	if rp.Log != nil {
		return rp.Log
	}
	return root.Path().Observer().Logger()
}

// Apply runs one entry against root and returns the new root, which differs
// from the old one only after a whole-root Update.
// Errors are fatal to the entry and leave root as it was.
func (rp *Replayer[T]) Apply(root T, e *LogEntry) (T, Outcome, error) {
	next, outcome, err := rp.apply(root, e)
	EntriesTotal.WithLabelValues(e.Kind().String(), outcome.String()).Inc()
	return next, outcome, err
}

func (rp *Replayer[T]) apply(root T, e *LogEntry) (T, Outcome, error) {
	kind := e.Kind()
	if !kind.Known() {
		rp.logger(root).Warn("discarding entry of unknown kind", "kind", kind)
		return root, Discarded, nil
	}
	tags := e.FlattenPath()
	var field uint32
	if kind == KindUpdate {
		if len(tags) == 0 {
			return rp.reset(root, e.Value())
		}
		field, tags = tags[len(tags)-1], tags[:len(tags)-1]
	}

	container := state.Resolve(root, tags)
	if container == nil {
		rp.logger(root).Warn("discarding entry, no such path", "kind", kind, "path", e.FlattenPath())
		return root, Discarded, nil
	}

	var err error
	switch kind {
	case KindUpdate:
		wt, ok := container.WireType(field)
		if !ok {
			rp.logger(root).Warn("discarding entry, no such field", "path", e.FlattenPath())
			return root, Discarded, nil
		}
		err = container.ReplaceAt(field, wt, codec.NewReader(e.Value()), true)
	case KindListPush:
		err = container.ReplayListPush(codec.NewReader(e.Value()))
	case KindListPop:
		err = container.ReplayListPop()
	case KindMapInsert:
		err = container.ReplayMapInsert(codec.NewReader(e.Value()), codec.NewReader(e.MapValue()))
	case KindMapRemove:
		err = container.ReplayMapRemove(codec.NewReader(e.Value()))
	}
	if err != nil {
		return root, Failed, err
	}
	return root, Applied, nil
}

func (rp *Replayer[T]) reset(root T, value []byte) (T, Outcome, error) {
	next, err := state.DecodeNode(rp.Type, value, root.Path())
	if err != nil {
		return root, Failed, err
	}
	if obs := root.Path().Observer(); obs != nil {
		obs.Emit(state.Event{Kind: state.Reset, Path: root.Path(), Old: root, New: next})
	}
	return next, Applied, nil
}

// ApplyFrame decodes one Sized frame and applies it.
func (rp *Replayer[T]) ApplyFrame(root T, frame []byte) (T, Outcome, error) {
	e, err := decodeFrame(frame)
	if err != nil {
		EntriesTotal.WithLabelValues("unknown", Failed.String()).Inc()
		return root, Failed, err
	}
	BytesTotal.Add(float64(len(frame)))
	return rp.Apply(root, e)
}

// Replay applies a stream of framed entries in order until r is exhausted.
// On error the returned root carries every entry applied before the
// failing one.
func (rp *Replayer[T]) Replay(root T, r *codec.Reader) (T, error) {
	for !r.EOF() {
		before := r.Remaining()
		e, err := ReadEntry(r)
		if err != nil {
			return root, err
		}
		BytesTotal.Add(float64(before - r.Remaining()))
		if root, _, err = rp.Apply(root, e); err != nil {
			return root, err
		}
	}
	return root, nil
}
