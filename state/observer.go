package state

import (
	"log/slog"
	"sync/atomic"

	"github.com/drpcorg/steit/utils"
	"github.com/puzpuzpuz/xsync/v3"
)

type EventKind uint8

const (
	Updated EventKind = iota
	Switched
	Pushed
	Popped
	Inserted
	Removed
	Reset
)

var eventKindNames = [...]string{"updated", "switched", "pushed", "popped", "inserted", "removed", "reset"}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[int(k)]
	}
	return "unknown"
}

// Event is one change applied to a tree. Path is the container that changed,
// Tag the field, list index, map key or new variant tag inside it.
// Old and New hold the replaced and installed values, where they apply.
type Event struct {
	Kind   EventKind
	Path   *Path
	Tag    uint32
	OldTag uint32
	Old    any
	New    any
}

type Hook func(ev Event)

type subscription struct {
	prefix []uint32
	hook   Hook
}

// Observer fans the events of one tree out to its subscribers.
// Hooks run synchronously on the goroutine applying the change.
type Observer struct {
	hooks *xsync.MapOf[uint64, subscription]
	seq   atomic.Uint64
	log   utils.Logger
}

var defaultLog utils.Logger = utils.NewDefaultLogger(slog.LevelWarn)

func NewObserver(log utils.Logger) *Observer {
	if log == nil {
		log = defaultLog
	}
	return &Observer{
		hooks: xsync.NewMapOf[uint64, subscription](),
		log:   log,
	}
}

// Subscribe registers a hook for events on containers at or below prefix.
// An empty prefix sees everything.
func (o *Observer) Subscribe(prefix []uint32, hook Hook) (cancel func()) {
	id := o.seq.Add(1)
	o.hooks.Store(id, subscription{
		prefix: append([]uint32(nil), prefix...),
		hook:   hook,
	})
	return func() { o.hooks.Delete(id) }
}

func (o *Observer) Emit(ev Event) {
	o.hooks.Range(func(_ uint64, sub subscription) bool {
		if ev.Path.HasPrefix(sub.prefix) {
			sub.hook(ev)
		}
		return true
	})
}

func (o *Observer) Logger() utils.Logger {
	if o == nil {
		return defaultLog
	}
	return o.log
}

func (o *Observer) Len() int {
	return o.hooks.Size()
}
