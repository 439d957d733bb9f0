package state

import (
	"slices"

	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/steit_errors"
	"github.com/pkg/errors"
)

// Map is a container keyed by uint32, the key doubling as the field tag.
// Its body is a run of (key, value) fields in ascending key order.
type Map[T any] struct {
	Base
	typ   Type[T]
	items map[uint32]T
}

func NewMap[T any](typ Type[T], path *Path) *Map[T] {
	return &Map[T]{Base: NewBase(path), typ: typ, items: make(map[uint32]T)}
}

func MapOf[T any](elem Type[T]) Type[*Map[T]] {
	return NodeType(func(path *Path) *Map[T] {
		return NewMap(elem, path)
	})
}

func (m *Map[T]) Len() int {
	return len(m.items)
}

func (m *Map[T]) Get(key uint32) (v T, ok bool) {
	v, ok = m.items[key]
	return
}

func (m *Map[T]) Keys() []uint32 {
	keys := make([]uint32, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// WireType accepts any key: replacing an absent key inserts it.
func (m *Map[T]) WireType(tag uint32) (codec.WireType, bool) {
	return m.typ.WireType(), true
}

func (m *Map[T]) Nested(tag uint32) Node {
	item, ok := m.items[tag]
	if !ok {
		return nil
	}
	if n, ok := any(item).(Node); ok {
		return n
	}
	return nil
}

func (m *Map[T]) ReplaceAt(tag uint32, wt codec.WireType, r *codec.Reader, notify bool) error {
	if err := checkWireType(m.path, tag, wt, m.typ.WireType()); err != nil {
		return err
	}
	item, err := m.typ.Decode(r, m.path.Nested(tag))
	if err != nil {
		return err
	}
	if notify {
		if old, ok := m.items[tag]; ok {
			m.Emit(Event{Kind: Updated, Tag: tag, Old: old, New: item})
		} else {
			m.Emit(Event{Kind: Inserted, Tag: tag, New: item})
		}
	}
	m.items[tag] = item
	return nil
}

func (m *Map[T]) IsMap() bool {
	return true
}

func (m *Map[T]) ReplayMapInsert(key, value *codec.Reader) error {
	k, err := key.Tag()
	if err != nil {
		return err
	}
	return m.ReplaceAt(k, m.typ.WireType(), value, true)
}

func (m *Map[T]) ReplayMapRemove(key *codec.Reader) error {
	k, err := key.Tag()
	if err != nil {
		return err
	}
	old, ok := m.items[k]
	if !ok {
		return errors.Wrapf(steit_errors.ErrKeyNotFound, "key %d at %q", k, m.path.String())
	}
	m.Emit(Event{Kind: Removed, Tag: k, Old: old})
	delete(m.items, k)
	return nil
}

func (m *Map[T]) ReplaceAll(r *codec.Reader, notify bool) error {
	items := make(map[uint32]T)
	for !r.EOF() {
		tag, wt, err := r.Key()
		if errors.Is(err, steit_errors.ErrTagOverflow) {
			m.path.Observer().Logger().Warn("skipping map entry of oversized key",
				"path", m.path.String(), "error", err)
			if err = r.SkipField(wt); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if wt != m.typ.WireType() {
			m.path.Observer().Logger().Warn("skipping map entry of unexpected wire type",
				"path", m.path.String(), "key", tag, "wire_type", wt)
			if err = r.SkipField(wt); err != nil {
				return err
			}
			continue
		}
		item, err := readElem(m.typ, r, m.path.Nested(tag))
		if err != nil {
			return err
		}
		items[tag] = item
	}
	m.items = items
	return nil
}

func (m *Map[T]) AppendTo(into []byte) []byte {
	for _, k := range m.Keys() {
		into = AppendField(into, k, m.typ, m.items[k])
	}
	return into
}
