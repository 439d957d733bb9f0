package state

import (
	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/steit_errors"
	"github.com/pkg/errors"
)

// List is an ordered container addressed by position. Log entries can
// replace an element, push to the end and pop the last one.
type List[T any] struct {
	Base
	typ   Type[T]
	items []T
}

func NewList[T any](typ Type[T], path *Path, items ...T) *List[T] {
	return &List[T]{Base: NewBase(path), typ: typ, items: items}
}

func ListOf[T any](elem Type[T]) Type[*List[T]] {
	return NodeType(func(path *Path) *List[T] {
		return NewList(elem, path)
	})
}

func (l *List[T]) Len() int {
	return len(l.items)
}

func (l *List[T]) At(i int) T {
	return l.items[i]
}

// Items returns the backing slice; callers must not modify it.
func (l *List[T]) Items() []T {
	return l.items
}

func (l *List[T]) WireType(tag uint32) (codec.WireType, bool) {
	if int64(tag) >= int64(len(l.items)) {
		return 0, false
	}
	return l.typ.WireType(), true
}

func (l *List[T]) Nested(tag uint32) Node {
	if int64(tag) >= int64(len(l.items)) {
		return nil
	}
	if n, ok := any(l.items[tag]).(Node); ok {
		return n
	}
	return nil
}

func (l *List[T]) ReplaceAt(tag uint32, wt codec.WireType, r *codec.Reader, notify bool) error {
	if int64(tag) >= int64(len(l.items)) {
		return errors.Wrapf(steit_errors.ErrIndexOutOfRange, "index %d of %d at %q", tag, len(l.items), l.path.String())
	}
	if err := checkWireType(l.path, tag, wt, l.typ.WireType()); err != nil {
		return err
	}
	item, err := l.typ.Decode(r, l.path.Nested(tag))
	if err != nil {
		return err
	}
	if notify {
		l.Emit(Event{Kind: Updated, Tag: tag, Old: l.items[tag], New: item})
	}
	l.items[tag] = item
	return nil
}

func (l *List[T]) IsList() bool {
	return true
}

func (l *List[T]) ReplayListPush(r *codec.Reader) error {
	tag := uint32(len(l.items))
	item, err := l.typ.Decode(r, l.path.Nested(tag))
	if err != nil {
		return err
	}
	l.Emit(Event{Kind: Pushed, Tag: tag, New: item})
	l.items = append(l.items, item)
	return nil
}

func (l *List[T]) ReplayListPop() error {
	if len(l.items) == 0 {
		return errors.Wrapf(steit_errors.ErrInvalidOperation, "pop from an empty list at %q", l.path.String())
	}
	last := len(l.items) - 1
	l.Emit(Event{Kind: Popped, Tag: uint32(last), Old: l.items[last]})
	var zero T
	l.items[last] = zero
	l.items = l.items[:last]
	return nil
}

func (l *List[T]) ReplaceAll(r *codec.Reader, notify bool) error {
	items, err := readSeq(l.typ, r, l.path)
	if err != nil {
		return err
	}
	l.items = items
	return nil
}

func (l *List[T]) AppendTo(into []byte) []byte {
	return appendSeq(into, l.typ, l.items)
}
