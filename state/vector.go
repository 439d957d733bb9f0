package state

import "github.com/drpcorg/steit/codec"

// Vector is a closed, decode-only sequence. Elements get positional paths,
// but none of them can be addressed by a log entry.
type Vector[T any] struct {
	Base
	typ   Type[T]
	items []T
}

func NewVector[T any](typ Type[T], path *Path, items ...T) *Vector[T] {
	return &Vector[T]{Base: NewBase(path), typ: typ, items: items}
}

func VectorOf[T any](elem Type[T]) Type[*Vector[T]] {
	return NodeType(func(path *Path) *Vector[T] {
		return NewVector(elem, path)
	})
}

func (v *Vector[T]) Len() int {
	return len(v.items)
}

func (v *Vector[T]) At(i int) T {
	return v.items[i]
}

// Items returns the backing slice; callers must not modify it.
func (v *Vector[T]) Items() []T {
	return v.items
}

func (v *Vector[T]) WireType(tag uint32) (codec.WireType, bool) {
	return 0, false
}

func (v *Vector[T]) ReplaceAt(tag uint32, wt codec.WireType, r *codec.Reader, notify bool) error {
	return Unsupported(v.path, "vector replace")
}

func (v *Vector[T]) ReplaceAll(r *codec.Reader, notify bool) (err error) {
	v.items, err = readSeq(v.typ, r, v.path)
	return
}

func (v *Vector[T]) AppendTo(into []byte) []byte {
	return appendSeq(into, v.typ, v.items)
}

func readSeq[T any](typ Type[T], r *codec.Reader, path *Path) ([]T, error) {
	var items []T
	for tag := uint32(0); !r.EOF(); tag++ {
		item, err := readElem(typ, r, path.Nested(tag))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func appendSeq[T any](into []byte, typ Type[T], items []T) []byte {
	for _, item := range items {
		into = appendElem(into, typ, item)
	}
	return into
}
