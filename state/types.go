package state

import (
	"github.com/drpcorg/steit/codec"
	"golang.org/x/exp/constraints"
)

// Type is what a container or a record needs to know about a field or an
// element type: how it is framed, its default and its codec.
// Decode reads one value; a Sized value arrives in a reader scoped to it.
type Type[T any] interface {
	WireType() codec.WireType
	Default(path *Path) T
	Decode(r *codec.Reader, path *Path) (T, error)
	Append(into []byte, v T) []byte
}

type signed[T constraints.Signed] struct{}

func (signed[T]) WireType() codec.WireType { return codec.Varint }

func (signed[T]) Default(*Path) (zero T) { return }

func (signed[T]) Decode(r *codec.Reader, _ *Path) (T, error) {
	v, err := r.Varint()
	return T(v), err
}

func (signed[T]) Append(into []byte, v T) []byte {
	return codec.AppendVarint(into, int64(v))
}

type unsigned[T constraints.Unsigned] struct{}

func (unsigned[T]) WireType() codec.WireType { return codec.Varint }

func (unsigned[T]) Default(*Path) (zero T) { return }

func (unsigned[T]) Decode(r *codec.Reader, _ *Path) (T, error) {
	v, err := r.Uvarint()
	return T(v), err
}

func (unsigned[T]) Append(into []byte, v T) []byte {
	return codec.AppendUvarint(into, uint64(v))
}

type boolean struct{}

func (boolean) WireType() codec.WireType { return codec.Varint }

func (boolean) Default(*Path) bool { return false }

func (boolean) Decode(r *codec.Reader, _ *Path) (bool, error) { return r.Bool() }

func (boolean) Append(into []byte, v bool) []byte { return codec.AppendBool(into, v) }

type str struct{}

func (str) WireType() codec.WireType { return codec.Sized }

func (str) Default(*Path) string { return "" }

func (str) Decode(r *codec.Reader, _ *Path) (string, error) { return string(r.Rest()), nil }

func (str) Append(into []byte, v string) []byte { return append(into, v...) }

var (
	Int8   Type[int8]   = signed[int8]{}
	Int16  Type[int16]  = signed[int16]{}
	Int32  Type[int32]  = signed[int32]{}
	Int64  Type[int64]  = signed[int64]{}
	Uint8  Type[uint8]  = unsigned[uint8]{}
	Uint16 Type[uint16] = unsigned[uint16]{}
	Uint32 Type[uint32] = unsigned[uint32]{}
	Uint64 Type[uint64] = unsigned[uint64]{}
	Bool   Type[bool]   = boolean{}
	String Type[string] = str{}
)

type nodeType[T Node] struct {
	newT func(path *Path) T
}

// NodeType makes a Type out of a node constructor. The constructor builds
// the default node at a path; decoding fills it from a Sized span.
func NodeType[T Node](newT func(path *Path) T) Type[T] {
	return nodeType[T]{newT: newT}
}

func (t nodeType[T]) WireType() codec.WireType { return codec.Sized }

func (t nodeType[T]) Default(path *Path) T {
	return t.newT(orRoot(path))
}

func (t nodeType[T]) Decode(r *codec.Reader, path *Path) (n T, err error) {
	n = t.newT(orRoot(path))
	if err = Replace(n, r, false); err != nil {
		var zero T
		return zero, err
	}
	return n, nil
}

func (t nodeType[T]) Append(into []byte, v T) []byte {
	return v.AppendTo(into)
}

// DecodeNode materializes a node of type typ from a whole byte span.
func DecodeNode[T any](typ Type[T], data []byte, path *Path) (T, error) {
	return typ.Decode(codec.NewReader(data), path)
}

// Encode is the body of a node, as DecodeNode expects it.
func Encode(n Node) []byte {
	return n.AppendTo(nil)
}

// readElem reads one framed value off a sequence, as opposed to Decode
// which gets a reader already scoped to the value.
func readElem[T any](typ Type[T], r *codec.Reader, path *Path) (T, error) {
	if typ.WireType() != codec.Sized {
		return typ.Decode(r, path)
	}
	sub, err := r.Sized()
	if err != nil {
		var zero T
		return zero, err
	}
	return typ.Decode(sub, path)
}

func appendElem[T any](into []byte, typ Type[T], v T) []byte {
	if typ.WireType() != codec.Sized {
		return typ.Append(into, v)
	}
	return codec.AppendSized(into, typ.Append(nil, v))
}

// AppendField appends a keyed field: the key, then the value framed per its
// wire type.
func AppendField[T any](into []byte, tag uint32, typ Type[T], v T) []byte {
	into = codec.AppendKey(into, tag, typ.WireType())
	return appendElem(into, typ, v)
}
