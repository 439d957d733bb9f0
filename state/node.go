package state

import (
	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/steit_errors"
	"github.com/pkg/errors"
)

// Node is anything that lives in a tree: a record, a variant, a container
// or a leaf. Decoding and log replay only ever talk to nodes through it.
type Node interface {
	Path() *Path
	// WireType is the expected wire type of the field at tag;
	// false means the tag is unknown or not replaceable.
	WireType(tag uint32) (codec.WireType, bool)
	// Nested is the child node at tag, nil for a primitive or a miss.
	Nested(tag uint32) Node
	// ReplaceAt decodes one field value and installs it in place of the old
	// one. A Sized value comes in a reader scoped to its bytes.
	ReplaceAt(tag uint32, wt codec.WireType, r *codec.Reader, notify bool) error

	IsList() bool
	ReplayListPush(item *codec.Reader) error
	ReplayListPop() error

	IsMap() bool
	ReplayMapInsert(key, value *codec.Reader) error
	ReplayMapRemove(key *codec.Reader) error

	// AppendTo appends the node body, without a length prefix.
	AppendTo(into []byte) []byte
}

// Variant is a tagged union node: exactly one active alternative.
// ReplaceAt on a variant switches the alternative.
type Variant interface {
	Node
	Tag() uint32
	Active() Node
}

// Base carries the path of a node and fails every container operation.
// Records and variants embed it and override what they support.
type Base struct {
	path *Path
}

func NewBase(path *Path) Base {
	return Base{path: orRoot(path)}
}

func (b Base) Path() *Path {
	return b.path
}

func (b Base) Nested(tag uint32) Node {
	return nil
}

func (b Base) IsList() bool {
	return false
}

func (b Base) ReplayListPush(item *codec.Reader) error {
	return Unsupported(b.path, "list push")
}

func (b Base) ReplayListPop() error {
	return Unsupported(b.path, "list pop")
}

func (b Base) IsMap() bool {
	return false
}

func (b Base) ReplayMapInsert(key, value *codec.Reader) error {
	return Unsupported(b.path, "map insert")
}

func (b Base) ReplayMapRemove(key *codec.Reader) error {
	return Unsupported(b.path, "map remove")
}

// Emit reports a change of this node to the tree observer, if any.
func (b Base) Emit(ev Event) {
	b.path.emit(ev)
}

func Unsupported(path *Path, op string) error {
	return errors.Wrapf(steit_errors.ErrUnsupported, "%s at %q", op, path.String())
}
