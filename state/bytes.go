package state

import "github.com/drpcorg/steit/codec"

// Bytes is an opaque leaf holding the rest of its Sized span verbatim.
type Bytes struct {
	Base
	data []byte
}

func NewBytes(path *Path, data []byte) *Bytes {
	return &Bytes{Base: NewBase(path), data: data}
}

var BytesType = NodeType(func(path *Path) *Bytes {
	return NewBytes(path, nil)
})

func (b *Bytes) Data() []byte {
	return b.data
}

func (b *Bytes) Len() int {
	return len(b.data)
}

func (b *Bytes) Reader() *codec.Reader {
	return codec.NewReader(b.data)
}

func (b *Bytes) WireType(tag uint32) (codec.WireType, bool) {
	return 0, false
}

func (b *Bytes) ReplaceAt(tag uint32, wt codec.WireType, r *codec.Reader, notify bool) error {
	return Unsupported(b.path, "bytes replace")
}

// ReplaceAll copies, the span may belong to a transient buffer.
func (b *Bytes) ReplaceAll(r *codec.Reader, notify bool) error {
	b.data = append([]byte(nil), r.Rest()...)
	return nil
}

func (b *Bytes) AppendTo(into []byte) []byte {
	return append(into, b.data...)
}
