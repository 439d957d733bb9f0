package codec

import (
	"math"

	"github.com/drpcorg/steit/steit_errors"
	"github.com/pkg/errors"
)

// Reader is a cursor over a finite byte span.
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) EOF() bool {
	return r.Remaining() <= 0
}

func (r *Reader) eos(want int) error {
	return errors.Wrapf(steit_errors.ErrEndOfStream, "need %d bytes, have %d", want, r.Remaining())
}

func (r *Reader) Byte() (byte, error) {
	if r.EOF() {
		return 0, r.eos(1)
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

// Next returns the next n bytes. The slice borrows the underlying buffer.
func (r *Reader) Next(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, r.eos(n)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Skip(n int) error {
	_, err := r.Next(n)
	return err
}

// Rest consumes everything left in the span.
func (r *Reader) Rest() []byte {
	b := r.data[r.off:]
	r.off = len(r.data)
	return b
}

func (r *Reader) Uvarint() (v uint64, err error) {
	var shift uint
	for {
		var b byte
		if b, err = r.Byte(); err != nil {
			return 0, err
		}
		if shift < 64 {
			v |= uint64(b&0x7f) << shift
		}
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

func (r *Reader) Varint() (int64, error) {
	u, err := r.Uvarint()
	if err != nil {
		return 0, err
	}
	return ZagZigUint64(u), nil
}

// Bool reads a varint-shaped run; any nonzero payload bit makes it true.
func (r *Reader) Bool() (v bool, err error) {
	for {
		var b byte
		if b, err = r.Byte(); err != nil {
			return false, err
		}
		v = v || b&0x7f != 0
		if b&0x80 == 0 {
			return v, nil
		}
	}
}

func (r *Reader) Uint32() (uint32, error) {
	v, err := r.Uvarint()
	return uint32(v), err
}

// Tag reads a varint map key or variant tag, rejecting values wider than
// 32 bits instead of truncating them.
func (r *Reader) Tag() (uint32, error) {
	v, err := r.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, errors.Wrapf(steit_errors.ErrTagOverflow, "tag %d", v)
	}
	return uint32(v), nil
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Varint()
	return int32(v), err
}

func (r *Reader) Size() (int, error) {
	v, err := r.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(r.Remaining()) {
		return 0, r.eos(int(min(v, uint64(len(r.data)+1))))
	}
	return int(v), nil
}

func (r *Reader) Key() (tag uint32, wt WireType, err error) {
	var key uint64
	if key, err = r.Uvarint(); err != nil {
		return
	}
	return SplitKey(key)
}

// SizedBytes reads a length varint and returns that many bytes, borrowed.
func (r *Reader) SizedBytes() ([]byte, error) {
	n, err := r.Size()
	if err != nil {
		return nil, err
	}
	return r.Next(n)
}

// Sized returns a reader bounded to the next sized value.
func (r *Reader) Sized() (*Reader, error) {
	b, err := r.SizedBytes()
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

// SkipField drops one framed field value.
func (r *Reader) SkipField(wt WireType) error {
	switch wt {
	case Varint:
		_, err := r.Bool()
		return err
	case Sized:
		_, err := r.SizedBytes()
		return err
	default:
		return errors.Wrapf(steit_errors.ErrBadWireType, "skip %s", wt)
	}
}

// Discard drops one field value from a reader already scoped to that field,
// i.e. with the length prefix of a sized value stripped.
func (r *Reader) Discard(wt WireType) error {
	switch wt {
	case Varint:
		_, err := r.Bool()
		return err
	case Sized:
		r.Rest()
		return nil
	default:
		return errors.Wrapf(steit_errors.ErrBadWireType, "discard %s", wt)
	}
}
