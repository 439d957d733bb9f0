package codec

import (
	"fmt"
	"math"

	"github.com/drpcorg/steit/steit_errors"
	"github.com/pkg/errors"
)

type WireType uint8

const (
	Varint WireType = 0
	Sized  WireType = 2
)

const (
	// WireTypeBits is the width of the wire type in a key.
	WireTypeBits = 3
	// WireTypeMask extracts the wire type from a key.
	WireTypeMask = (1 << WireTypeBits) - 1
)

func (wt WireType) Valid() bool {
	return wt == Varint || wt == Sized
}

func (wt WireType) String() string {
	switch wt {
	case Varint:
		return "Varint"
	case Sized:
		return "Sized"
	default:
		return fmt.Sprintf("WireType(%d)", uint8(wt))
	}
}

// ParseWireType accepts only the two wire types of the protocol.
func ParseWireType(v uint64) (WireType, error) {
	wt := WireType(v)
	if v > WireTypeMask || !wt.Valid() {
		return 0, errors.Wrapf(steit_errors.ErrBadWireType, "wire type %d", v)
	}
	return wt, nil
}

// Key packs a tag and a wire type into a field key.
func Key(tag uint32, wt WireType) uint64 {
	return uint64(tag)<<WireTypeBits | uint64(wt)
}

// SplitKey is the inverse of Key. A tag that does not fit 32 bits fails
// with ErrTagOverflow but still reports the wire type, so the field can
// be skipped.
func SplitKey(key uint64) (tag uint32, wt WireType, err error) {
	wt, err = ParseWireType(key & WireTypeMask)
	if err != nil {
		return 0, 0, err
	}
	if wide := key >> WireTypeBits; wide > math.MaxUint32 {
		return 0, wt, errors.Wrapf(steit_errors.ErrTagOverflow, "tag %d", wide)
	}
	return uint32(key >> WireTypeBits), wt, nil
}
