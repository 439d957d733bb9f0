// Provides common steit errors definitions.
package steit_errors

import "errors"

var (
	// decoding
	ErrEndOfStream        = errors.New("steit: unexpected end of stream")
	ErrBadWireType        = errors.New("steit: illegal wire type")
	ErrUnexpectedWireType = errors.New("steit: unexpected wire type")
	ErrBadFrame           = errors.New("steit: bad frame")
	ErrTagOverflow        = errors.New("steit: tag wider than 32 bits")

	// node contract
	ErrUnsupported      = errors.New("steit: unsupported operation")
	ErrIndexOutOfRange  = errors.New("steit: index out of range")
	ErrInvalidOperation = errors.New("steit: invalid operation")
	ErrKeyNotFound      = errors.New("steit: key not found")

	// the tree, its store and peers
	ErrBadSnapshot = errors.New("steit: snapshot digest mismatch")
	ErrNoSnapshot  = errors.New("steit: no snapshot")
	ErrClosed      = errors.New("steit: closed")
	ErrOverflow    = errors.New("steit: queue overflow")
)
