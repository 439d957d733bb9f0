/*
Package codec implements the steit wire format: varints, zig-zag signed
varints, lenient booleans and length-prefixed ("sized") values.

# Values

 1. Unsigned varint - little-endian base-128 groups, the high bit of every
    byte but the last one is set:
    300 → [0xAC, 0x02]

 2. Signed varint - an unsigned varint over the zig-zag image of the value,
    so small magnitudes stay short:
    0 → 0, -1 → 1, 1 → 2, -2 → 3, ...

 3. Boolean - a varint-shaped run of bytes, true iff any byte has a nonzero
    low 7 bits. Writers always emit a single 0 or 1.

 4. Sized - a length varint followed by exactly that many bytes; the body is
    either a nested record/variant or an opaque blob.

# Keys

Every record field is prefixed with a key:

	key = (tag << 3) | wireType

where wireType is Varint (0) or Sized (2). Any other value in the low three
bits is rejected. Keys are varints themselves, so any uint32 tag fits.

# Records and variants

A record is a run of (key, value) pairs in any order, bounded by the span of
the enclosing sized value. A variant is a varint variant tag followed by the
fields of the active variant, inside the same span.

# Parsing

Reader is a cursor over a finite byte span. Sized returns a bounded
sub-reader that borrows the outer buffer, so values handed out by a reader
must be copied if they are to outlive the decode pass:

	r := codec.NewReader(data)
	for !r.EOF() {
		tag, wt, err := r.Key()
		...
	}

# Streams

A stream is a run of sized frames. Split cuts complete frames off a buffer
and leaves a partial tail in place for the next network read.
*/
package codec
