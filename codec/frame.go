package codec

import (
	"bytes"

	"github.com/drpcorg/steit/steit_errors"
	"github.com/pkg/errors"
)

// Records is a batch of frames, the unit of work for storage and network
// I/O. Batching allows for writev() and converts easily to net.Buffers.
type Records [][]byte

func (recs Records) TotalLen() (total int64) {
	for _, r := range recs {
		total += int64(len(r))
	}
	return
}

// MaxFrameLen caps a single frame, so that a corrupted length prefix cannot
// make a reader wait for gigabytes.
const MaxFrameLen = 1 << 30

// ProbeFrame reads the length prefix of a frame.
//
// Returns:
//   - hdrlen: length of the prefix, 0 if the prefix itself is incomplete
//   - bodylen: body length in bytes
//   - err: ErrBadFrame for an oversized or overlong prefix
func ProbeFrame(data []byte) (hdrlen, bodylen int, err error) {
	var v uint64
	for i := 0; i < len(data); i++ {
		if i >= 10 {
			return 0, 0, errors.Wrap(steit_errors.ErrBadFrame, "length prefix too long")
		}
		v |= uint64(data[i]&0x7f) << (7 * i)
		if data[i]&0x80 == 0 {
			if v > MaxFrameLen {
				return 0, 0, errors.Wrapf(steit_errors.ErrBadFrame, "frame of %d bytes", v)
			}
			return i + 1, int(v), nil
		}
	}
	return 0, 0, nil
}

// Frame wraps a body into a standalone sized frame.
func Frame(body ...[]byte) []byte {
	total := TotalLen(body)
	ret := make([]byte, 0, total+UvarintLen(uint64(total)))
	return AppendSized(ret, body...)
}

// Split cuts complete frames (prefix included) off the buffer. A partial
// trailing frame stays in the buffer.
func Split(data *bytes.Buffer) (recs Records, err error) {
	for data.Len() > 0 {
		hlen, blen, e := ProbeFrame(data.Bytes())
		if e != nil {
			return recs, e
		}
		if hlen == 0 || hlen+blen > data.Len() {
			return recs, nil
		}
		record := make([]byte, hlen+blen)
		if n, e := data.Read(record); e != nil {
			return recs, e
		} else if n != hlen+blen {
			panic("impossible buffer reading")
		}
		recs = append(recs, record)
	}
	return
}

// Unframe strips the length prefix of a complete frame.
func Unframe(frame []byte) (body []byte, err error) {
	r := NewReader(frame)
	if body, err = r.SizedBytes(); err != nil {
		return nil, err
	}
	if !r.EOF() {
		return nil, errors.Wrapf(steit_errors.ErrBadFrame, "%d trailing bytes", r.Remaining())
	}
	return body, nil
}
