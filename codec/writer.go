package codec

import "math/bits"

func ZigZagInt64(i int64) uint64 {
	return uint64(i<<1) ^ uint64(i>>63)
}

func ZagZigUint64(u uint64) int64 {
	half := u >> 1
	mask := -(u & 1)
	return int64(half ^ mask)
}

// UvarintLen is the encoded length of v.
func UvarintLen(v uint64) int {
	return (bits.Len64(v|1) + 6) / 7
}

func AppendUvarint(into []byte, v uint64) []byte {
	for v >= 0x80 {
		into = append(into, byte(v)|0x80)
		v >>= 7
	}
	return append(into, byte(v))
}

func AppendVarint(into []byte, v int64) []byte {
	return AppendUvarint(into, ZigZagInt64(v))
}

func AppendBool(into []byte, v bool) []byte {
	if v {
		return append(into, 1)
	}
	return append(into, 0)
}

func AppendKey(into []byte, tag uint32, wt WireType) []byte {
	return AppendUvarint(into, Key(tag, wt))
}

// AppendSized appends the length prefix and the concatenated bodies.
func AppendSized(into []byte, body ...[]byte) []byte {
	total := TotalLen(body)
	into = AppendUvarint(into, uint64(total))
	for _, b := range body {
		into = append(into, b...)
	}
	return into
}

func TotalLen(inputs [][]byte) (sum int) {
	for _, input := range inputs {
		sum += len(input)
	}
	return
}

// Concat concatenates byte slices with pre-allocation.
func Concat(msg ...[]byte) []byte {
	ret := make([]byte, 0, TotalLen(msg))
	for _, b := range msg {
		ret = append(ret, b...)
	}
	return ret
}
