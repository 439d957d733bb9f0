package state

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/steit_errors"
	"github.com/drpcorg/steit/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	Base
	num  int32
	flag bool
	list *List[int32]
}

func newRec(path *Path) *rec {
	return &rec{Base: NewBase(path), list: NewList(Int32, path.Nested(2))}
}

var recType = NodeType(newRec)

func (r *rec) WireType(tag uint32) (codec.WireType, bool) {
	switch tag {
	case 0, 1:
		return codec.Varint, true
	case 2:
		return codec.Sized, true
	}
	return 0, false
}

func (r *rec) Nested(tag uint32) Node {
	if tag == 2 {
		return r.list
	}
	return nil
}

func (r *rec) ReplaceAt(tag uint32, wt codec.WireType, rd *codec.Reader, notify bool) error {
	switch tag {
	case 0:
		return SetField(r, &r.num, tag, Int32, wt, rd, notify)
	case 1:
		return SetField(r, &r.flag, tag, Bool, wt, rd, notify)
	case 2:
		return SetField(r, &r.list, tag, ListOf(Int32), wt, rd, notify)
	}
	return rd.Discard(wt)
}

func (r *rec) AppendTo(into []byte) []byte {
	into = AppendField(into, 0, Int32, r.num)
	into = AppendField(into, 1, Bool, r.flag)
	return AppendField(into, 2, ListOf(Int32), r.list)
}

func varint(v int64) *codec.Reader {
	return codec.NewReader(codec.AppendVarint(nil, v))
}

func uvarint(v uint64) *codec.Reader {
	return codec.NewReader(codec.AppendUvarint(nil, v))
}

func collect(obs *Observer, prefix []uint32) *[]Event {
	events := &[]Event{}
	obs.Subscribe(prefix, func(ev Event) { *events = append(*events, ev) })
	return events
}

func TestSequences(t *testing.T) {
	list, err := DecodeNode(ListOf(Int32), []byte{2, 4, 242, 20}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 1337}, list.Items())

	vec, err := DecodeNode(VectorOf(Int32), []byte{1, 3, 242, 20}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, -2, 1337}, vec.Items())
	assert.Equal(t, []byte{1, 3, 242, 20}, Encode(vec))

	_, err = DecodeNode(ListOf(Int32), []byte{2, 0x80}, nil)
	assert.True(t, errors.Is(err, steit_errors.ErrEndOfStream))

	assert.True(t, errors.Is(vec.ReplaceAt(0, codec.Varint, varint(1), true), steit_errors.ErrUnsupported))
	assert.True(t, errors.Is(vec.ReplayListPop(), steit_errors.ErrUnsupported))
	assert.Nil(t, vec.Nested(0))
	_, ok := vec.WireType(0)
	assert.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
	r := newRec(nil)
	r.num = -1337
	r.flag = true
	r.list = NewList(Int32, Root().Nested(2), 5, -6, 7)
	body := Encode(r)

	back, err := DecodeNode(recType, body, nil)
	require.NoError(t, err)
	assert.Equal(t, r.num, back.num)
	assert.Equal(t, r.flag, back.flag)
	assert.Equal(t, r.list.Items(), back.list.Items())
	assert.Equal(t, "/2", back.list.Path().String())
	assert.Equal(t, body, Encode(back))

	nested := NewList(recType, nil, r, newRec(Root().Nested(1)))
	again, err := DecodeNode(ListOf(recType), Encode(nested), nil)
	require.NoError(t, err)
	require.Equal(t, 2, again.Len())
	assert.Equal(t, int32(-1337), again.At(0).num)
	assert.Equal(t, "/1/2", again.At(1).list.Path().String())

	m := NewMap(String, nil)
	require.NoError(t, m.ReplaceAt(3, codec.Sized, codec.NewReader([]byte("three")), false))
	require.NoError(t, m.ReplaceAt(1, codec.Sized, codec.NewReader([]byte("one")), false))
	mback, err := DecodeNode(MapOf(String), Encode(m), nil)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, mback.Keys())
	v, ok := mback.Get(3)
	assert.True(t, ok)
	assert.Equal(t, "three", v)

	for _, u := range []uint64{0, 1, 255} {
		b, err := DecodeNode(Uint8, Uint8.Append(nil, uint8(u)), nil)
		assert.NoError(t, err)
		assert.Equal(t, uint8(u), b)
	}
	i64, err := DecodeNode(Int64, Int64.Append(nil, -1<<63), nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(-1<<63), i64)

	raw, err := DecodeNode(BytesType, []byte{9, 8, 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7}, raw.Data())
	assert.True(t, errors.Is(raw.ReplayMapRemove(uvarint(1)), steit_errors.ErrUnsupported))
}

func TestSkipUnknown(t *testing.T) {
	r := newRec(nil)
	r.num = 42
	r.list = NewList(Int32, nil, 1, 2)
	body := Encode(r)

	extra := append([]byte(nil), body...)
	extra = codec.AppendKey(extra, 7, codec.Varint)
	extra = codec.AppendUvarint(extra, 300)
	extra = codec.AppendKey(extra, 9, codec.Sized)
	extra = codec.AppendSized(extra, []byte("zzz"))

	plain, err := DecodeNode(recType, body, nil)
	require.NoError(t, err)
	padded, err := DecodeNode(recType, extra, nil)
	require.NoError(t, err)
	assert.Equal(t, Encode(plain), Encode(padded))
	assert.Equal(t, int32(42), padded.num)
}

func TestWireTypeMismatch(t *testing.T) {
	var logs bytes.Buffer
	obs := NewObserver(utils.NewWriterLogger(&logs, slog.LevelWarn))

	var body []byte
	body = codec.AppendKey(body, 0, codec.Sized)
	body = codec.AppendSized(body, []byte{1, 2})
	body = codec.AppendKey(body, 1, codec.Varint)
	body = codec.AppendBool(body, true)

	r, err := DecodeNode(recType, body, NewRoot(obs))
	require.NoError(t, err)
	assert.Equal(t, int32(0), r.num)
	assert.True(t, r.flag)
	assert.Contains(t, logs.String(), "unexpected wire type")

	err = r.ReplaceAt(0, codec.Sized, codec.NewReader(nil), false)
	assert.True(t, errors.Is(err, steit_errors.ErrUnexpectedWireType))
}

func TestWideTagSkipped(t *testing.T) {
	var logs bytes.Buffer
	obs := NewObserver(utils.NewWriterLogger(&logs, slog.LevelWarn))

	var body []byte
	body = codec.AppendKey(body, 0, codec.Varint)
	body = codec.AppendVarint(body, 5)
	body = codec.AppendUvarint(body, uint64(1)<<32<<codec.WireTypeBits|uint64(codec.Varint))
	body = codec.AppendVarint(body, 99)
	body = codec.AppendKey(body, 1, codec.Varint)
	body = codec.AppendBool(body, true)

	r, err := DecodeNode(recType, body, NewRoot(obs))
	require.NoError(t, err)
	assert.Equal(t, int32(5), r.num)
	assert.True(t, r.flag)
	assert.Contains(t, logs.String(), "oversized tag")

	var mbody []byte
	mbody = codec.AppendUvarint(mbody, (uint64(1)<<32+3)<<codec.WireTypeBits|uint64(codec.Varint))
	mbody = codec.AppendVarint(mbody, 1)
	mbody = codec.AppendKey(mbody, 4, codec.Varint)
	mbody = codec.AppendVarint(mbody, 2)
	m, err := DecodeNode(MapOf(Int32), mbody, NewRoot(obs))
	require.NoError(t, err)
	assert.Equal(t, []uint32{4}, m.Keys())
}

func TestListReplay(t *testing.T) {
	obs := NewObserver(nil)
	events := collect(obs, nil)
	list := NewList(Int16, NewRoot(obs))

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, list.ReplayListPush(varint(i*10)))
	}
	assert.Equal(t, []int16{10, 20, 30}, list.Items())
	for i := 0; i < 3; i++ {
		require.NoError(t, list.ReplayListPop())
	}
	assert.Equal(t, 0, list.Len())

	require.Len(t, *events, 6)
	for i, ev := range (*events)[:3] {
		assert.Equal(t, Pushed, ev.Kind)
		assert.Equal(t, uint32(i), ev.Tag)
		assert.Equal(t, int16(10*(i+1)), ev.New)
	}
	for i, ev := range (*events)[3:] {
		assert.Equal(t, Popped, ev.Kind)
		assert.Equal(t, uint32(2-i), ev.Tag)
		assert.Equal(t, int16(10*(3-i)), ev.Old)
	}

	err := list.ReplayListPop()
	assert.True(t, errors.Is(err, steit_errors.ErrInvalidOperation))

	require.NoError(t, list.ReplayListPush(varint(-4)))
	err = list.ReplaceAt(1, codec.Varint, varint(5), true)
	assert.True(t, errors.Is(err, steit_errors.ErrIndexOutOfRange))
	require.NoError(t, list.ReplaceAt(0, codec.Varint, varint(5), true))
	last := (*events)[len(*events)-1]
	assert.Equal(t, Updated, last.Kind)
	assert.Equal(t, int16(-4), last.Old)
	assert.Equal(t, int16(5), last.New)

	_, ok := list.WireType(0)
	assert.True(t, ok)
	_, ok = list.WireType(1)
	assert.False(t, ok)
	assert.Nil(t, list.Nested(0))
	assert.True(t, errors.Is(list.ReplayMapInsert(uvarint(0), varint(0)), steit_errors.ErrUnsupported))
}

func TestMapReplay(t *testing.T) {
	obs := NewObserver(nil)
	events := collect(obs, nil)
	m := NewMap(Int32, NewRoot(obs).Nested(4))

	require.NoError(t, m.ReplayMapInsert(uvarint(7), varint(1)))
	require.NoError(t, m.ReplayMapInsert(uvarint(7), varint(2)))
	v, ok := m.Get(7)
	assert.True(t, ok)
	assert.Equal(t, int32(2), v)

	require.Len(t, *events, 2)
	assert.Equal(t, Inserted, (*events)[0].Kind)
	assert.Equal(t, Updated, (*events)[1].Kind)
	assert.Equal(t, int32(1), (*events)[1].Old)
	assert.Equal(t, "/4", (*events)[1].Path.String())

	err := m.ReplayMapRemove(uvarint(8))
	assert.True(t, errors.Is(err, steit_errors.ErrKeyNotFound))

	require.NoError(t, m.ReplayMapRemove(uvarint(7)))
	assert.Equal(t, Removed, (*events)[2].Kind)
	assert.Equal(t, int32(2), (*events)[2].Old)
	assert.Equal(t, 0, m.Len())
	assert.True(t, errors.Is(m.ReplayListPop(), steit_errors.ErrUnsupported))
}

func TestMapWideKey(t *testing.T) {
	obs := NewObserver(nil)
	events := collect(obs, nil)
	m := NewMap(Int32, NewRoot(obs).Nested(4))
	require.NoError(t, m.ReplayMapInsert(uvarint(3), varint(1)))

	wide := uint64(1)<<32 + 3
	err := m.ReplayMapInsert(uvarint(wide), varint(9))
	assert.True(t, errors.Is(err, steit_errors.ErrTagOverflow))
	err = m.ReplayMapRemove(uvarint(wide))
	assert.True(t, errors.Is(err, steit_errors.ErrTagOverflow))

	v, _ := m.Get(3)
	assert.Equal(t, int32(1), v)
	assert.Equal(t, []uint32{3}, m.Keys())
	assert.Len(t, *events, 1)
}

func TestObserverScope(t *testing.T) {
	obs := NewObserver(nil)
	all := collect(obs, nil)
	deep := collect(obs, []uint32{2})

	r := newRec(NewRoot(obs))
	require.NoError(t, r.ReplaceAt(0, codec.Varint, varint(3), true))
	require.NoError(t, Resolve(r, []uint32{2}).ReplayListPush(varint(9)))
	assert.Len(t, *all, 2)
	require.Len(t, *deep, 1)
	assert.Equal(t, Pushed, (*deep)[0].Kind)

	cancel := obs.Subscribe(nil, func(Event) { t.Fatal("cancelled hook fired") })
	cancel()
	assert.Equal(t, 2, obs.Len())
	require.NoError(t, r.ReplaceAt(1, codec.Varint, varint(1), false))
	assert.Len(t, *all, 2)

	assert.Nil(t, Resolve(r, []uint32{2, 0}))
	assert.Nil(t, Resolve(r, []uint32{5}))
	assert.Same(t, Node(r), Resolve(r, nil))
}
