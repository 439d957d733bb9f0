package replay

import (
	"strconv"

	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/state"
	"github.com/pkg/errors"
)

// Kind is the variant tag of a log entry.
type Kind uint32

const (
	KindUpdate    Kind = 0
	KindListPush  Kind = 8
	KindListPop   Kind = 9
	KindMapInsert Kind = 12
	KindMapRemove Kind = 13
)

func (k Kind) Known() bool {
	switch k {
	case KindUpdate, KindListPush, KindListPop, KindMapInsert, KindMapRemove:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindListPush:
		return "list_push"
	case KindListPop:
		return "list_pop"
	case KindMapInsert:
		return "map_insert"
	case KindMapRemove:
		return "map_remove"
	}
	return "unknown_" + strconv.FormatUint(uint64(k), 10)
}

// fields is the number of record fields a kind carries, the flattened path
// at tag 0 included.
func (k Kind) fields() uint32 {
	switch k {
	case KindListPop:
		return 1
	case KindUpdate, KindListPush, KindMapRemove:
		return 2
	case KindMapInsert:
		return 3
	}
	return 0
}

var flattenPathType = state.VectorOf(state.Uint32)

// Body is the record of one entry kind:
//
//	Update    {0: flatten_path, 1: value}
//	ListPush  {0: flatten_path, 1: item}
//	ListPop   {0: flatten_path}
//	MapInsert {0: flatten_path, 1: key, 2: value}
//	MapRemove {0: flatten_path, 1: key}
//
// Empty fields are left out of the encoding.
type Body struct {
	state.Base
	kind    Kind
	path    *state.Vector[uint32]
	payload [2]*state.Bytes
}

func newBody(kind Kind, path *state.Path) *Body {
	b := &Body{Base: state.NewBase(path), kind: kind}
	b.path = flattenPathType.Default(b.Path().Nested(0))
	for i := range b.payload {
		b.payload[i] = state.BytesType.Default(b.Path().Nested(uint32(i) + 1))
	}
	return b
}

func (b *Body) WireType(tag uint32) (codec.WireType, bool) {
	if tag >= b.kind.fields() {
		return 0, false
	}
	return codec.Sized, true
}

func (b *Body) Nested(tag uint32) state.Node {
	switch {
	case tag >= b.kind.fields():
		return nil
	case tag == 0:
		return b.path
	default:
		return b.payload[tag-1]
	}
}

func (b *Body) ReplaceAt(tag uint32, wt codec.WireType, r *codec.Reader, notify bool) error {
	switch {
	case tag >= b.kind.fields():
		return r.Discard(wt)
	case tag == 0:
		return state.SetField(b, &b.path, tag, flattenPathType, wt, r, notify)
	default:
		return state.SetField(b, &b.payload[tag-1], tag, state.BytesType, wt, r, notify)
	}
}

func (b *Body) AppendTo(into []byte) []byte {
	if b.path.Len() > 0 {
		into = state.AppendField(into, 0, flattenPathType, b.path)
	}
	for tag := uint32(1); tag < b.kind.fields(); tag++ {
		if p := b.payload[tag-1]; p.Len() > 0 {
			into = state.AppendField(into, tag, state.BytesType, p)
		}
	}
	return into
}

// LogEntry is one mutation of a tree, addressed by a flattened path.
type LogEntry struct {
	state.Base
	body *Body
}

var EntryType = state.NodeType(NewLogEntry)

// NewLogEntry is the default entry: an Update with an empty path.
func NewLogEntry(path *state.Path) *LogEntry {
	e := &LogEntry{Base: state.NewBase(path)}
	e.body = newBody(KindUpdate, e.Path().Nested(uint32(KindUpdate)))
	return e
}

func (e *LogEntry) Kind() Kind {
	return e.body.kind
}

func (e *LogEntry) Tag() uint32 {
	return uint32(e.body.kind)
}

func (e *LogEntry) Active() state.Node {
	return e.body
}

// FlattenPath is a copy of the root-to-target tag sequence.
func (e *LogEntry) FlattenPath() []uint32 {
	return append([]uint32(nil), e.body.path.Items()...)
}

// Value is the encoded field value of an Update, the item of a ListPush
// or the key of a MapInsert or MapRemove.
func (e *LogEntry) Value() []byte {
	return e.body.payload[0].Data()
}

// MapValue is the encoded value of a MapInsert.
func (e *LogEntry) MapValue() []byte {
	return e.body.payload[1].Data()
}

func (e *LogEntry) WireType(tag uint32) (codec.WireType, bool) {
	if !Kind(tag).Known() {
		return 0, false
	}
	return codec.Sized, true
}

func (e *LogEntry) Nested(tag uint32) state.Node {
	if tag == e.Tag() {
		return e.body
	}
	return nil
}

// ReplaceAt switches the entry kind. An unknown kind is kept as such with
// its payload dropped, so that replay can tell it apart from an Update.
func (e *LogEntry) ReplaceAt(tag uint32, wt codec.WireType, r *codec.Reader, notify bool) error {
	body := newBody(Kind(tag), e.Path().Nested(tag))
	if !body.kind.Known() {
		if err := r.Discard(wt); err != nil {
			return err
		}
	} else if err := state.Replace(body, r, false); err != nil {
		return err
	}
	if notify {
		e.Emit(state.Event{Kind: state.Switched, Tag: tag, OldTag: e.Tag(), Old: e.body, New: body})
	}
	e.body = body
	return nil
}

func (e *LogEntry) AppendTo(into []byte) []byte {
	into = codec.AppendUvarint(into, uint64(e.body.kind))
	return e.body.AppendTo(into)
}

func build(kind Kind, path []uint32, payload ...[]byte) *LogEntry {
	e := NewLogEntry(nil)
	b := newBody(kind, e.Path().Nested(uint32(kind)))
	b.path = state.NewVector(state.Uint32, b.Path().Nested(0), path...)
	for i, p := range payload {
		b.payload[i] = state.NewBytes(b.Path().Nested(uint32(i)+1), p)
	}
	e.body = b
	return e
}

// NewUpdate sets the field at path, the last tag being the field tag;
// an empty path replaces the whole root.
func NewUpdate(path []uint32, value []byte) *LogEntry {
	return build(KindUpdate, path, value)
}

func NewListPush(path []uint32, item []byte) *LogEntry {
	return build(KindListPush, path, item)
}

func NewListPop(path []uint32) *LogEntry {
	return build(KindListPop, path)
}

func NewMapInsert(path []uint32, key uint32, value []byte) *LogEntry {
	return build(KindMapInsert, path, codec.AppendUvarint(nil, uint64(key)), value)
}

func NewMapRemove(path []uint32, key uint32) *LogEntry {
	return build(KindMapRemove, path, codec.AppendUvarint(nil, uint64(key)))
}

// AppendEntry appends the entry as a Sized frame.
func AppendEntry(into []byte, e *LogEntry) []byte {
	return codec.AppendSized(into, e.AppendTo(nil))
}

// Encode frames entries back to back, the way Replay reads them.
func Encode(entries ...*LogEntry) []byte {
	var into []byte
	for _, e := range entries {
		into = AppendEntry(into, e)
	}
	return into
}

// Records frames every entry separately.
func Records(entries ...*LogEntry) codec.Records {
	recs := make(codec.Records, 0, len(entries))
	for _, e := range entries {
		recs = append(recs, AppendEntry(nil, e))
	}
	return recs
}

// DecodeEntry decodes an entry body, the frame prefix stripped.
func DecodeEntry(body []byte) (*LogEntry, error) {
	return state.DecodeNode(EntryType, body, nil)
}

func ReadEntry(r *codec.Reader) (*LogEntry, error) {
	body, err := r.SizedBytes()
	if err != nil {
		return nil, err
	}
	return DecodeEntry(body)
}

// ReadEntries decodes a whole stream of framed entries.
func ReadEntries(data []byte) (entries []*LogEntry, err error) {
	r := codec.NewReader(data)
	for !r.EOF() {
		var e *LogEntry
		if e, err = ReadEntry(r); err != nil {
			return entries, errors.Wrapf(err, "entry %d", len(entries))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// decodeFrame unframes and decodes one record.
func decodeFrame(frame []byte) (*LogEntry, error) {
	body, err := codec.Unframe(frame)
	if err != nil {
		return nil, err
	}
	return DecodeEntry(body)
}
