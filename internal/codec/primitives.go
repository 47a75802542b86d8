package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxStringLength is the maximum number of UTF-8 characters a protocol
// string may contain. Reader.String enforces it as a byte bound of
// MaxStringLength*4 (the most bytes that many characters can take);
// Writer.String does not check the length.
const MaxStringLength = 32767

// ErrStringTooLong is recorded by Reader.String when a string's declared
// byte length exceeds MaxStringLength*4.
var ErrStringTooLong = errors.New("codec: string exceeds max length")

// Reader wraps an io.Reader with the protocol's primitive decoders. A Reader
// is single-use: construct one per packet body.
type Reader struct {
	r   io.Reader
	err error
}

// NewReader returns a Reader over the given packet body bytes.
func NewReader(body []byte) *Reader {
	return &Reader{r: bytes.NewReader(body)}
}

// Err returns the first error encountered by any Read* call.
func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// VarInt reads one varint, recording any error on the Reader.
func (r *Reader) VarInt() int32 {
	if r.err != nil {
		return 0
	}
	v, _, err := ReadVarInt(r.r)
	if err != nil {
		r.fail(err)
		return 0
	}
	return v
}

// Bool reads a single byte and interprets it as 0/1.
func (r *Reader) Bool() bool {
	return r.Byte() != 0
}

// Byte reads a single signed byte.
func (r *Reader) Byte() int8 {
	var b [1]byte
	r.readFull(b[:])
	return int8(b[0])
}

// UByte reads a single unsigned byte.
func (r *Reader) UByte() uint8 {
	var b [1]byte
	r.readFull(b[:])
	return b[0]
}

// Short reads a big-endian signed 16-bit integer.
func (r *Reader) Short() int16 {
	return int16(r.UShort())
}

// UShort reads a big-endian unsigned 16-bit integer.
func (r *Reader) UShort() uint16 {
	var b [2]byte
	r.readFull(b[:])
	return binary.BigEndian.Uint16(b[:])
}

// Int reads a big-endian signed 32-bit integer.
func (r *Reader) Int() int32 {
	var b [4]byte
	r.readFull(b[:])
	return int32(binary.BigEndian.Uint32(b[:]))
}

// Long reads a big-endian signed 64-bit integer.
func (r *Reader) Long() int64 {
	var b [8]byte
	r.readFull(b[:])
	return int64(binary.BigEndian.Uint64(b[:]))
}

// Float reads a big-endian IEEE-754 single precision float.
func (r *Reader) Float() float32 {
	return math.Float32frombits(uint32(r.Int()))
}

// Double reads a big-endian IEEE-754 double precision float.
func (r *Reader) Double() float64 {
	return math.Float64frombits(uint64(r.Long()))
}

// String reads a varint-length-prefixed UTF-8 string.
func (r *Reader) String() string {
	n := r.VarInt()
	if r.err != nil {
		return ""
	}
	if n < 0 || n > MaxStringLength*4 {
		r.fail(ErrStringTooLong)
		return ""
	}
	buf := make([]byte, n)
	r.readFull(buf)
	return string(buf)
}

// Chat reads a String and parses it as a JSON chat component, returning the
// raw decoded map. Malformed JSON is reported through Err but does not
// panic.
func (r *Reader) Chat() map[string]interface{} {
	raw := r.String()
	if r.err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		r.fail(errors.Wrap(err, "codec: malformed chat json"))
		return nil
	}
	return out
}

// UUID reads 16 raw bytes (two big-endian longs) as a UUID.
func (r *Reader) UUID() uuid.UUID {
	var b [16]byte
	r.readFull(b[:])
	id, err := uuid.FromBytes(b[:])
	if err != nil {
		r.fail(err)
	}
	return id
}

// Position reads a packed-long position using the pre-1.9 layout (26/12/26
// bit x/y/z split, z occupying the low bits). PositionV2 provides the
// post-1.9 layout.
func (r *Reader) Position() (x, y, z int32) {
	v := r.Long()
	x = int32(v >> 38)
	y = int32((v >> 26) & 0xFFF)
	z = int32(v << 38 >> 38)
	return
}

// PositionV2 reads a packed-long position using the 1.9+ layout (26/26/12
// bit x/z/y split, y occupying the low bits).
func (r *Reader) PositionV2() (x, y, z int32) {
	v := r.Long()
	x = int32(v >> 38)
	y = int32(v << 52 >> 52)
	z = int32(v << 26 >> 38)
	return
}

// ByteArray reads a varint-length-prefixed byte slice.
func (r *Reader) ByteArray() []byte {
	n := r.VarInt()
	if r.err != nil {
		return nil
	}
	buf := make([]byte, n)
	r.readFull(buf)
	return buf
}

// ByteArrayShort reads a short-length-prefixed byte slice.
func (r *Reader) ByteArrayShort() []byte {
	n := r.UShort()
	if r.err != nil {
		return nil
	}
	buf := make([]byte, n)
	r.readFull(buf)
	return buf
}

// RestOfPacket reads every remaining byte in the body.
func (r *Reader) RestOfPacket() []byte {
	if r.err != nil {
		return nil
	}
	rest, err := io.ReadAll(r.r)
	if err != nil {
		r.fail(err)
		return nil
	}
	return rest
}

// SkipMetadata consumes the rest of the packet body without interpreting
// the version-dependent entity metadata stream. The source never needed to
// parse metadata entries either: the metadata stream is read up to the
// frame boundary and discarded rather than decoded field by field.
func (r *Reader) SkipMetadata() { r.RestOfPacket() }

// Slot is the opaque slot structure: presence, item id, count, damage,
// and an NBT tail that is preserved verbatim for faithful re-emission.
type Slot struct {
	Present bool
	ItemID  int16
	Count   uint8
	Damage  int16
	NBT     []byte
}

// SlotValue reads one Slot value. The NBT tail cannot be sized without a full
// NBT parser, so when present it captures the rest of the packet; callers
// that need to read fields after a slot must read the slot last.
func (r *Reader) SlotValue() Slot {
	present := r.Bool()
	if r.err != nil || !present {
		return Slot{Present: present}
	}
	itemID := r.Short()
	count := r.UByte()
	damage := r.Short()
	nbt := r.RestOfPacket()
	return Slot{Present: true, ItemID: itemID, Count: count, Damage: damage, NBT: nbt}
}

func (r *Reader) readFull(buf []byte) {
	if r.err != nil {
		return
	}
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.fail(err)
	}
}

// Writer wraps a bytes.Buffer with the protocol's primitive encoders.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated body bytes.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// VarInt writes v as a varint.
func (w *Writer) VarInt(v int32) *Writer {
	WriteVarInt(&w.buf, v)
	return w
}

// Bool writes a single 0/1 byte.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.UByte(1)
	}
	return w.UByte(0)
}

// Byte writes a single signed byte.
func (w *Writer) Byte(v int8) *Writer { return w.UByte(uint8(v)) }

// UByte writes a single unsigned byte.
func (w *Writer) UByte(v uint8) *Writer {
	w.buf.WriteByte(v)
	return w
}

// Short writes a big-endian signed 16-bit integer.
func (w *Writer) Short(v int16) *Writer { return w.UShort(uint16(v)) }

// UShort writes a big-endian unsigned 16-bit integer.
func (w *Writer) UShort(v uint16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
	return w
}

// Int writes a big-endian signed 32-bit integer.
func (w *Writer) Int(v int32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
	return w
}

// Long writes a big-endian signed 64-bit integer.
func (w *Writer) Long(v int64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
	return w
}

// Float writes a big-endian IEEE-754 single precision float.
func (w *Writer) Float(v float32) *Writer { return w.Int(int32(math.Float32bits(v))) }

// Double writes a big-endian IEEE-754 double precision float.
func (w *Writer) Double(v float64) *Writer { return w.Long(int64(math.Float64bits(v))) }

// String writes a varint-length-prefixed UTF-8 string.
func (w *Writer) String(s string) *Writer {
	w.VarInt(int32(len(s)))
	w.buf.WriteString(s)
	return w
}

// Chat marshals v to JSON and writes it as a String.
func (w *Writer) Chat(v interface{}) *Writer {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte(`{"text":""}`)
	}
	return w.String(string(raw))
}

// UUID writes 16 raw bytes.
func (w *Writer) UUID(id uuid.UUID) *Writer {
	b := id
	w.buf.Write(b[:])
	return w
}

// Position writes a packed-long position using the pre-1.9 layout.
func (w *Writer) Position(x, y, z int32) *Writer {
	v := (int64(x)&0x3FFFFFF)<<38 | (int64(y)&0xFFF)<<26 | (int64(z) & 0x3FFFFFF)
	return w.Long(v)
}

// PositionV2 writes a packed-long position using the 1.9+ layout.
func (w *Writer) PositionV2(x, y, z int32) *Writer {
	v := (int64(x)&0x3FFFFFF)<<38 | (int64(z)&0x3FFFFFF)<<12 | (int64(y) & 0xFFF)
	return w.Long(v)
}

// ByteArray writes a varint-length-prefixed byte slice.
func (w *Writer) ByteArray(b []byte) *Writer {
	w.VarInt(int32(len(b)))
	w.buf.Write(b)
	return w
}

// ByteArrayShort writes a short-length-prefixed byte slice.
func (w *Writer) ByteArrayShort(b []byte) *Writer {
	w.UShort(uint16(len(b)))
	w.buf.Write(b)
	return w
}

// Raw appends bytes verbatim, used for pass-through tails captured via
// RestOfPacket/Slot.NBT.
func (w *Writer) Raw(b []byte) *Writer {
	w.buf.Write(b)
	return w
}

// SlotValue writes a Slot.
func (w *Writer) SlotValue(s Slot) *Writer {
	w.Bool(s.Present)
	if !s.Present {
		return w
	}
	w.Short(s.ItemID)
	w.UByte(s.Count)
	w.Short(s.Damage)
	w.Raw(s.NBT)
	return w
}
