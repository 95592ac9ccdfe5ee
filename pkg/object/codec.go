package object

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/lkjx77/GeoGig/pkg/status"
)

// Format versions. Every encoding starts with the version byte followed by
// the type code, so a store may hold objects written under either format.
const (
	FormatV1 byte = 1
	FormatV2 byte = 2

	CurrentFormat = FormatV2
)

// serializer encodes and decodes object bodies for one format version.
type serializer interface {
	encodeBody(obj Object) ([]byte, error)
	decodeBody(t Type, body []byte) (Object, error)
}

var (
	canonical   serializer = v2Serializer{}
	serializers            = map[byte]serializer{
		FormatV1: v1Serializer{},
		FormatV2: canonical,
	}
)

// Encode returns the current-format encoding of obj. The output is
// deterministic: equal objects always encode to equal bytes.
func Encode(obj Object) ([]byte, error) {
	return EncodeVersion(obj, CurrentFormat)
}

// EncodeVersion encodes obj under a specific format. Legacy formats cannot
// represent every value; such objects fail with MALFORMED_OBJECT.
func EncodeVersion(obj Object, version byte) ([]byte, error) {
	if obj == nil {
		return nil, status.Errorf(status.MalformedObject, "encode: nil object")
	}
	s, ok := serializers[version]
	if !ok {
		return nil, status.Errorf(status.MalformedObject, "encode: unknown format version %d", version)
	}
	body, err := s.encodeBody(obj)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2+len(body))
	out = append(out, version, byte(obj.Type()))
	return append(out, body...), nil
}

// Decode parses an encoding of any supported format version.
//
// Decoded objects are in canonical form: empty collections are nil, byte
// values and geometry WKB are never nil, times are UTC. NewTree and
// NewFeature build that form, so Decode(Encode(x)) equals x for them; any
// other object encodes to the same bytes, and ID, as its canonical form.
func Decode(data []byte) (Object, error) {
	if len(data) < 2 {
		return nil, status.Errorf(status.MalformedObject, "decode: truncated header (%d bytes)", len(data))
	}
	s, ok := serializers[data[0]]
	if !ok {
		return nil, status.Errorf(status.MalformedObject, "decode: unknown format version %d", data[0])
	}
	t := Type(data[1])
	if !t.Valid() {
		return nil, status.Errorf(status.MalformedObject, "decode: unknown type code %d", data[1])
	}
	return s.decodeBody(t, data[2:])
}

// DecodeAs is Decode with a check on the declared type.
func DecodeAs(data []byte, want Type) (Object, error) {
	obj, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if obj.Type() != want {
		return nil, status.Errorf(status.MalformedObject, "decode: type mismatch: got %s, want %s", obj.Type(), want)
	}
	return obj, nil
}

// PeekType returns the type code of an encoding without decoding the body.
func PeekType(data []byte) (Type, error) {
	if len(data) < 2 || !Type(data[1]).Valid() {
		return 0, status.Errorf(status.MalformedObject, "peek: invalid header")
	}
	return Type(data[1]), nil
}

// encoder accumulates a body. Fixed-width integers are big-endian.
type encoder struct {
	buf bytes.Buffer
	err error
}

func (e *encoder) fail(format string, args ...any) {
	if e.err == nil {
		e.err = status.Errorf(status.MalformedObject, "encode: "+format, args...)
	}
}

func (e *encoder) u8(b byte) { e.buf.WriteByte(b) }

func (e *encoder) bool(b bool) {
	if b {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) uvarint(v uint64) { e.buf.Write(binary.AppendUvarint(nil, v)) }

func (e *encoder) varint(v int64) { e.buf.Write(binary.AppendVarint(nil, v)) }

func (e *encoder) u16(v uint16) { e.buf.Write(binary.BigEndian.AppendUint16(nil, v)) }

func (e *encoder) u32(v uint32) { e.buf.Write(binary.BigEndian.AppendUint32(nil, v)) }

func (e *encoder) u64(v uint64) { e.buf.Write(binary.BigEndian.AppendUint64(nil, v)) }

func (e *encoder) f32(v float32) { e.u32(math.Float32bits(v)) }

func (e *encoder) f64(v float64) { e.u64(math.Float64bits(v)) }

func (e *encoder) id(id ID) { e.buf.Write(id[:]) }

func (e *encoder) raw(b []byte) { e.buf.Write(b) }

func (e *encoder) result() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf.Bytes(), nil
}

// decoder reads a body. The first failure sticks; later reads return zero
// values so decoders can be written straight-line and checked once.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = status.Errorf(status.MalformedObject, "decode: "+format, args...)
	}
}

func (d *decoder) remaining() int { return len(d.data) - d.off }

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > d.remaining() {
		d.fail("truncated input at offset %d (need %d bytes, have %d)", d.off, n, d.remaining())
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) bool() bool {
	switch d.u8() {
	case 0:
		return false
	case 1:
		return true
	}
	d.fail("invalid bool at offset %d", d.off-1)
	return false
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.data[d.off:])
	if n <= 0 {
		d.fail("bad uvarint at offset %d", d.off)
		return 0
	}
	d.off += n
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.data[d.off:])
	if n <= 0 {
		d.fail("bad varint at offset %d", d.off)
		return 0
	}
	d.off += n
	return v
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) f32() float32 { return math.Float32frombits(d.u32()) }

func (d *decoder) f64() float64 { return math.Float64frombits(d.u64()) }

func (d *decoder) id() ID {
	var id ID
	copy(id[:], d.take(IDSize))
	return id
}

// bytes returns a copy of the next n bytes.
func (d *decoder) bytes(n uint64) []byte {
	if n > uint64(d.remaining()) {
		d.fail("length %d overruns input at offset %d", n, d.off)
		return nil
	}
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// count validates a collection size against the remaining input, given the
// minimum encoded size of one element, so corrupt counts cannot force huge
// allocations.
func (d *decoder) count(n uint64, minElem int) int {
	if d.err != nil {
		return 0
	}
	if minElem < 1 {
		minElem = 1
	}
	if n > uint64(d.remaining()/minElem) {
		d.fail("count %d exceeds remaining input at offset %d", n, d.off)
		return 0
	}
	return int(n)
}

func (d *decoder) finish(obj Object) (Object, error) {
	if d.err == nil && d.remaining() != 0 {
		d.fail("%d trailing bytes", d.remaining())
	}
	if d.err != nil {
		return nil, d.err
	}
	return obj, nil
}

func checkTreeOrder(entries []TreeEntry) error {
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Name >= entries[i].Name {
			return status.Errorf(status.MalformedObject, "tree entries not strictly sorted at %q", entries[i].Name)
		}
	}
	return nil
}

func checkEntryType(t Type) error {
	if t != TypeTree && t != TypeFeature {
		return status.Errorf(status.MalformedObject, "tree entry of type %s", t)
	}
	return nil
}

// sortedTreeEntries returns a sorted copy of the entries and rejects
// duplicates.
func sortedTreeEntries(in []TreeEntry) ([]TreeEntry, error) {
	entries := append([]TreeEntry(nil), in...)
	sortEntries(entries)
	for i, e := range entries {
		if e.Name == "" {
			return nil, status.Errorf(status.MalformedObject, "tree entry %d has empty name", i)
		}
		if i > 0 && entries[i-1].Name == e.Name {
			return nil, status.Errorf(status.MalformedObject, "duplicate tree entry %q", e.Name)
		}
		if err := checkEntryType(e.Type); err != nil {
			return nil, fmt.Errorf("entry %q: %w", e.Name, err)
		}
	}
	return entries, nil
}
