// Package protocol implements the legacy binary wire protocol: the primitive
// stream codec, packet framing, and the per-build codec registry that maps a
// client build to its request decoders and response encoders.
package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrShortRead means the buffer ended before the value did. The transport
	// should wait for more bytes; this is not a protocol violation.
	ErrShortRead = errors.New("incomplete data")

	// ErrMalformed means the bytes cannot be a valid encoding. The connection
	// should be closed with a diagnostic.
	ErrMalformed = errors.New("malformed data")

	// ErrStringTooLong guards against absurd length prefixes.
	ErrStringTooLong = errors.New("string length exceeds limit")
)

// MaxStringLen caps decoded string lengths (a corrupt uleb128 prefix must not
// trigger a huge allocation).
const MaxStringLen = 1 << 15

// Writer accumulates a packet payload. The zero value is ready to use.
//
// RawStrings selects the ancient string layout (no sentinel byte, bare
// uleb128 length); modern builds write 0x00 for empty and 0x0B + uleb128 +
// bytes otherwise.
type Writer struct {
	buf        []byte
	RawStrings bool
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Reset truncates the writer for reuse.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) WriteUint8(v uint8)  { w.buf = append(w.buf, v) }
func (w *Writer) WriteInt8(v int8)    { w.WriteUint8(uint8(v)) }
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}
func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}
func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}
func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}
func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

// WriteBytes appends a raw blob with no length prefix.
func (w *Writer) WriteBytes(b []byte) { w.buf = append(w.buf, b...) }

// WriteUleb128 appends v in unsigned LEB128.
func (w *Writer) WriteUleb128(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// WriteString appends a length-prefixed UTF-8 string in the layout selected
// by RawStrings.
func (w *Writer) WriteString(s string) {
	if w.RawStrings {
		w.WriteUleb128(uint64(len(s)))
		w.buf = append(w.buf, s...)
		return
	}
	if s == "" {
		w.WriteUint8(0x00)
		return
	}
	w.WriteUint8(0x0B)
	w.WriteUleb128(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteInt32List appends a u16 count followed by that many i32 values (the
// layout of friend lists and presence bundles).
func (w *Writer) WriteInt32List(vs []int32) {
	w.WriteUint16(uint16(len(vs)))
	for _, v := range vs {
		w.WriteInt32(v)
	}
}

// Reader consumes a fixed payload with an explicit cursor. The same RawStrings
// switch as Writer applies.
type Reader struct {
	buf        []byte
	pos        int
	RawStrings bool
}

// NewReader wraps a payload buffer.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Remaining returns how many unread bytes are left.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrShortRead
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadBytes consumes exactly n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.take(n)
}

// ReadUleb128 consumes an unsigned LEB128 value.
func (r *Reader) ReadUleb128() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.ReadUint8()
		if err != nil {
			return 0, err
		}
		if shift >= 63 && b > 1 {
			return 0, ErrMalformed
		}
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

// ReadString consumes a length-prefixed string in the layout selected by
// RawStrings.
func (r *Reader) ReadString() (string, error) {
	if !r.RawStrings {
		tag, err := r.ReadUint8()
		if err != nil {
			return "", err
		}
		switch tag {
		case 0x00:
			return "", nil
		case 0x0B:
			// fall through to length-prefixed body
		default:
			return "", ErrMalformed
		}
	}
	n, err := r.ReadUleb128()
	if err != nil {
		return "", err
	}
	if n > MaxStringLen {
		return "", ErrStringTooLong
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadInt32List consumes a u16 count followed by that many i32 values.
func (r *Reader) ReadInt32List() ([]int32, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	vs := make([]int32, 0, n)
	for i := 0; i < int(n); i++ {
		v, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}
