package avro

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Errors returned while decoding. All are wrapped with position context;
// use errors.Is to test for them.
var (
	// ErrEndOfData indicates a primitive read past the end of the buffer.
	ErrEndOfData = errors.New("avro: unexpected end of data")

	// ErrVarintOverflow indicates a variable-length integer longer than 10 bytes.
	ErrVarintOverflow = errors.New("avro: varint overflows 64 bits")

	// ErrNegativeLength indicates a negative byte or string length.
	ErrNegativeLength = errors.New("avro: negative length")

	// ErrContainerFormat indicates a structural error in the container framing:
	// bad magic, bad metadata terminator, sync marker mismatch or trailing bytes.
	ErrContainerFormat = errors.New("avro: invalid container format")

	// ErrUnsupportedCodec indicates an avro.codec value other than null or deflate.
	ErrUnsupportedCodec = errors.New("avro: unsupported codec")

	// ErrInvalidSchema indicates an embedded schema that cannot be parsed.
	ErrInvalidSchema = errors.New("avro: invalid schema")

	// ErrTooLarge indicates decompressed record data beyond the size limit.
	ErrTooLarge = errors.New("avro: decoded data exceeds size limit")

	// ErrNestingDepth indicates values nested deeper than MaxDepth.
	ErrNestingDepth = errors.New("avro: values nested too deeply")
)

const maxVarintLen = 10

// Reader is a forward-only cursor over decoded record bytes.
//
// Byte slices returned by ReadBytes and ReadBytesPrefixed alias the
// underlying buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.pos
}

func (r *Reader) short(want int) error {
	return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrEndOfData, want, r.pos, r.Remaining())
}

// ReadByte returns the next byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, r.short(1)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadInt decodes a zig-zag variable-length integer. Avro int and long share
// this encoding.
func (r *Reader) ReadInt() (int64, error) {
	var u uint64
	var shift uint
	start := r.pos
	for i := 0; ; i++ {
		if i == maxVarintLen {
			r.pos = start
			return 0, fmt.Errorf("%w at offset %d", ErrVarintOverflow, start)
		}
		if r.pos >= len(r.buf) {
			r.pos = start
			return 0, fmt.Errorf("%w: unterminated varint at offset %d", ErrEndOfData, start)
		}
		b := r.buf[r.pos]
		r.pos++
		u |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

// ReadBool decodes a single-byte boolean.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// ReadFloat decodes a little-endian IEEE 754 float.
func (r *Reader) ReadFloat() (float32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// ReadDouble decodes a little-endian IEEE 754 double.
func (r *Reader) ReadDouble() (float64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// ReadBytes returns the next n bytes without copying.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d at offset %d", ErrNegativeLength, n, r.pos)
	}
	if r.Remaining() < n {
		return nil, r.short(n)
	}
	b := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadBytesPrefixed reads a length and then that many bytes.
func (r *Reader) ReadBytesPrefixed() ([]byte, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: %d at offset %d", ErrNegativeLength, n, r.pos)
	}
	if int64(r.Remaining()) < n {
		return nil, r.short(int(min(n, math.MaxInt32)))
	}
	return r.ReadBytes(int(n))
}

// ReadString reads a length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytesPrefixed()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.ReadBytes(n)
	return err
}

// AppendInt appends the zig-zag varint encoding of v to buf.
func AppendInt(buf []byte, v int64) []byte {
	return binary.AppendUvarint(buf, uint64(v<<1)^uint64(v>>63))
}

// AppendBytes appends a length-prefixed byte string to buf.
func AppendBytes(buf, b []byte) []byte {
	buf = AppendInt(buf, int64(len(b)))
	return append(buf, b...)
}

// AppendString appends a length-prefixed string to buf.
func AppendString(buf []byte, s string) []byte {
	buf = AppendInt(buf, int64(len(s)))
	return append(buf, s...)
}
