// Package avro decodes Avro object container files and the records inside
// them.
//
// It is not a general Avro library. The container framing is decoded in
// full; record values are read with Reader in a fixed positional order by
// the caller, and the embedded schema is parsed only to validate that order
// and to skip values the caller does not need.
package avro

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/flate"

	"github.com/3leaps/icenimbus/pkg/props"
)

// Container metadata keys.
const (
	MetaCodec  = "avro.codec"
	MetaSchema = "avro.schema"
)

// SyncSize is the length of the sync marker.
const SyncSize = 16

// Magic is the four-byte container header.
var Magic = [4]byte{'O', 'b', 'j', 1}

// Codec names a block compression codec.
type Codec string

const (
	CodecNull    Codec = "null"
	CodecDeflate Codec = "deflate"
)

// DefaultMaxDataSize bounds the decompressed record bytes of one container.
const DefaultMaxDataSize = 256 << 20

type decodeConfig struct {
	maxDataSize int64
}

// DecodeOption configures DecodeContainer.
type DecodeOption func(*decodeConfig)

// WithMaxDataSize sets the limit on decompressed record bytes. Zero or less
// removes the limit.
func WithMaxDataSize(n int64) DecodeOption {
	return func(c *decodeConfig) {
		c.maxDataSize = n
	}
}

// Container is a decoded object container file.
type Container struct {
	// Metadata holds the header metadata map (avro.schema, avro.codec and
	// any writer properties).
	Metadata props.Map

	// Sync is the header sync marker.
	Sync [SyncSize]byte

	// RecordCount is the sum of the record counts of all blocks.
	RecordCount int64

	// Blocks is the number of data blocks.
	Blocks int

	// Data holds the decompressed records of all blocks, concatenated.
	Data []byte
}

// Codec returns the block codec. An absent avro.codec means null.
func (c *Container) Codec() Codec {
	if v, ok := c.Metadata.Lookup(MetaCodec); ok && v != "" {
		return Codec(v)
	}
	return CodecNull
}

// Schema parses the embedded avro.schema document.
func (c *Container) Schema() (*Schema, error) {
	raw, ok := c.Metadata.Lookup(MetaSchema)
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: container has no %s", ErrInvalidSchema, MetaSchema)
	}
	return ParseSchema([]byte(raw))
}

// Records returns a Reader over the decompressed record bytes.
func (c *Container) Records() *Reader {
	return NewReader(c.Data)
}

// DecodeContainer decodes the container framing of data and decompresses
// every data block.
//
// The sync marker following the first block is consumed without being
// checked. Any bytes after it must form further complete blocks whose sync
// marker matches the header; anything else is ErrContainerFormat. A file
// holding only a header decodes to zero records. Record data beyond the
// size limit (DefaultMaxDataSize unless WithMaxDataSize says otherwise) is
// ErrTooLarge.
func DecodeContainer(data []byte, opts ...DecodeOption) (*Container, error) {
	cfg := decodeConfig{maxDataSize: DefaultMaxDataSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	r := NewReader(data)

	magic, err := r.ReadBytes(len(Magic))
	if err != nil {
		return nil, fmt.Errorf("%w: magic: %w", ErrContainerFormat, err)
	}
	if !bytes.Equal(magic, Magic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrContainerFormat, magic)
	}

	c := &Container{Metadata: props.New()}
	if err := readMetadata(r, c.Metadata); err != nil {
		return nil, err
	}

	sync, err := r.ReadBytes(SyncSize)
	if err != nil {
		return nil, fmt.Errorf("%w: header sync: %w", ErrContainerFormat, err)
	}
	copy(c.Sync[:], sync)

	codec := c.Codec()
	if err := checkCodec(codec); err != nil {
		return nil, err
	}

	var out []byte
	// Relaxed: a header with no blocks is accepted and yields zero records.
	for r.Remaining() > 0 {
		start := r.Offset()
		count, err := r.ReadInt()
		if err != nil {
			return nil, fmt.Errorf("%w: block %d at offset %d: %w", ErrContainerFormat, c.Blocks, start, err)
		}
		if count < 0 {
			return nil, fmt.Errorf("%w: block %d has negative record count %d", ErrContainerFormat, c.Blocks, count)
		}
		if count > math.MaxInt64-c.RecordCount {
			return nil, fmt.Errorf("%w: block %d record count %d overflows the total", ErrContainerFormat, c.Blocks, count)
		}
		payload, err := r.ReadBytesPrefixed()
		if err != nil {
			return nil, fmt.Errorf("%w: block %d at offset %d: %w", ErrContainerFormat, c.Blocks, start, err)
		}
		marker, err := r.ReadBytes(SyncSize)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d sync: %w", ErrContainerFormat, c.Blocks, err)
		}
		if c.Blocks > 0 && !bytes.Equal(marker, c.Sync[:]) {
			return nil, fmt.Errorf("%w: block %d sync marker mismatch", ErrContainerFormat, c.Blocks)
		}

		limit := int64(-1)
		if cfg.maxDataSize > 0 {
			limit = cfg.maxDataSize - int64(len(out))
		}
		out, err = decompress(codec, payload, out, limit)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", c.Blocks, err)
		}
		c.RecordCount += count
		c.Blocks++
	}

	c.Data = out
	return c, nil
}

// readMetadata decodes the header map into m. Blocks with a negative count
// carry their byte size, which is read and ignored.
func readMetadata(r *Reader, m props.Map) error {
	for {
		n, err := r.ReadInt()
		if err != nil {
			return fmt.Errorf("%w: metadata count: %w", ErrContainerFormat, err)
		}
		if n == 0 {
			return nil
		}
		if n < 0 {
			if _, err := r.ReadInt(); err != nil {
				return fmt.Errorf("%w: metadata block size: %w", ErrContainerFormat, err)
			}
			n = -n
		}
		for i := int64(0); i < n; i++ {
			key, err := r.ReadString()
			if err != nil {
				return fmt.Errorf("%w: metadata key %d: %w", ErrContainerFormat, i, err)
			}
			value, err := r.ReadString()
			if err != nil {
				return fmt.Errorf("%w: metadata value for %q: %w", ErrContainerFormat, key, err)
			}
			m.Set(key, value)
		}
	}
}

func checkCodec(codec Codec) error {
	switch codec {
	case CodecNull, CodecDeflate:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedCodec, string(codec))
}

// decompress appends the decoded payload to dst. A non-negative limit caps
// the bytes appended.
func decompress(codec Codec, payload, dst []byte, limit int64) ([]byte, error) {
	switch codec {
	case CodecNull:
		if limit >= 0 && int64(len(payload)) > limit {
			return nil, fmt.Errorf("%w: block of %d bytes, %d allowed", ErrTooLarge, len(payload), limit)
		}
		return append(dst, payload...), nil
	case CodecDeflate:
		fr := flate.NewReader(bytes.NewReader(payload))
		defer fr.Close()
		var src io.Reader = fr
		if limit >= 0 {
			src = io.LimitReader(fr, limit+1)
		}
		buf := bytes.NewBuffer(dst)
		n, err := io.Copy(buf, src)
		if err != nil {
			return nil, fmt.Errorf("%w: deflate: %w", ErrContainerFormat, err)
		}
		if limit >= 0 && n > limit {
			return nil, fmt.Errorf("%w: deflate block inflates past %d bytes", ErrTooLarge, limit)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, string(codec))
}
