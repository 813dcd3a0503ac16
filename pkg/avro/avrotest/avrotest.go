// Package avrotest builds object container files for tests.
package avrotest

import (
	"bytes"
	"sort"

	"github.com/klauspost/compress/flate"

	"github.com/3leaps/icenimbus/pkg/avro"
)

// DefaultSync is the sync marker used when a File does not set one.
var DefaultSync = [avro.SyncSize]byte{
	0x0d, 0x2e, 0x8a, 0x41, 0x73, 0x55, 0x19, 0xc2,
	0x9e, 0x04, 0xb7, 0x60, 0x38, 0xfa, 0x21, 0x6c,
}

// Block is one data block: its record count and uncompressed record bytes.
type Block struct {
	Count int64
	Data  []byte
}

// File describes a container to encode.
type File struct {
	// Metadata entries are written in sorted key order.
	Metadata map[string]string

	// Codec compresses every block. Empty means no avro.codec entry.
	Codec avro.Codec

	Sync   [avro.SyncSize]byte
	Blocks []Block
}

// Bytes encodes f.
func (f File) Bytes() []byte {
	sync := f.Sync
	if sync == ([avro.SyncSize]byte{}) {
		sync = DefaultSync
	}

	meta := make(map[string]string, len(f.Metadata)+1)
	for k, v := range f.Metadata {
		meta[k] = v
	}
	if f.Codec != "" {
		meta[avro.MetaCodec] = string(f.Codec)
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := append([]byte(nil), avro.Magic[:]...)
	if len(keys) > 0 {
		out = avro.AppendInt(out, int64(len(keys)))
		for _, k := range keys {
			out = avro.AppendString(out, k)
			out = avro.AppendString(out, meta[k])
		}
	}
	out = avro.AppendInt(out, 0)
	out = append(out, sync[:]...)

	for _, b := range f.Blocks {
		out = avro.AppendInt(out, b.Count)
		out = avro.AppendBytes(out, Compress(f.Codec, b.Data))
		out = append(out, sync[:]...)
	}
	return out
}

// Single returns a one-block container with the given schema and records.
func Single(schema string, codec avro.Codec, count int64, records []byte) []byte {
	return File{
		Metadata: map[string]string{avro.MetaSchema: schema},
		Codec:    codec,
		Blocks:   []Block{{Count: count, Data: records}},
	}.Bytes()
}

// Compress encodes data with codec. Unknown codecs leave data unchanged.
func Compress(codec avro.Codec, data []byte) []byte {
	if codec != avro.CodecDeflate {
		return data
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(data); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Union appends a union branch index.
func Union(buf []byte, index int64) []byte {
	return avro.AppendInt(buf, index)
}
