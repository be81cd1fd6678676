// Package codec implements the record serialization codec the core
// consumes (spec §6: encode(value) -> bytes, decode(bytes) -> value).
// The default handle is CBOR via ugorji/go/codec, grounded on the
// teacher's own ethdb/cbor usage in its receipts migration.
package codec

import (
	"github.com/ugorji/go/codec"

	"github.com/graphene-db/fdbrecord/fdberr"
)

// Codec encodes and decodes record payloads. Implementations must be
// deterministic: the same value always encodes to the same bytes,
// since index maintenance and conflict detection both depend on a
// stable byte image.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// cborCodec is the default Codec, backed by a canonical CBOR handle
// (map keys sorted, matching the deterministic-encoding requirement).
type cborCodec struct {
	handle *codec.CborHandle
}

// NewCBORCodec returns the default record codec.
func NewCBORCodec() Codec {
	h := &codec.CborHandle{}
	h.Canonical = true
	return &cborCodec{handle: h}
}

func (c *cborCodec) Encode(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, c.handle)
	if err := enc.Encode(v); err != nil {
		return nil, fdberr.Wrap(fdberr.Serialization, "", "encode failed", err)
	}
	return buf, nil
}

func (c *cborCodec) Decode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, c.handle)
	if err := dec.Decode(v); err != nil {
		return fdberr.Wrap(fdberr.Serialization, "", "decode failed", err)
	}
	return nil
}
