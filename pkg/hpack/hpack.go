// Package hpack wraps golang.org/x/net/http2/hpack with the ordering and
// convenience rules this runtime's HTTP/2 and gRPC engines need:
// pseudo-headers first (RFC 7540 §8.1.2.1), ordinary headers
// lower-cased, and a codec pair bound to one connection's dynamic table
// rather than recreated per call, so the stream and connection engines
// never touch the hpack package directly.
package hpack

import (
	"bytes"
	"sort"
	"strings"

	"golang.org/x/net/http2/hpack"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/errors"
)

// Field is a decoded or to-be-encoded header field.
type Field struct {
	Name  string
	Value string
}

// IsPseudo reports whether this field is an HTTP/2 pseudo-header
// (":method", ":path", ":status", ...).
func (f Field) IsPseudo() bool {
	return strings.HasPrefix(f.Name, ":")
}

// Stats reports dynamic table occupancy for diagnostics.
type Stats struct {
	DynamicTableSize uint32
	MaxDynamicSize   uint32
}

// Codec pairs one Encoder and one Decoder, each carrying its own dynamic
// table as RFC 7541 requires — the encoder's table models what the peer
// has acknowledged, the decoder's models what the local side has stored.
// One Codec belongs to exactly one HTTP/2 connection.
type Codec struct {
	encBuf  bytes.Buffer
	encoder *hpack.Encoder
	decoder *hpack.Decoder
}

// NewCodec creates a Codec with the given initial dynamic table size
// (RFC 7541 §4.2), typically constants.DefaultHpackTableSize.
func NewCodec(maxTableSize uint32) *Codec {
	c := &Codec{}
	c.encoder = hpack.NewEncoder(&c.encBuf)
	c.encoder.SetMaxDynamicTableSize(maxTableSize)
	c.decoder = hpack.NewDecoder(maxTableSize, nil)
	return c
}

// NewDefaultCodec creates a Codec using constants.DefaultHpackTableSize.
func NewDefaultCodec() *Codec {
	return NewCodec(constants.DefaultHpackTableSize)
}

// Encode serializes fields into an HPACK header block. Pseudo-headers
// are moved to the front regardless of input order, per RFC 7540
// §8.1.2.1's requirement that they precede regular fields.
func (c *Codec) Encode(fields []Field) ([]byte, error) {
	ordered := orderPseudoFirst(fields)

	c.encBuf.Reset()
	for _, f := range ordered {
		name := f.Name
		if !f.IsPseudo() {
			name = strings.ToLower(name)
		}
		if err := c.encoder.WriteField(hpack.HeaderField{Name: name, Value: f.Value}); err != nil {
			return nil, errors.NewHPACKError("encode", "failed to write header field "+name, err)
		}
	}

	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}

// Decode parses an HPACK header block into fields, in wire order.
func (c *Codec) Decode(block []byte) ([]Field, error) {
	hf, err := c.decoder.DecodeFull(block)
	if err != nil {
		return nil, errors.NewHPACKError("decode", "malformed header block", err)
	}
	out := make([]Field, 0, len(hf))
	for _, f := range hf {
		out = append(out, Field{Name: f.Name, Value: f.Value})
	}
	return out, nil
}

// SetMaxSize updates the dynamic table size on both encoder and decoder
// sides. Callers use this in response to a peer's SETTINGS_HEADER_TABLE_SIZE.
func (c *Codec) SetMaxSize(size uint32) {
	c.encoder.SetMaxDynamicTableSize(size)
	c.decoder.SetMaxDynamicTableSize(size)
}

// Stats returns maxDynamicSize as MaxDynamicSize and leaves
// DynamicTableSize at 0. The underlying hpack.Decoder does not expose
// live byte counts, so no occupancy is reported; per-entry accounting would require
// reimplementing the table, which golang.org/x/net/http2/hpack already
// does internally.
func (c *Codec) Stats(maxDynamicSize uint32) Stats {
	return Stats{MaxDynamicSize: maxDynamicSize}
}

func orderPseudoFirst(fields []Field) []Field {
	ordered := make([]Field, len(fields))
	copy(ordered, fields)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].IsPseudo() && !ordered[j].IsPseudo()
	})
	return ordered
}

// ToMap flattens fields into a plain map; for repeated names the last
// value wins.
func ToMap(fields []Field) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Name] = f.Value
	}
	return m
}

// FromMap builds a Field slice from a plain map. Iteration order over a
// map is unspecified, so callers that need deterministic wire output
// should build their Field slice directly instead.
func FromMap(m map[string]string) []Field {
	out := make([]Field, 0, len(m))
	for k, v := range m {
		out = append(out, Field{Name: k, Value: v})
	}
	return out
}
