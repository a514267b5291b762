package http2

import (
	"bytes"
	"fmt"

	"golang.org/x/net/http2/hpack"
)

// HeaderCodec is one direction-pair of HPACK state: an encoder for
// headers we send and a decoder for headers we receive, each with its
// own dynamic table (spec §3's "per-direction dynamic table").
type HeaderCodec struct {
	enc *hpack.Encoder
	dec *hpack.Decoder

	encBuf  bytes.Buffer
	pending []hpack.HeaderField
}

// NewHeaderCodec builds a HeaderCodec whose encoder and decoder both
// start at initialTableSize. The encoder's limit narrows to the peer's
// SETTINGS_HEADER_TABLE_SIZE once known (SetMaxEncoderDynamicTableSize);
// the decoder's limit reflects what we advertise to the peer
// (SetMaxDecoderDynamicTableSize).
func NewHeaderCodec(initialTableSize uint32) *HeaderCodec {
	c := &HeaderCodec{}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.enc.SetMaxDynamicTableSize(initialTableSize)
	c.dec = hpack.NewDecoder(initialTableSize, c.collect)
	return c
}

func (c *HeaderCodec) collect(hf hpack.HeaderField) {
	c.pending = append(c.pending, hf)
}

// Encode HPACK-encodes fields into a fresh header block fragment. A
// header field with an empty name is rejected before it ever reaches
// the wire.
func (c *HeaderCodec) Encode(fields []hpack.HeaderField) ([]byte, error) {
	c.encBuf.Reset()
	for _, hf := range fields {
		if hf.Name == "" {
			return nil, fmt.Errorf("hpack: empty header field name (value %q)", hf.Value)
		}
		// TODO: Further validation for valid characters in hf.Name as per RFC 7230 and HTTP/2 spec.
		if err := c.enc.WriteField(hf); err != nil {
			return nil, fmt.Errorf("hpack: encoding %q: %w", hf.Name, err)
		}
	}
	block := make([]byte, c.encBuf.Len())
	copy(block, c.encBuf.Bytes())
	return block, nil
}

// DecodeFragment feeds one fragment of a header block (one HEADERS or
// CONTINUATION frame's payload) into the decoder. Fields accumulate
// across calls until FinishDecoding, matching HEADERS+CONTINUATION
// reassembly at the defragmenter (C5).
func (c *HeaderCodec) DecodeFragment(fragment []byte) error {
	if _, err := c.dec.Write(fragment); err != nil {
		return fmt.Errorf("hpack: decoding fragment: %w", err)
	}
	return nil
}

// FinishDecoding closes out the current header block (END_HEADERS
// seen), returning every field collected since the last call and
// resetting for the next block.
func (c *HeaderCodec) FinishDecoding() ([]hpack.HeaderField, error) {
	err := c.dec.Close()
	fields := c.pending
	c.pending = nil
	if err != nil {
		return fields, fmt.Errorf("hpack: closing header block: %w", err)
	}
	return fields, nil
}

// SetMaxDecoderDynamicTableSize applies a local SETTINGS_HEADER_TABLE_SIZE
// change to our decoder (spec §4.6).
func (c *HeaderCodec) SetMaxDecoderDynamicTableSize(size uint32) {
	c.dec.SetMaxDynamicTableSize(size)
}

// SetMaxEncoderDynamicTableSize narrows our encoder to the peer's
// advertised SETTINGS_HEADER_TABLE_SIZE (spec §4.6).
func (c *HeaderCodec) SetMaxEncoderDynamicTableSize(size uint32) {
	c.enc.SetMaxDynamicTableSize(size)
}
