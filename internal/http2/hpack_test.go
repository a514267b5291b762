package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2/hpack"
)

func TestHeaderCodec_EncodeDecodeRoundTrip(t *testing.T) {
	enc := NewHeaderCodec(4096)
	dec := NewHeaderCodec(4096)

	fields := []hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
		{Name: "user-agent", Value: "h2core-test"},
	}

	block, err := enc.Encode(fields)
	require.NoError(t, err)
	require.NotEmpty(t, block)

	require.NoError(t, dec.DecodeFragment(block))
	decoded, err := dec.FinishDecoding()
	require.NoError(t, err)
	assert.Equal(t, fields, decoded)
}

func TestHeaderCodec_DecodeFragment_AcrossMultipleCalls(t *testing.T) {
	enc := NewHeaderCodec(4096)
	dec := NewHeaderCodec(4096)

	fields := []hpack.HeaderField{{Name: ":status", Value: "200"}}
	block, err := enc.Encode(fields)
	require.NoError(t, err)

	mid := len(block) / 2
	require.NoError(t, dec.DecodeFragment(block[:mid]))
	require.NoError(t, dec.DecodeFragment(block[mid:]))

	decoded, err := dec.FinishDecoding()
	require.NoError(t, err)
	assert.Equal(t, fields, decoded)
}

func TestHeaderCodec_Encode_EmptyNameIsError(t *testing.T) {
	enc := NewHeaderCodec(4096)
	_, err := enc.Encode([]hpack.HeaderField{{Name: "", Value: "x"}})
	require.Error(t, err)
}

func TestHeaderCodec_FinishDecoding_ResetsState(t *testing.T) {
	enc := NewHeaderCodec(4096)
	dec := NewHeaderCodec(4096)

	block, err := enc.Encode([]hpack.HeaderField{{Name: "a", Value: "b"}})
	require.NoError(t, err)
	require.NoError(t, dec.DecodeFragment(block))
	_, err = dec.FinishDecoding()
	require.NoError(t, err)

	// A second, independent header block should not see leftover fields.
	block2, err := enc.Encode([]hpack.HeaderField{{Name: "c", Value: "d"}})
	require.NoError(t, err)
	require.NoError(t, dec.DecodeFragment(block2))
	decoded, err := dec.FinishDecoding()
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "c", decoded[0].Name)
}

func TestHeaderCodec_SetMaxEncoderDynamicTableSize_AffectsEncodedOutput(t *testing.T) {
	enc := NewHeaderCodec(4096)
	enc.SetMaxEncoderDynamicTableSize(0)

	block, err := enc.Encode([]hpack.HeaderField{{Name: "x-custom", Value: "v"}})
	require.NoError(t, err)
	require.NotEmpty(t, block)
}

func TestHeaderCodec_SetMaxDecoderDynamicTableSize(t *testing.T) {
	dec := NewHeaderCodec(4096)
	dec.SetMaxDecoderDynamicTableSize(8192)

	block, err := NewHeaderCodec(8192).Encode([]hpack.HeaderField{{Name: "a", Value: "b"}})
	require.NoError(t, err)
	require.NoError(t, dec.DecodeFragment(block))
	_, err = dec.FinishDecoding()
	require.NoError(t, err)
}
