package audio

import (
	"encoding/base64"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	// Arbitrary PCM16 buffer covering extremes, zero and mid-range values
	raw := []byte{
		0x00, 0x00, // 0
		0xFF, 0x7F, // 32767
		0x01, 0x80, // -32767
		0x34, 0x12, // 4660
		0xCC, 0xED, // -4660
		0x10, 0x00, // 16
	}
	payload := base64.StdEncoding.EncodeToString(raw)

	samples, err := DecodePCM16(payload)
	require.NoError(t, err)
	require.Len(t, samples, len(raw)/2)

	decoded, err := base64.StdEncoding.DecodeString(EncodePCM16(samples))
	require.NoError(t, err)
	require.Len(t, decoded, len(raw))

	// Every sample must survive the round trip within one quantization step.
	for i := 0; i < len(raw); i += 2 {
		want := int16(raw[i]) | int16(raw[i+1])<<8
		got := int16(decoded[i]) | int16(decoded[i+1])<<8
		if diff := int(want) - int(got); diff < -1 || diff > 1 {
			t.Fatalf("sample %d: want %d, got %d", i/2, want, got)
		}
	}
}

func TestDecodePCM16Malformed(t *testing.T) {
	_, err := DecodePCM16("not-base64!!!")
	assert.Error(t, err)

	// Odd byte count is not a valid PCM16 frame
	odd := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})
	_, err = DecodePCM16(odd)
	assert.Error(t, err)
}

func TestChunkBytes(t *testing.T) {
	data := make([]byte, 2500)
	chunks := ChunkBytes(data, 1024)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1024)
	assert.Len(t, chunks[1], 1024)
	assert.Len(t, chunks[2], 452)

	assert.Nil(t, ChunkBytes(nil, 1024))
	assert.Nil(t, ChunkBytes(data, 0))
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.Equal(t, 0.0, RMS([]float64{0, 0, 0}))

	// Constant amplitude signal has RMS equal to the amplitude
	assert.InDelta(t, 0.5, RMS([]float64{0.5, -0.5, 0.5, -0.5}), 1e-9)

	// Full-scale sine has RMS of 1/sqrt(2)
	sine := make([]float64, 16000)
	for i := range sine {
		sine[i] = math.Sin(2 * math.Pi * 440 * float64(i) / 16000)
	}
	assert.InDelta(t, 1/math.Sqrt2, RMS(sine), 1e-3)
}

func TestResample(t *testing.T) {
	in := []float64{0, 0.5, 1.0, 0.5}

	up := Upsample(in, 2)
	require.Len(t, up, 8)
	assert.InDelta(t, 0.25, up[1], 1e-9) // interpolated midpoint
	assert.InDelta(t, 0.5, up[7], 1e-9)  // held last sample

	down := Downsample(up, 2)
	require.Len(t, down, 4)
	for i := range in {
		assert.InDelta(t, in[i], down[i], 1e-9)
	}
}
