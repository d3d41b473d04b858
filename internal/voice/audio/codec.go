// Package audio provides pure conversion functions between the telephony wire
// format (base64-encoded little-endian PCM16 mono frames) and the normalized
// float sample representation used by the speech pipeline.
package audio

import (
	"encoding/base64"
	"fmt"
	"math"
)

const pcm16Scale = 32768.0

// DecodePCM16 decodes a base64 PCM16 frame into normalized float64 samples in [-1, 1).
func DecodePCM16(payload string) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd byte count %d", len(raw))
	}

	samples := make([]float64, len(raw)/2)
	for i := range samples {
		// Little-endian 16-bit PCM
		s := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		samples[i] = float64(s) / pcm16Scale
	}
	return samples, nil
}

// EncodePCM16 encodes normalized float64 samples as a base64 PCM16 frame.
// Samples outside [-1, 1] are clamped.
func EncodePCM16(samples []float64) string {
	return base64.StdEncoding.EncodeToString(SamplesToBytes(samples))
}

// SamplesToBytes converts normalized samples to little-endian PCM16 bytes.
func SamplesToBytes(samples []float64) []byte {
	raw := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		s := int16(math.Round(v * (pcm16Scale - 1)))
		raw[i*2] = byte(s)
		raw[i*2+1] = byte(s >> 8)
	}
	return raw
}

// BytesToSamples converts little-endian PCM16 bytes to normalized samples.
// Trailing odd bytes are ignored.
func BytesToSamples(raw []byte) []float64 {
	samples := make([]float64, len(raw)/2)
	for i := range samples {
		s := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		samples[i] = float64(s) / pcm16Scale
	}
	return samples
}

// Base64ToBytes decodes a base64 string into raw bytes.
func Base64ToBytes(base64String string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64String)
}

// BytesToBase64 encodes raw bytes as a base64 string.
func BytesToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// ChunkBytes splits a buffer into chunks of at most maxLen bytes, preserving
// order. Used to respect the transport frame-size limit on the outbound path.
func ChunkBytes(data []byte, maxLen int) [][]byte {
	if maxLen <= 0 || len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+maxLen-1)/maxLen)
	for off := 0; off < len(data); off += maxLen {
		end := off + maxLen
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// RMS computes the root-mean-square energy of a frame of normalized samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
