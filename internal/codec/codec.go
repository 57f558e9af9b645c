// Package codec converts mono float32 audio between its in-memory form,
// the base64 text encoding used on the wire, and a playable WAV container.
// All functions are pure.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// ErrMisaligned is returned when a byte buffer is not a whole number of
// 32-bit samples.
var ErrMisaligned = errors.New("codec: buffer length is not a multiple of 4")

// Float32ToBytes packs samples as little-endian IEEE-754 float32.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// BytesToFloat32 converts raw bytes (little-endian float32) to a float32 slice.
// Trailing bytes that do not form a whole sample are ignored.
func BytesToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}

// EncodeBase64 renders samples in the transport-safe form sent to the
// transcription service: standard base64 over f32le bytes.
func EncodeBase64(samples []float32) string {
	return base64.StdEncoding.EncodeToString(Float32ToBytes(samples))
}

// DecodeBase64 is the inverse of EncodeBase64.
func DecodeBase64(s string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: decode base64: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, ErrMisaligned
	}
	return BytesToFloat32(raw), nil
}

// Float32ToInt16 scales [-1, 1] samples to 16-bit PCM, clamping out of
// range values. Negative values scale by 0x8000 and positive by 0x7FFF so
// both rails are reachable.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		s = max(-1, min(1, s))
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7FFF)
		}
	}
	return out
}

// EncodeWAV wraps mono samples in a 16-bit PCM RIFF/WAVE container so a
// single chunk can be played back or inspected with ordinary tools.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("codec: encode wav: invalid sample rate %d", sampleRate)
	}

	pcm := Float32ToInt16(samples)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(pcm)),
		SourceBitDepth: 16,
	}
	for i, s := range pcm {
		buf.Data[i] = int(s)
	}

	sink := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(sink, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("codec: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("codec: close wav encoder: %w", err)
	}

	data, err := io.ReadAll(sink.Reader())
	if err != nil {
		return nil, fmt.Errorf("codec: read wav buffer: %w", err)
	}
	return data, nil
}

// Normalize scales samples so the loudest one has magnitude 1. Silence is
// returned unchanged. The input slice is never modified.
func Normalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}

	out := make([]float32, len(samples))
	if peak == 0 {
		copy(out, samples)
		return out
	}
	for i, s := range samples {
		out[i] = s / peak
	}
	return out
}
