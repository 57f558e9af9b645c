// Package audio supplies mono float32 samples to the pipeline, from WAV
// files or the default microphone, and plays them back with a position
// clock for playback-gated sending.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
)

// ErrDecode is returned when a source cannot be turned into samples.
var ErrDecode = errors.New("audio: decode failed")

const wavFormatPCM = 1

// Source is decoded mono audio.
type Source struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the source length in seconds.
func (s Source) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// LoadWAV reads a PCM WAV file.
func LoadWAV(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	defer f.Close()

	src, err := DecodeWAV(f)
	if err != nil {
		return Source{}, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// DecodeWAV decodes integer PCM of any bit depth, scaling samples to
// [-1, 1] and averaging channels down to mono.
func DecodeWAV(r io.ReadSeeker) (Source, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Source{}, fmt.Errorf("%w: not a valid WAV file", ErrDecode)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return Source{}, fmt.Errorf("%w: unsupported WAV format %d (want integer PCM)", ErrDecode, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Source{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return Source{}, fmt.Errorf("%w: missing format chunk", ErrDecode)
	}

	depth := int(dec.BitDepth)
	if depth < 8 || depth > 32 {
		return Source{}, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, depth)
	}

	samples := make([]float32, len(buf.Data))
	scale := float32(int64(1) << (depth - 1))
	for i, v := range buf.Data {
		if depth == 8 {
			// 8-bit WAV is unsigned
			v -= 128
		}
		samples[i] = float32(v) / scale
	}

	return Source{
		Samples:    Downmix(samples, buf.Format.NumChannels),
		SampleRate: buf.Format.SampleRate,
	}, nil
}

// Downmix averages interleaved frames of the given channel count into a
// single channel. Mono input is returned as is; a trailing partial frame
// is dropped.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		var sum float32
		for _, s := range interleaved[i*channels : (i+1)*channels] {
			sum += s
		}
		out[i] = sum / float32(channels)
	}
	return out
}
