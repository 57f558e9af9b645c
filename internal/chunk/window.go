package chunk

import (
	"errors"
	"fmt"
	"math"
)

// MinChunkSeconds is the shortest window that is worth transcribing.
// Trailing remainders below it are discarded instead of being sent.
const MinChunkSeconds = 1

// ErrInvalidWindow is returned for windowing parameters that cannot
// produce a well-formed chunk sequence.
var ErrInvalidWindow = errors.New("chunk: invalid window parameters")

// Window cuts samples into chunks of chunkSec seconds whose start offsets
// advance by stepSec. Consecutive chunks overlap by chunkSec-stepSec
// seconds. Indices start at 0 and are contiguous; any slice shorter than
// MinChunkSeconds of audio ends the sequence.
//
// Each chunk owns a copy of its samples, so later changes to the input
// slice do not leak into chunks already handed out.
func Window(samples []float32, sampleRate int, chunkSec, stepSec float64) ([]Chunk, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidWindow, sampleRate)
	}
	if stepSec <= 0 || stepSec > chunkSec {
		return nil, fmt.Errorf("%w: step %.3fs must be in (0, %.3fs]", ErrInvalidWindow, stepSec, chunkSec)
	}

	chunkSamples := int(math.Round(float64(sampleRate) * chunkSec))
	stepSamples := int(math.Round(float64(sampleRate) * stepSec))
	if stepSamples < 1 {
		return nil, fmt.Errorf("%w: step %.6fs is shorter than one sample", ErrInvalidWindow, stepSec)
	}
	minSamples := sampleRate * MinChunkSeconds

	var chunks []Chunk
	for offset := 0; offset < len(samples); offset += stepSamples {
		end := min(offset+chunkSamples, len(samples))
		if end-offset < minSamples {
			// Only the tail (or a window configured below the minimum) can
			// be this short, and every later slice would be shorter still.
			break
		}

		payload := make([]float32, end-offset)
		copy(payload, samples[offset:end])

		index := len(chunks)
		chunks = append(chunks, Chunk{
			Index:        index,
			SourceOffset: float64(index) * stepSec,
			Samples:      payload,
			SampleRate:   sampleRate,
			State:        Created,
		})
	}
	return chunks, nil
}
