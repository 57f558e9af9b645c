// Package chunk defines the unit of streaming work: a fixed-duration,
// possibly overlapping window of mono audio plus its processing state.
// It provides the windowing function that cuts a sample sequence into
// chunks and the per-session Registry that tracks each chunk's lifecycle.
package chunk

import (
	"fmt"
	"time"
)

// State is a chunk's position in its lifecycle. Transitions only move
// forward: Created -> Sent -> Received.
type State int

const (
	// Created means the chunk exists but has not been transmitted.
	Created State = iota
	// Sent means the chunk was written to the connection.
	Sent
	// Received means a transcript for the chunk has arrived.
	Received
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Sent:
		return "sent"
	case Received:
		return "received"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Chunk is one window of source audio.
type Chunk struct {
	Index int
	// SourceOffset is the playback time in seconds at which the window starts.
	SourceOffset float64
	// Samples must not be modified once the chunk is created; overlapping
	// chunks may be compared sample for sample.
	Samples    []float32
	SampleRate int

	State      State
	Transcript string
	SentAt     time.Time
	ReceivedAt time.Time
}

// Duration returns the length of the chunk's audio in seconds.
func (c Chunk) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// RoundTrip returns how long the service took to answer, or zero if the
// chunk has not completed a full send/receive cycle.
func (c Chunk) RoundTrip() time.Duration {
	if c.SentAt.IsZero() || c.ReceivedAt.IsZero() {
		return 0
	}
	return c.ReceivedAt.Sub(c.SentAt)
}
