// Package trigger decides when created chunks are sent: all at once, or as
// playback reaches each chunk's start offset.
package trigger

import (
	"fmt"
	"math"
	"slices"

	"github.com/chaz8081/gostt-stream/internal/chunk"
)

// Mode selects a Policy.
type Mode string

const (
	// ModeImmediate sends every chunk as soon as it exists.
	ModeImmediate Mode = "immediate"
	// ModePlayback sends a chunk once the playback position reaches its
	// source offset.
	ModePlayback Mode = "playback"
)

// Policy picks the chunks that are due for sending. Each index is returned
// at most once until Reset, even if the registry has not caught up with an
// earlier send.
type Policy interface {
	// Pending returns the indices to send now, in ascending order.
	// position is the playback time in seconds; Immediate ignores it.
	Pending(chunks []chunk.Chunk, position float64) []int
	// Reset forgets every index returned so far.
	Reset()
	Mode() Mode
}

// New returns the policy for mode.
func New(mode Mode) (Policy, error) {
	switch mode {
	case ModeImmediate, "":
		return NewImmediate(), nil
	case ModePlayback:
		return NewPlaybackGated(), nil
	default:
		return nil, fmt.Errorf("trigger: unknown mode %q (valid: %s, %s)", mode, ModeImmediate, ModePlayback)
	}
}

// sendOnce is the set of indices already handed out.
type sendOnce map[int]struct{}

func (s sendOnce) take(idx int) bool {
	if _, ok := s[idx]; ok {
		return false
	}
	s[idx] = struct{}{}
	return true
}

// Immediate releases every created chunk.
type Immediate struct {
	fired sendOnce
}

func NewImmediate() *Immediate {
	return &Immediate{fired: make(sendOnce)}
}

func (p *Immediate) Pending(chunks []chunk.Chunk, _ float64) []int {
	var due []int
	for _, c := range chunks {
		if c.State == chunk.Created && p.fired.take(c.Index) {
			due = append(due, c.Index)
		}
	}
	slices.Sort(due)
	return due
}

func (p *Immediate) Reset()     { clear(p.fired) }
func (p *Immediate) Mode() Mode { return ModeImmediate }

// PlaybackGated releases a chunk the first time the playback position is at
// or past its source offset. The position is treated as non-decreasing: a
// seek backwards never releases a chunk again. Nothing is released until a
// position has been reported, so chunk 0 waits for playback to start.
type PlaybackGated struct {
	fired    sendOnce
	position float64
}

func NewPlaybackGated() *PlaybackGated {
	return &PlaybackGated{fired: make(sendOnce), position: math.Inf(-1)}
}

func (p *PlaybackGated) Pending(chunks []chunk.Chunk, position float64) []int {
	p.position = max(p.position, position)

	var due []int
	for _, c := range chunks {
		if c.State != chunk.Created || c.SourceOffset > p.position {
			continue
		}
		if p.fired.take(c.Index) {
			due = append(due, c.Index)
		}
	}
	slices.Sort(due)
	return due
}

// Position returns the furthest playback position seen, or -Inf before
// playback starts.
func (p *PlaybackGated) Position() float64 { return p.position }

func (p *PlaybackGated) Reset() {
	clear(p.fired)
	p.position = math.Inf(-1)
}

func (p *PlaybackGated) Mode() Mode { return ModePlayback }
