package chunk

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNonContiguous is returned by Create when chunk indices are not 0..n-1
// in order.
var ErrNonContiguous = errors.New("chunk: indices must be contiguous from 0")

// Counts tallies chunks per lifecycle state.
type Counts struct {
	Created  int
	Sent     int
	Received int
}

// Total returns the number of chunks counted.
func (c Counts) Total() int {
	return c.Created + c.Sent + c.Received
}

// Registry is the authoritative index -> Chunk mapping for one session.
//
// Indices are dense, so chunks are stored in a slice at their own index and
// every ordered query is a linear walk with no sorting.
type Registry struct {
	mu     sync.RWMutex
	chunks []Chunk
	log    *slog.Logger
	now    func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, now: time.Now}
}

// Create replaces the registry's contents with chunks, discarding all
// previous state. Every chunk starts in Created with an empty transcript.
func (r *Registry) Create(chunks []Chunk) error {
	fresh := make([]Chunk, len(chunks))
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("%w: position %d holds index %d", ErrNonContiguous, i, c.Index)
		}
		c.State = Created
		c.Transcript = ""
		c.SentAt = time.Time{}
		c.ReceivedAt = time.Time{}
		fresh[i] = c
	}

	r.mu.Lock()
	r.chunks = fresh
	r.mu.Unlock()
	return nil
}

// Reset empties the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.chunks = nil
	r.mu.Unlock()
}

// MarkSent moves a Created chunk to Sent. It reports whether the chunk
// changed; unknown indices and chunks already past Created are left alone.
func (r *Registry) MarkSent(index int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.known(index) {
		r.log.Warn("mark sent for unknown chunk", "chunk", index, "chunks", len(r.chunks))
		return false
	}
	c := &r.chunks[index]
	if c.State != Created {
		return false
	}
	c.State = Sent
	c.SentAt = r.now()
	return true
}

// MarkReceived attaches a transcript and moves the chunk to Received.
// A repeated receipt for the same index overwrites the transcript. A result
// that overtakes its own send completion moves the chunk straight from
// Created to Received. Unknown indices are ignored and reported as false.
func (r *Registry) MarkReceived(index int, transcript string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.known(index) {
		r.log.Warn("mark received for unknown chunk", "chunk", index, "chunks", len(r.chunks))
		return false
	}
	c := &r.chunks[index]
	if c.State == Received {
		r.log.Debug("duplicate result, overwriting transcript", "chunk", index)
	}
	c.State = Received
	c.Transcript = transcript
	c.ReceivedAt = r.now()
	return true
}

// Get returns the chunk at index.
func (r *Registry) Get(index int) (Chunk, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.known(index) {
		return Chunk{}, false
	}
	return r.chunks[index], true
}

// Len returns the number of chunks in the session.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks)
}

// Snapshot returns every chunk ordered by index. The returned slice is the
// caller's; sample payloads are shared and must be treated as read-only.
func (r *Registry) Snapshot() []Chunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Chunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

// Received returns the chunks that have a transcript, ordered by index.
func (r *Registry) Received() []Chunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Chunk
	for _, c := range r.chunks {
		if c.State == Received {
			out = append(out, c)
		}
	}
	return out
}

// Transcripts returns the transcripts of received chunks ordered by index,
// independent of the order in which they arrived.
func (r *Registry) Transcripts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, c := range r.chunks {
		if c.State == Received {
			out = append(out, c.Transcript)
		}
	}
	return out
}

// Counts returns a per-state tally.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n Counts
	for _, c := range r.chunks {
		switch c.State {
		case Created:
			n.Created++
		case Sent:
			n.Sent++
		case Received:
			n.Received++
		}
	}
	return n
}

// AllReceived reports whether the session is non-empty and every chunk has
// a transcript.
func (r *Registry) AllReceived() bool {
	n := r.Counts()
	return n.Total() > 0 && n.Received == n.Total()
}

// known reports whether index addresses a chunk (caller must hold mu).
func (r *Registry) known(index int) bool {
	return index >= 0 && index < len(r.chunks)
}
