package reconcile

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period after the last result before the
// transcript is recomputed.
const DefaultDebounce = 100 * time.Millisecond

// Stopper cancels a scheduled call. *time.Timer satisfies it.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Stopper

func timeAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithAfterFunc replaces the timer implementation. Callers that own an
// event loop use it to run the merge on their own goroutine; tests use it
// to control time.
func WithAfterFunc(after AfterFunc) Option {
	return func(r *Reconciler) { r.after = after }
}

// WithLogger sets the logger used for merge diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reconciler) { r.log = log }
}

// Reconciler debounces transcript recomputation. Every Schedule supersedes
// the pending one, so a burst of results produces a single merge over the
// full candidate list once arrivals go quiet.
type Reconciler struct {
	delay   time.Duration
	publish func(string)
	after   AfterFunc
	log     *slog.Logger

	mu      sync.Mutex
	gen     uint64
	pending Stopper
	source  func() []string
	latest  string
	runs    int
}

// New returns a Reconciler that publishes each merged transcript through
// publish. A non-positive delay uses DefaultDebounce.
func New(delay time.Duration, publish func(string), opts ...Option) *Reconciler {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	r := &Reconciler{
		delay:   delay,
		publish: publish,
		after:   timeAfterFunc,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schedule cancels any pending merge and arms a new one. When it fires,
// source is called for the current candidate texts ordered by chunk index.
func (r *Reconciler) Schedule(source func() []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending != nil {
		r.pending.Stop()
	}
	r.gen++
	gen := r.gen
	r.source = source
	r.pending = r.after(r.delay, func() { r.fire(gen) })
}

// Flush runs the pending merge now, if there is one.
func (r *Reconciler) Flush() {
	r.mu.Lock()
	if r.pending == nil {
		r.mu.Unlock()
		return
	}
	r.pending.Stop()
	gen := r.gen
	r.mu.Unlock()

	r.fire(gen)
}

// Cancel discards the pending merge. A timer that already fired but has
// not run yet is ignored when it does.
func (r *Reconciler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	r.gen++
	r.source = nil
}

// Reset cancels any pending merge and forgets the last transcript.
func (r *Reconciler) Reset() {
	r.Cancel()
	r.mu.Lock()
	r.latest = ""
	r.mu.Unlock()
}

// Latest returns the most recently published transcript.
func (r *Reconciler) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Runs returns how many merges have been published.
func (r *Reconciler) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func (r *Reconciler) fire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.source == nil {
		r.mu.Unlock()
		return
	}
	source := r.source
	r.pending = nil
	r.mu.Unlock()

	texts := source()
	merged := MergeOverlapping(texts)

	r.mu.Lock()
	// A Schedule or Cancel during the merge makes this result stale.
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.latest = merged
	r.runs++
	r.source = nil
	r.mu.Unlock()

	r.log.Debug("transcript merged", "chunks", len(texts), "chars", len(merged))
	if r.publish != nil {
		r.publish(merged)
	}
}
