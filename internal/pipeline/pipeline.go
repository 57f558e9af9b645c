// Package pipeline runs the streaming transcription session. A single
// event loop owns all session state: windowing a source into chunks,
// deciding when each chunk is sent, applying results as they arrive in any
// order, and publishing the merged transcript after each quiet period.
// Network I/O happens on helper goroutines that report back to the loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/gostt-stream/internal/chunk"
	"github.com/chaz8081/gostt-stream/internal/codec"
	"github.com/chaz8081/gostt-stream/internal/metrics"
	"github.com/chaz8081/gostt-stream/internal/reconcile"
	"github.com/chaz8081/gostt-stream/internal/transport"
	"github.com/chaz8081/gostt-stream/internal/trigger"
	"github.com/google/uuid"
)

// ErrClosed is returned when posting to a pipeline that has stopped.
var ErrClosed = errors.New("pipeline: closed")

const eventBuffer = 256

// Transport is the connection the pipeline sends chunks over.
// *transport.Client implements it.
type Transport interface {
	SendChunk(ctx context.Context, c chunk.Chunk) error
	OnResult(fn func(transport.Result))
	OnStatus(fn func(transport.Status, error))
	Status() transport.Status
}

// Options configures a Pipeline. Zero values take the defaults noted.
type Options struct {
	ChunkDuration float64       // seconds, default 3
	StepDuration  float64       // seconds, default 2.5
	Debounce      time.Duration // default reconcile.DefaultDebounce
	Mode          trigger.Mode  // default immediate
	Normalize     bool
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Session is one loaded source.
type Session struct {
	ID     string
	Chunks int
	done   chan struct{}
}

// Done is closed when every chunk of the session has a transcript and the
// final merge has been published. It is never closed for a session that
// was replaced by a newer one first.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Pipeline coordinates one transport, one registry and one reconciler.
type Pipeline struct {
	opts    Options
	tr      Transport
	log     *slog.Logger
	metrics *metrics.Metrics

	events   chan func()
	stopped  chan struct{}
	stopOnce sync.Once

	registry   *chunk.Registry
	reconciler *reconcile.Reconciler

	// Owned by the loop goroutine.
	ctx       context.Context
	policy    trigger.Policy
	session   *Session
	position  float64
	completed bool

	mu           sync.RWMutex
	onTranscript func(string)
	onChunks     func([]chunk.Chunk)
	onStatus     func(transport.Status, error)
}

// New wires a pipeline to tr. Call Run to start processing.
func New(tr Transport, opts Options) (*Pipeline, error) {
	if opts.ChunkDuration == 0 {
		opts.ChunkDuration = 3
	}
	if opts.StepDuration == 0 {
		opts.StepDuration = 2.5
	}
	if opts.StepDuration < 0 || opts.StepDuration > opts.ChunkDuration {
		return nil, fmt.Errorf("pipeline: %w: step %gs, chunk %gs", chunk.ErrInvalidWindow, opts.StepDuration, opts.ChunkDuration)
	}
	policy, err := trigger.New(opts.Mode)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Pipeline{
		opts:     opts,
		tr:       tr,
		log:      log,
		metrics:  opts.Metrics,
		events:   make(chan func(), eventBuffer),
		stopped:  make(chan struct{}),
		registry: chunk.NewRegistry(log),
		ctx:      context.Background(),
		policy:   policy,
		position: math.Inf(-1),
	}
	p.reconciler = reconcile.New(opts.Debounce, p.publish,
		reconcile.WithAfterFunc(p.afterFunc),
		reconcile.WithLogger(log),
	)

	tr.OnResult(func(r transport.Result) {
		p.post(func() { p.handleResult(r) })
	})
	tr.OnStatus(func(s transport.Status, err error) {
		p.post(func() { p.handleStatus(s, err) })
	})
	p.metrics.SetConnectionStatus(int(tr.Status()))
	return p, nil
}

// OnTranscript registers the observer for each published transcript.
// Observers run on the loop goroutine and must not block.
func (p *Pipeline) OnTranscript(fn func(string)) {
	p.mu.Lock()
	p.onTranscript = fn
	p.mu.Unlock()
}

// OnChunks registers the observer for chunk state changes. It receives a
// fresh snapshot ordered by index.
func (p *Pipeline) OnChunks(fn func([]chunk.Chunk)) {
	p.mu.Lock()
	p.onChunks = fn
	p.mu.Unlock()
}

// OnStatus registers the observer for connection status changes.
func (p *Pipeline) OnStatus(fn func(transport.Status, error)) {
	p.mu.Lock()
	p.onStatus = fn
	p.mu.Unlock()
}

// Mode returns the trigger mode in use.
func (p *Pipeline) Mode() trigger.Mode {
	return p.policy.Mode()
}

// Snapshot returns the current session's chunks ordered by index.
func (p *Pipeline) Snapshot() []chunk.Chunk {
	return p.registry.Snapshot()
}

// Counts tallies the current session's chunks by state.
func (p *Pipeline) Counts() chunk.Counts {
	return p.registry.Counts()
}

// Transcript returns the most recently published transcript.
func (p *Pipeline) Transcript() string {
	return p.reconciler.Latest()
}

// Run processes events until ctx is done or Close is called.
func (p *Pipeline) Run(ctx context.Context) error {
	p.ctx = ctx
	defer p.stop()

	for {
		select {
		case <-ctx.Done():
			p.reconciler.Cancel()
			return ctx.Err()
		case <-p.stopped:
			p.reconciler.Cancel()
			return nil
		case fn := <-p.events:
			fn()
		}
	}
}

// Close stops the loop. Pending events are discarded.
func (p *Pipeline) Close() {
	p.stop()
}

// LoadSource windows samples into a new session that replaces the current
// one. Windowing runs on the caller's goroutine; the swap itself happens
// on the loop, which cancels any pending merge for the old session.
func (p *Pipeline) LoadSource(samples []float32, sampleRate int) (*Session, error) {
	if p.opts.Normalize {
		samples = codec.Normalize(samples)
	}
	chunks, err := chunk.Window(samples, sampleRate, p.opts.ChunkDuration, p.opts.StepDuration)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load source: %w", err)
	}

	s := &Session{
		ID:     uuid.NewString(),
		Chunks: len(chunks),
		done:   make(chan struct{}),
	}
	if !p.post(func() { p.swapSession(s, chunks) }) {
		return nil, ErrClosed
	}
	return s, nil
}

// PlaybackPosition reports the playback time in seconds. In playback mode
// it releases every chunk whose start offset has been reached.
func (p *Pipeline) PlaybackPosition(seconds float64) {
	p.post(func() {
		p.position = max(p.position, seconds)
		p.dispatch()
	})
}

// Flush publishes any pending merge without waiting for the quiet period
// and returns once it has run. It returns ErrClosed if the loop stopped.
func (p *Pipeline) Flush() error {
	done := make(chan struct{})
	if !p.post(func() {
		p.reconciler.Flush()
		close(done)
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-p.stopped:
		return ErrClosed
	}
}

// post queues fn for the loop. It reports false once the pipeline stopped.
func (p *Pipeline) post(fn func()) bool {
	select {
	case <-p.stopped:
		return false
	default:
	}
	select {
	case p.events <- fn:
		return true
	case <-p.stopped:
		return false
	}
}

func (p *Pipeline) stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

// afterFunc arms a real timer whose callback runs on the loop.
func (p *Pipeline) afterFunc(d time.Duration, f func()) reconcile.Stopper {
	return time.AfterFunc(d, func() { p.post(f) })
}

func (p *Pipeline) swapSession(s *Session, chunks []chunk.Chunk) {
	p.reconciler.Reset()
	p.policy.Reset()
	if err := p.registry.Create(chunks); err != nil {
		p.log.Error("session rejected", "session", s.ID, "error", err)
		return
	}
	p.session = s
	p.position = math.Inf(-1)
	p.completed = false

	p.metrics.SessionStarted(len(chunks))
	p.log.Info("session started", "session", s.ID, "chunks", len(chunks), "mode", p.policy.Mode())
	p.notifyChunks()

	if len(chunks) == 0 {
		p.publish("")
		return
	}
	p.dispatch()
}

// dispatch sends whatever the trigger policy releases. The sends run on
// one goroutine per batch so the loop never waits on the network.
func (p *Pipeline) dispatch() {
	if p.session == nil {
		return
	}
	snapshot := p.registry.Snapshot()
	due := p.policy.Pending(snapshot, p.position)
	if len(due) == 0 {
		return
	}

	batch := make([]chunk.Chunk, len(due))
	for i, idx := range due {
		batch[i] = snapshot[idx]
	}
	session, ctx := p.session, p.ctx

	go func() {
		for _, c := range batch {
			err := p.tr.SendChunk(ctx, c)
			idx := c.Index
			p.post(func() { p.handleSent(session, idx, err) })
		}
	}()
}

func (p *Pipeline) handleSent(s *Session, idx int, err error) {
	if s != p.session {
		p.log.Debug("ignoring send completion for replaced session", "session", s.ID, "chunk", idx)
		return
	}
	if err != nil {
		p.metrics.ChunkSendFailed()
		p.log.Warn("chunk send failed", "session", s.ID, "chunk", idx, "error", err)
		return
	}
	if p.registry.MarkSent(idx) {
		p.metrics.ChunkSent()
		p.notifyChunks()
	}
}

func (p *Pipeline) handleResult(r transport.Result) {
	prev, ok := p.registry.Get(r.Index)
	if !ok {
		p.metrics.ResultDropped("unknown_chunk")
		p.log.Warn("result for unknown chunk dropped", "chunk", r.Index, "chunks", p.registry.Len())
		return
	}

	text := strings.TrimSpace(r.Transcript)
	if r.Failed() {
		p.log.Warn("service reported chunk error", "chunk", r.Index, "transcript", text)
	}
	p.registry.MarkReceived(r.Index, text)

	cur, _ := p.registry.Get(r.Index)
	p.metrics.ResultApplied(prev.State == chunk.Sent, cur.RoundTrip(), r.ProcessingTime, r.Failed())
	p.log.Debug("result received",
		"chunk", r.Index,
		"language", r.Language,
		"round_trip", cur.RoundTrip(),
		"processing_time", r.ProcessingTime,
	)

	p.notifyChunks()
	p.reconciler.Schedule(p.registry.Transcripts)
}

func (p *Pipeline) handleStatus(s transport.Status, err error) {
	p.metrics.SetConnectionStatus(int(s))
	if err != nil {
		p.log.Warn("connection status changed", "status", s, "error", err)
	} else {
		p.log.Info("connection status changed", "status", s)
	}

	p.mu.RLock()
	fn := p.onStatus
	p.mu.RUnlock()
	if fn != nil {
		fn(s, err)
	}
}

// publish is the reconciler's output. It runs on the loop.
func (p *Pipeline) publish(text string) {
	p.metrics.Merged()

	p.mu.RLock()
	fn := p.onTranscript
	p.mu.RUnlock()
	if fn != nil {
		fn(text)
	}

	s := p.session
	if s == nil || p.completed {
		return
	}
	if s.Chunks == 0 || p.registry.AllReceived() {
		p.completed = true
		p.log.Info("session complete", "session", s.ID, "chunks", s.Chunks)
		close(s.done)
	}
}

func (p *Pipeline) notifyChunks() {
	p.mu.RLock()
	fn := p.onChunks
	p.mu.RUnlock()
	if fn != nil {
		fn(p.registry.Snapshot())
	}
}
