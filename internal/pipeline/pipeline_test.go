package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/gostt-stream/internal/chunk"
	"github.com/chaz8081/gostt-stream/internal/metrics"
	"github.com/chaz8081/gostt-stream/internal/transport"
	"github.com/chaz8081/gostt-stream/internal/trigger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const waitTimeout = 5 * time.Second

// fakeTransport records sends and lets tests inject results.
type fakeTransport struct {
	mu       sync.Mutex
	status   transport.Status
	fail     map[int]error
	sent     []int
	attempts chan int
	onResult func(transport.Result)
	onStatus func(transport.Status, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		status:   transport.StatusConnected,
		fail:     make(map[int]error),
		attempts: make(chan int, 64),
	}
}

func (f *fakeTransport) SendChunk(_ context.Context, c chunk.Chunk) error {
	f.mu.Lock()
	defer func() {
		f.mu.Unlock()
		f.attempts <- c.Index
	}()
	if f.status != transport.StatusConnected {
		return fmt.Errorf("fake: %w", transport.ErrNotConnected)
	}
	if err := f.fail[c.Index]; err != nil {
		return err
	}
	f.sent = append(f.sent, c.Index)
	return nil
}

func (f *fakeTransport) OnResult(fn func(transport.Result)) { f.onResult = fn }

func (f *fakeTransport) OnStatus(fn func(transport.Status, error)) { f.onStatus = fn }

func (f *fakeTransport) Status() transport.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTransport) setStatus(s transport.Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeTransport) deliver(idx int, text string) {
	f.onResult(transport.Result{Index: idx, Transcript: text})
}

func (f *fakeTransport) sentIndices() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// start builds and runs a pipeline over 1s chunks stepping by 1s at 100 Hz.
func start(t *testing.T, tr *fakeTransport, opts Options) *Pipeline {
	t.Helper()
	if opts.ChunkDuration == 0 {
		opts.ChunkDuration, opts.StepDuration = 1, 1
	}
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	opts.Logger = quietLogger()

	p, err := New(tr, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return p
}

func seconds(n float64) []float32 {
	return make([]float32, int(n*100))
}

// barrier waits until every event queued before it has run.
func barrier(t *testing.T, p *Pipeline) {
	t.Helper()
	done := make(chan struct{})
	if !p.post(func() { close(done) }) {
		t.Fatal("pipeline stopped")
	}
	<-done
}

func waitAttempts(t *testing.T, tr *fakeTransport, n int) []int {
	t.Helper()
	var got []int
	deadline := time.After(waitTimeout)
	for len(got) < n {
		select {
		case idx := <-tr.attempts:
			got = append(got, idx)
		case <-deadline:
			t.Fatalf("saw %d send attempts %v, want %d", len(got), got, n)
		}
	}
	slices.Sort(got)
	return got
}

// waitStates polls until the chunk states match want. Send completions
// are posted after the transport returns, so they can trail the attempt.
func waitStates(t *testing.T, p *Pipeline, want ...chunk.State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		snap := p.Snapshot()
		got := make([]chunk.State, len(snap))
		for i, c := range snap {
			got[i] = c.State
		}
		if slices.Equal(got, want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("chunk states = %v, want %v", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for session to complete")
	}
}

func TestImmediateModeEndToEnd(t *testing.T) {
	tr := newFakeTransport()
	p := start(t, tr, Options{Debounce: 100 * time.Millisecond})

	var (
		mu        sync.Mutex
		published []string
	)
	p.OnTranscript(func(s string) {
		mu.Lock()
		published = append(published, s)
		mu.Unlock()
	})

	s, err := p.LoadSource(seconds(3), 100)
	if err != nil {
		t.Fatalf("LoadSource() error = %v", err)
	}
	if s.Chunks != 3 || s.ID == "" {
		t.Fatalf("session = %+v, want 3 chunks and an ID", s)
	}

	if got := waitAttempts(t, tr, 3); !slices.Equal(got, []int{0, 1, 2}) {
		t.Fatalf("send attempts = %v, want [0 1 2]", got)
	}
	waitStates(t, p, chunk.Sent, chunk.Sent, chunk.Sent)

	// Results arrive out of order with surrounding whitespace.
	tr.deliver(2, " the mat and purred ")
	tr.deliver(0, "the cat sat on")
	tr.deliver(1, "sat on the mat")
	waitDone(t, s)

	want := "the cat sat on the mat and purred"
	if got := p.Transcript(); got != want {
		t.Errorf("Transcript() = %q, want %q", got, want)
	}
	for _, c := range p.Snapshot() {
		if c.State != chunk.Received {
			t.Errorf("chunk %d state = %v, want received", c.Index, c.State)
		}
	}
	if c := p.Snapshot()[2]; c.Transcript != "the mat and purred" {
		t.Errorf("chunk 2 transcript = %q, want trimmed text", c.Transcript)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 1 || published[0] != want {
		t.Errorf("published %q, want one merge of the full burst", published)
	}
}

func TestSendFailureLeavesChunkCreated(t *testing.T) {
	tr := newFakeTransport()
	tr.fail[1] = errors.New("boom")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := start(t, tr, Options{Metrics: m})

	if _, err := p.LoadSource(seconds(3), 100); err != nil {
		t.Fatalf("LoadSource() error = %v", err)
	}
	waitAttempts(t, tr, 3)
	waitStates(t, p, chunk.Sent, chunk.Created, chunk.Sent)
	if got := testutil.ToFloat64(m.SendFailures); got != 1 {
		t.Errorf("send failures = %v, want 1", got)
	}

	// Nothing is retried automatically.
	p.PlaybackPosition(10)
	barrier(t, p)
	select {
	case idx := <-tr.attempts:
		t.Errorf("chunk %d was re-sent", idx)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotConnectedFailsFast(t *testing.T) {
	tr := newFakeTransport()
	tr.setStatus(transport.StatusDisconnected)
	p := start(t, tr, Options{})

	if _, err := p.LoadSource(seconds(2), 100); err != nil {
		t.Fatalf("LoadSource() error = %v", err)
	}
	waitAttempts(t, tr, 2)
	barrier(t, p)

	for _, c := range p.Snapshot() {
		if c.State != chunk.Created {
			t.Errorf("chunk %d state = %v, want created", c.Index, c.State)
		}
	}
	if len(tr.sentIndices()) != 0 {
		t.Errorf("sent %v while disconnected", tr.sentIndices())
	}
}

func TestPlaybackGatedSending(t *testing.T) {
	tr := newFakeTransport()
	p := start(t, tr, Options{Mode: trigger.ModePlayback})

	if _, err := p.LoadSource(seconds(4), 100); err != nil {
		t.Fatalf("LoadSource() error = %v", err)
	}
	barrier(t, p)
	if len(tr.attempts) != 0 {
		t.Fatal("chunks sent before playback started")
	}

	p.PlaybackPosition(0)
	if got := waitAttempts(t, tr, 1); !slices.Equal(got, []int{0}) {
		t.Errorf("after 0s sent %v, want [0]", got)
	}

	p.PlaybackPosition(2.5)
	if got := waitAttempts(t, tr, 2); !slices.Equal(got, []int{1, 2}) {
		t.Errorf("after 2.5s sent %v, want [1 2]", got)
	}

	p.PlaybackPosition(1)
	p.PlaybackPosition(2.9)
	barrier(t, p)
	select {
	case idx := <-tr.attempts:
		t.Errorf("chunk %d sent without playback reaching it", idx)
	case <-time.After(50 * time.Millisecond):
	}

	p.PlaybackPosition(3)
	if got := waitAttempts(t, tr, 1); !slices.Equal(got, []int{3}) {
		t.Errorf("after 3s sent %v, want [3]", got)
	}
	if p.Mode() != trigger.ModePlayback {
		t.Errorf("Mode() = %q, want playback", p.Mode())
	}
}

func TestSessionSwapCancelsPendingMerge(t *testing.T) {
	tr := newFakeTransport()
	p := start(t, tr, Options{Debounce: 150 * time.Millisecond})

	var (
		mu        sync.Mutex
		published []string
	)
	p.OnTranscript(func(s string) {
		mu.Lock()
		published = append(published, s)
		mu.Unlock()
	})

	if _, err := p.LoadSource(seconds(1), 100); err != nil {
		t.Fatalf("LoadSource() error = %v", err)
	}
	waitAttempts(t, tr, 1)
	tr.deliver(0, "stale words from the old source")
	barrier(t, p)

	second, err := p.LoadSource(seconds(2), 100)
	if err != nil {
		t.Fatalf("LoadSource() error = %v", err)
	}
	waitAttempts(t, tr, 2)
	time.Sleep(300 * time.Millisecond)
	barrier(t, p)

	mu.Lock()
	for _, s := range published {
		if s == "stale words from the old source" {
			t.Error("merge for the replaced session was published")
		}
	}
	mu.Unlock()

	if got := p.Transcript(); got != "" {
		t.Errorf("Transcript() = %q, want empty for the new session", got)
	}
	if n := len(p.Snapshot()); n != second.Chunks {
		t.Errorf("Snapshot() has %d chunks, want %d", n, second.Chunks)
	}
	for _, c := range p.Snapshot() {
		if c.State == chunk.Received {
			t.Errorf("chunk %d of the new session is already received", c.Index)
		}
	}
}

func TestUnknownResultIsDropped(t *testing.T) {
	tr := newFakeTransport()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := start(t, tr, Options{Metrics: m})

	if _, err := p.LoadSource(seconds(2), 100); err != nil {
		t.Fatalf("LoadSource() error = %v", err)
	}
	waitAttempts(t, tr, 2)
	waitStates(t, p, chunk.Sent, chunk.Sent)
	before := p.Snapshot()

	tr.deliver(7, "ghost")
	barrier(t, p)

	after := p.Snapshot()
	for i := range before {
		if before[i].State != after[i].State || before[i].Transcript != after[i].Transcript {
			t.Errorf("chunk %d changed after result for unknown index", i)
		}
	}
	if got := testutil.ToFloat64(m.ResultsDropped.WithLabelValues("unknown_chunk")); got != 1 {
		t.Errorf("dropped results = %v, want 1", got)
	}
}

func TestShortSourceCompletesImmediately(t *testing.T) {
	tr := newFakeTransport()
	p := start(t, tr, Options{})

	s, err := p.LoadSource(seconds(0.5), 100)
	if err != nil {
		t.Fatalf("LoadSource() error = %v", err)
	}
	if s.Chunks != 0 {
		t.Fatalf("Chunks = %d, want 0", s.Chunks)
	}
	waitDone(t, s)
	if p.Transcript() != "" {
		t.Errorf("Transcript() = %q, want empty", p.Transcript())
	}
}

func TestLoadSourceRejectsBadRate(t *testing.T) {
	tr := newFakeTransport()
	p := start(t, tr, Options{})
	if _, err := p.LoadSource(seconds(2), 0); !errors.Is(err, chunk.ErrInvalidWindow) {
		t.Errorf("LoadSource(rate 0) error = %v, want ErrInvalidWindow", err)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	tr := newFakeTransport()
	if _, err := New(tr, Options{ChunkDuration: 2, StepDuration: 3}); !errors.Is(err, chunk.ErrInvalidWindow) {
		t.Errorf("New(step > chunk) error = %v, want ErrInvalidWindow", err)
	}
	if _, err := New(tr, Options{Mode: "never"}); err == nil {
		t.Error("New with unknown mode should fail")
	}
}

func TestStatusIsForwarded(t *testing.T) {
	tr := newFakeTransport()
	p := start(t, tr, Options{})

	got := make(chan transport.Status, 1)
	p.OnStatus(func(s transport.Status, _ error) { got <- s })
	tr.onStatus(transport.StatusDisconnected, errors.New("peer went away"))

	select {
	case s := <-got:
		if s != transport.StatusDisconnected {
			t.Errorf("status = %v, want disconnected", s)
		}
	case <-time.After(waitTimeout):
		t.Fatal("status change not forwarded")
	}
}

func TestLoadSourceAfterClose(t *testing.T) {
	tr := newFakeTransport()
	p, err := New(tr, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p.Close()
	if _, err := p.LoadSource(seconds(3), 100); !errors.Is(err, ErrClosed) {
		t.Errorf("LoadSource() after Close error = %v, want ErrClosed", err)
	}
}

func TestFlushPublishesPendingMerge(t *testing.T) {
	tr := newFakeTransport()
	p := start(t, tr, Options{Debounce: time.Minute})

	if _, err := p.LoadSource(seconds(2), 100); err != nil {
		t.Fatalf("LoadSource() error = %v", err)
	}
	waitAttempts(t, tr, 2)
	tr.deliver(0, "the quick brown")
	tr.deliver(1, "brown fox jumps")
	barrier(t, p)

	if got := p.Transcript(); got != "" {
		t.Fatalf("Transcript() before flush = %q, want empty", got)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got, want := p.Transcript(), "the quick brown brown fox jumps"; got != want {
		t.Errorf("Transcript() after flush = %q, want %q", got, want)
	}
}

func TestFlushAfterClose(t *testing.T) {
	p, err := New(newFakeTransport(), Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p.Close()
	if err := p.Flush(); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush() after Close error = %v, want ErrClosed", err)
	}
}
