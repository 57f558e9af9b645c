package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chaz8081/gostt-stream/internal/audio"
	"github.com/chaz8081/gostt-stream/internal/codec"
	"github.com/chaz8081/gostt-stream/internal/pipeline"
	"github.com/chaz8081/gostt-stream/internal/reconcile"
	"github.com/chaz8081/gostt-stream/internal/report"
	"github.com/chaz8081/gostt-stream/internal/transport"
	"github.com/chaz8081/gostt-stream/internal/trigger"
)

// streamer is one connected client driving one pipeline.
type streamer struct {
	client *transport.Client
	pipe   *pipeline.Pipeline
	render *report.Renderer
	out    io.Writer
	errCh  chan error
}

// syncWriter serializes writes from the pipeline loop and the command.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// startStreamer connects to the configured server and starts a pipeline
// in the given trigger mode. Call close when done.
func startStreamer(ctx context.Context, w io.Writer, mode trigger.Mode) (*streamer, error) {
	out := &syncWriter{w: w}
	client := transport.New(transport.Config{
		URL:              cfg.Server.URL,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
	}, logger)
	client.OnMalformed(func(error) { appMetrics.ResultDropped("malformed") })

	pipe, err := pipeline.New(client, pipeline.Options{
		ChunkDuration: cfg.Audio.ChunkDuration,
		StepDuration:  cfg.Audio.StepDuration,
		Debounce:      cfg.Reconcile.Debounce,
		Mode:          mode,
		Normalize:     cfg.Audio.Normalize,
		Logger:        logger,
		Metrics:       appMetrics,
	})
	if err != nil {
		return nil, err
	}

	s := &streamer{
		client: client,
		pipe:   pipe,
		render: report.New(report.NewStyles(report.DefaultTheme)),
		out:    out,
		errCh:  make(chan error, 1),
	}
	pipe.OnStatus(func(st transport.Status, _ error) {
		fmt.Fprintln(out, s.render.Status(st))
	})

	if err := client.Connect(ctx); err != nil {
		pipe.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Server.URL, err)
	}
	// The loop outlives ctx so a cancelled command can still flush and
	// print what arrived; close stops it.
	go func() { s.errCh <- pipe.Run(context.WithoutCancel(ctx)) }()
	return s, nil
}

// sessionMode returns the configured trigger mode. Playback mode needs a
// playback clock, which only the play command has.
func sessionMode(hasClock bool) (trigger.Mode, error) {
	mode := cfg.Trigger.Mode
	if mode == "" {
		mode = trigger.ModeImmediate
	}
	if mode == trigger.ModePlayback && !hasClock {
		return "", fmt.Errorf("trigger.mode %q needs a playback clock: use the play command or set trigger.mode to %q",
			mode, trigger.ModeImmediate)
	}
	return mode, nil
}

func (s *streamer) close() {
	if err := s.client.Close(); err != nil {
		logger.Debug("closing connection", "error", err)
	}
	s.pipe.Close()
	<-s.errCh
}

// wait blocks until the session completes, ctx ends or timeout elapses.
func (s *streamer) wait(ctx context.Context, sess *pipeline.Session, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sess.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c := s.pipe.Counts()
		return fmt.Errorf("timed out after %s waiting for %d of %d chunks", timeout, c.Total()-c.Received, c.Total())
	}
}

// summarize prints the chunk table, the transcript and, when reference is
// set, the word error rate against it.
func (s *streamer) summarize(reference string) {
	// Results from the last quiet period may still be waiting on the
	// debounce timer.
	if err := s.pipe.Flush(); err != nil {
		logger.Debug("flushing transcript", "error", err)
	}

	snap := s.pipe.Snapshot()
	fmt.Fprintln(s.out, s.render.Chunks(snap))

	fmt.Fprintln(s.out, s.render.Summary(s.pipe.Counts()))
	fmt.Fprintln(s.out)

	text := s.pipe.Transcript()
	fmt.Fprintln(s.out, s.render.Transcript(text))
	if reference != "" {
		fmt.Fprintf(s.out, "\n%s\n", reconcile.WordErrorRate(reference, text))
	}
}

// dumpChunks writes each chunk of the current session as a WAV file.
func (s *streamer) dumpChunks(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	for _, c := range s.pipe.Snapshot() {
		data, err := codec.EncodeWAV(c.Samples, c.SampleRate)
		if err != nil {
			return fmt.Errorf("encoding chunk %d: %w", c.Index, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("chunk_%03d.wav", c.Index))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	logger.Info("chunks written", "dir", dir)
	return nil
}

// transcribeSource sends every chunk of src at once and prints the result.
func transcribeSource(ctx context.Context, out io.Writer, src audio.Source, opts transcribeOptions) error {
	mode, err := sessionMode(false)
	if err != nil {
		return err
	}
	printBanner(out, string(mode))

	s, err := startStreamer(ctx, out, mode)
	if err != nil {
		return err
	}
	defer s.close()

	sess, err := s.pipe.LoadSource(src.Samples, src.SampleRate)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Sending %d chunks from %.1fs of audio (session %s)\n", sess.Chunks, src.Duration(), sess.ID)

	waitErr := s.wait(ctx, sess, opts.timeout)
	s.summarize(opts.reference)

	if opts.dumpDir != "" {
		if err := s.dumpChunks(opts.dumpDir); err != nil {
			return err
		}
	}
	return waitErr
}

type transcribeOptions struct {
	reference string
	dumpDir   string
	timeout   time.Duration
}
