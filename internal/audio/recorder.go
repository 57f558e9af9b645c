package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/gostt-stream/internal/codec"
	"github.com/gen2brain/malgo"
)

// ErrAlreadyRecording is returned by Start while a capture is running.
var ErrAlreadyRecording = errors.New("audio: already recording")

// Recorder captures audio from the default microphone into a float32
// buffer. Multi-channel input is downmixed to mono when capture stops.
type Recorder struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate uint32
	channels   uint32
	log        *slog.Logger

	mu        sync.Mutex
	buf       []float32
	recording bool
}

// NewRecorder creates a recorder. Call Close when done.
func NewRecorder(sampleRate, channels uint32, log *slog.Logger) (*Recorder, error) {
	if sampleRate == 0 || channels == 0 {
		return nil, fmt.Errorf("audio: invalid capture format %d Hz x %d", sampleRate, channels)
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: initializing context: %w", err)
	}

	return &Recorder{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		log:        log,
	}, nil
}

// SampleRate returns the capture rate in Hz.
func (r *Recorder) SampleRate() int {
	return int(r.sampleRate)
}

// Start begins capturing from the default microphone.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.buf = r.buf[:0]
	r.recording = true
	r.mu.Unlock()

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = r.channels
	deviceCfg.SampleRate = r.sampleRate

	device, err := malgo.InitDevice(r.ctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: r.onData,
	})
	if err != nil {
		r.setRecording(false)
		return fmt.Errorf("audio: initializing capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		r.setRecording(false)
		return fmt.Errorf("audio: starting capture device: %w", err)
	}

	r.mu.Lock()
	r.device = device
	r.mu.Unlock()

	r.log.Info("capture started", "sample_rate", r.sampleRate, "channels", r.channels)
	return nil
}

// Stop ends the capture and returns the recorded mono samples. It returns
// nil when no capture is running.
func (r *Recorder) Stop() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil
	}
	if r.device != nil {
		r.device.Uninit()
		r.device = nil
	}
	r.recording = false

	interleaved := make([]float32, len(r.buf))
	copy(interleaved, r.buf)
	mono := Downmix(interleaved, int(r.channels))
	r.log.Info("capture stopped", "seconds", float64(len(mono))/float64(r.sampleRate))
	return mono
}

// Record captures for d, or until ctx is done, and returns the source.
func (r *Recorder) Record(ctx context.Context, d time.Duration) (Source, error) {
	if err := r.Start(); err != nil {
		return Source{}, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	return Source{Samples: r.Stop(), SampleRate: int(r.sampleRate)}, nil
}

// IsRecording reports whether a capture is running.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Close releases all audio resources.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.device != nil {
		r.device.Uninit()
		r.device = nil
	}
	r.recording = false
	r.mu.Unlock()

	if r.ctx != nil {
		if err := r.ctx.Uninit(); err != nil {
			return fmt.Errorf("audio: uninitializing context: %w", err)
		}
		r.ctx.Free()
		r.ctx = nil
	}
	return nil
}

func (r *Recorder) setRecording(v bool) {
	r.mu.Lock()
	r.recording = v
	r.mu.Unlock()
}

// onData is the malgo capture callback. pSample holds frameCount
// interleaved f32le frames.
func (r *Recorder) onData(_, pSample []byte, frameCount uint32) {
	n := int(frameCount*r.channels) * 4
	if n > len(pSample) {
		n = len(pSample)
	}
	samples := codec.BytesToFloat32(pSample[:n])

	r.mu.Lock()
	if r.recording {
		r.buf = append(r.buf, samples...)
	}
	r.mu.Unlock()
}
