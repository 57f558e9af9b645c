package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// Player plays a mono source on the default output device and exposes the
// playback position, which drives playback-gated sending.
type Player struct {
	src Source
	log *slog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	frame    atomic.Int64
	done     chan struct{}
	doneOnce sync.Once
}

// NewPlayer prepares src for playback. No device is opened until Start.
func NewPlayer(src Source, log *slog.Logger) (*Player, error) {
	if src.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", src.SampleRate)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Player{src: src, log: log, done: make(chan struct{})}, nil
}

// Start opens the output device and begins playback.
func (p *Player) Start() error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio: initializing context: %w", err)
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceCfg.Playback.Format = malgo.FormatF32
	deviceCfg.Playback.Channels = 1
	deviceCfg.SampleRate = uint32(p.src.SampleRate)

	device, err := malgo.InitDevice(ctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			p.fill(pOutput, frameCount)
		},
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("audio: initializing playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("audio: starting playback device: %w", err)
	}

	p.ctx = ctx
	p.device = device
	p.log.Info("playback started", "seconds", p.src.Duration())
	return nil
}

// Position returns the playback time in seconds.
func (p *Player) Position() float64 {
	return float64(p.frame.Load()) / float64(p.src.SampleRate)
}

// Done is closed once every sample has been handed to the device.
func (p *Player) Done() <-chan struct{} {
	return p.done
}

// Close stops playback and releases the device.
func (p *Player) Close() error {
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		if err := p.ctx.Uninit(); err != nil {
			return fmt.Errorf("audio: uninitializing context: %w", err)
		}
		p.ctx.Free()
		p.ctx = nil
	}
	p.finish()
	return nil
}

// fill writes up to frames f32le samples into out and pads the rest with
// silence once the source is exhausted.
func (p *Player) fill(out []byte, frames uint32) {
	start := p.frame.Load()
	n := min(int64(frames), int64(len(p.src.Samples))-start, int64(len(out)/4))
	n = max(n, 0)

	for i := int64(0); i < n; i++ {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(p.src.Samples[start+i]))
	}
	clear(out[n*4:])

	end := p.frame.Add(n)
	if end >= int64(len(p.src.Samples)) {
		p.finish()
	}
}

func (p *Player) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}
