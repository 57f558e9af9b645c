package audio

import (
	"testing"

	"github.com/chaz8081/gostt-stream/internal/codec"
)

func TestNewPlayerRejectsBadRate(t *testing.T) {
	if _, err := NewPlayer(Source{Samples: []float32{0}}, nil); err == nil {
		t.Error("NewPlayer with zero sample rate should fail")
	}
}

func TestPlayerFillAdvancesPosition(t *testing.T) {
	src := Source{Samples: []float32{0.1, 0.2, 0.3, 0.4, 0.5}, SampleRate: 10}
	p, err := NewPlayer(src, quietLogger())
	if err != nil {
		t.Fatalf("NewPlayer() error = %v", err)
	}

	out := make([]byte, 3*4)
	p.fill(out, 3)
	if got := codec.BytesToFloat32(out); got[0] != 0.1 || got[2] != 0.3 {
		t.Errorf("first period = %v, want [0.1 0.2 0.3]", got)
	}
	if got := p.Position(); got != 0.3 {
		t.Errorf("Position() = %v, want 0.3", got)
	}

	select {
	case <-p.Done():
		t.Fatal("Done closed before the source was exhausted")
	default:
	}

	// Second period runs past the end and is padded with silence.
	for i := range out {
		out[i] = 0xFF
	}
	p.fill(out, 3)
	got := codec.BytesToFloat32(out)
	if got[0] != 0.4 || got[1] != 0.5 || got[2] != 0 {
		t.Errorf("second period = %v, want [0.4 0.5 0]", got)
	}
	if p.Position() != 0.5 {
		t.Errorf("Position() = %v, want 0.5", p.Position())
	}

	select {
	case <-p.Done():
	default:
		t.Error("Done not closed after the source was exhausted")
	}

	// Further periods are silent and do not move the clock.
	p.fill(out, 3)
	if p.Position() != 0.5 {
		t.Errorf("Position() after end = %v, want 0.5", p.Position())
	}
}

func TestPlayerCloseWithoutStart(t *testing.T) {
	p, err := NewPlayer(Source{Samples: []float32{0}, SampleRate: 8000}, quietLogger())
	if err != nil {
		t.Fatalf("NewPlayer() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Error("Done not closed after Close")
	}
}
