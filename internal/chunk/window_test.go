package chunk

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func ramp(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i)
	}
	return s
}

func TestWindowProperties(t *testing.T) {
	tests := []struct {
		name       string
		samples    int
		rate       int
		chunkSec   float64
		stepSec    float64
		wantChunks int
	}{
		{"defaults over 10s", 160000, 16000, 3, 2.5, 4},
		{"no overlap", 48000, 8000, 2, 2, 3},
		{"half overlap keeps a minimum-length tail", 500, 100, 2, 1, 5},
		{"fractional step", 4300, 1000, 1.5, 0.7, 5},
		{"shorter than a chunk", 32000, 16000, 3, 2.5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Window(ramp(tt.samples), tt.rate, tt.chunkSec, tt.stepSec)
			if err != nil {
				t.Fatalf("Window() error = %v", err)
			}
			if len(chunks) != tt.wantChunks {
				t.Fatalf("Window() returned %d chunks, want %d", len(chunks), tt.wantChunks)
			}
			checkWindow(t, tt.samples, tt.rate, tt.chunkSec, tt.stepSec, chunks)
		})
	}
}

func TestWindowRandomized(t *testing.T) {
	rng := rand.New(rand.NewPCG(20240101, 7))
	for i := 0; i < 500; i++ {
		rate := 20 + rng.IntN(1981)
		chunkSec := 0.5 + 4.5*rng.Float64()
		stepSec := chunkSec * (0.1 + 0.9*rng.Float64())
		n := rng.IntN(10*rate + 1)

		chunks, err := Window(ramp(n), rate, chunkSec, stepSec)
		if err != nil {
			t.Fatalf("Window(%d samples, %d Hz, %v, %v) error = %v", n, rate, chunkSec, stepSec, err)
		}
		if want := expectedChunks(n, rate, chunkSec, stepSec); len(chunks) != want {
			t.Fatalf("Window(%d samples, %d Hz, %v, %v) returned %d chunks, want %d",
				n, rate, chunkSec, stepSec, len(chunks), want)
		}
		checkWindow(t, n, rate, chunkSec, stepSec, chunks)
		if t.Failed() {
			t.Fatalf("invariants broken for %d samples, %d Hz, chunk %v, step %v", n, rate, chunkSec, stepSec)
		}
	}
}

// expectedChunks counts windows independently of Window: every step offset
// inside the input whose slice still holds at least one second.
func expectedChunks(n, rate int, chunkSec, stepSec float64) int {
	chunkSamples := int(math.Round(float64(rate) * chunkSec))
	stepSamples := int(math.Round(float64(rate) * stepSec))
	count := 0
	for offset := 0; offset < n; offset += stepSamples {
		if min(chunkSamples, n-offset) < rate*MinChunkSeconds {
			break
		}
		count++
	}
	return count
}

// checkWindow asserts the windowing invariants over chunks cut from
// ramp(n): contiguous indices, offsets at index*step, lengths between the
// minimum and a full window, and identical samples where neighbours overlap.
func checkWindow(t *testing.T, n, rate int, chunkSec, stepSec float64, chunks []Chunk) {
	t.Helper()
	chunkSamples := int(math.Round(float64(rate) * chunkSec))
	stepSamples := int(math.Round(float64(rate) * stepSec))

	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunks[%d].Index = %d", i, c.Index)
		}
		if c.State != Created {
			t.Errorf("chunks[%d].State = %v, want created", i, c.State)
		}
		if c.SampleRate != rate {
			t.Errorf("chunks[%d].SampleRate = %d, want %d", i, c.SampleRate, rate)
		}
		if want := float64(i) * stepSec; math.Abs(c.SourceOffset-want) > 1e-9 {
			t.Errorf("chunks[%d].SourceOffset = %v, want %v", i, c.SourceOffset, want)
		}
		if len(c.Samples) < rate*MinChunkSeconds {
			t.Errorf("chunks[%d] has %d samples, below the minimum", i, len(c.Samples))
			continue
		}
		if len(c.Samples) > chunkSamples {
			t.Errorf("chunks[%d] has %d samples, more than a full window", i, len(c.Samples))
		}
		if want := min(chunkSamples, n-i*stepSamples); len(c.Samples) != want {
			t.Errorf("chunks[%d] has %d samples, want %d", i, len(c.Samples), want)
		}
		if c.Samples[0] != float32(i*stepSamples) {
			t.Errorf("chunks[%d] starts at sample %v, want %d", i, c.Samples[0], i*stepSamples)
		}

		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		overlap := len(prev.Samples) - stepSamples
		for k := 0; k < overlap && k < len(c.Samples); k++ {
			if prev.Samples[stepSamples+k] != c.Samples[k] {
				t.Errorf("chunks %d/%d disagree at overlap sample %d", i-1, i, k)
				break
			}
		}
	}
}

func TestWindowDropsShortTail(t *testing.T) {
	// 3.5s at 10 Hz, 3s windows every 2s: the second window holds 1.5s.
	chunks, err := Window(ramp(35), 10, 3, 2)
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Window() returned %d chunks, want 2", len(chunks))
	}
	if got := len(chunks[1].Samples); got != 15 {
		t.Errorf("tail chunk has %d samples, want 15", got)
	}

	// 2.8s: the second window would start at 2s and hold 0.8s.
	chunks, err = Window(ramp(28), 10, 3, 2)
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("Window() returned %d chunks, want 1", len(chunks))
	}
}

func TestWindowEmptyAndShortInput(t *testing.T) {
	for _, n := range []int{0, 1, 15999} {
		chunks, err := Window(ramp(n), 16000, 3, 2.5)
		if err != nil {
			t.Fatalf("Window(%d samples) error = %v", n, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Window(%d samples) returned %d chunks, want 0", n, len(chunks))
		}
	}
}

func TestWindowCopiesSamples(t *testing.T) {
	samples := ramp(20)
	chunks, err := Window(samples, 10, 2, 1)
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	samples[0] = -1
	if chunks[0].Samples[0] != 0 {
		t.Error("chunk payload aliases the input slice")
	}
}

func TestWindowInvalidParameters(t *testing.T) {
	tests := []struct {
		name     string
		rate     int
		chunkSec float64
		stepSec  float64
	}{
		{"zero rate", 0, 3, 2.5},
		{"negative rate", -16000, 3, 2.5},
		{"zero step", 16000, 3, 0},
		{"negative step", 16000, 3, -1},
		{"step longer than chunk", 16000, 2, 3},
		{"step below one sample", 10, 3, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Window(ramp(100), tt.rate, tt.chunkSec, tt.stepSec)
			if !errors.Is(err, ErrInvalidWindow) {
				t.Errorf("Window() error = %v, want ErrInvalidWindow", err)
			}
		})
	}
}

func TestChunkDuration(t *testing.T) {
	c := Chunk{Samples: make([]float32, 24000), SampleRate: 16000}
	if got := c.Duration(); got != 1.5 {
		t.Errorf("Duration() = %v, want 1.5", got)
	}
	if got := (Chunk{}).Duration(); got != 0 {
		t.Errorf("zero Chunk Duration() = %v, want 0", got)
	}
}
