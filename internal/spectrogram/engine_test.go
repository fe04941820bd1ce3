package spectrogram

import (
	"math"
	"testing"

	fgerrors "github.com/foresthq/guardian/internal/errors"
)

func sineWave(freq float64, sampleRate, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(16000 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestGenerateProducesFullGrid(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultParams())
	pcm := sineWave(2000, 16000, 16000)

	grid, err := e.Generate(pcm)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(grid) != W*H {
		t.Fatalf("expected %d pixels, got %d", W*H, len(grid))
	}
}

func TestGenerateInsufficientAudioFails(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultParams())
	// fewer than minFrames frames worth of samples
	pcm := make([]int16, DefaultParams().FFTSize+DefaultParams().Hop)

	_, err := e.Generate(pcm)
	if err == nil {
		t.Fatal("expected InsufficientAudio error")
	}
	if !fgerrors.IsCategory(err, fgerrors.CategorySpectrogram) {
		t.Fatalf("expected spectrogram category error, got %v", err)
	}
}

func TestGenerateHighFrequencyEnergyTowardTopRows(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultParams())
	pcm := sineWave(7000, 16000, 17000)

	grid, err := e.Generate(pcm)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var topSum, bottomSum int
	for row := 0; row < H/4; row++ {
		for col := 0; col < W; col++ {
			topSum += int(grid[row*W+col])
		}
	}
	for row := H - H/4; row < H; row++ {
		for col := 0; col < W; col++ {
			bottomSum += int(grid[row*W+col])
		}
	}
	if topSum <= bottomSum {
		t.Fatalf("expected a 7kHz tone to concentrate energy in the top rows (high freq): top=%d bottom=%d", topSum, bottomSum)
	}
}
