// Package spectrogram computes the 32x32 log-mel spectrogram grid that a
// node transmits once the anomaly gate fires. The pipeline (Hann window,
// FFT, triangular mel filterbank, log-energy, min/max normalize, vertical
// flip) is adapted from a speech-synthesis mel front-end down to this
// system's much smaller 32-bin/32-frame profile.
package spectrogram

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	fgerrors "github.com/foresthq/guardian/internal/errors"
)

// W and H are the fixed output grid dimensions.
const (
	W = 32
	H = 32
)

// minFrames is the smallest number of frames the engine will produce a
// grid from; below this the input is rejected as InsufficientAudio.
const minFrames = 5

// Params configures the mel spectrogram pipeline.
type Params struct {
	SampleRate int
	FFTSize    int
	Hop        int
	MelBins    int
	Frames     int
	FMin       float64
	FMax       float64
}

// DefaultParams returns the parameters specified for this system: 128-point
// FFT, hop 64, 32 mel bins spanning 100Hz-8000Hz, 32 output frames.
func DefaultParams() Params {
	return Params{
		SampleRate: 16000,
		FFTSize:    128,
		Hop:        64,
		MelBins:    H,
		Frames:     W,
		FMin:       100,
		FMax:       8000,
	}
}

// Engine computes Mel Spectrogram grids from PCM windows under a fixed
// set of Params. An Engine is safe for concurrent use once constructed;
// its filterbank and window are precomputed and read-only thereafter.
type Engine struct {
	params   Params
	melBasis [][]float64 // [MelBins][FFTSize/2+1]
	window   []float64   // [FFTSize]
}

// NewEngine precomputes the mel filterbank and analysis window for p.
func NewEngine(p Params) *Engine {
	e := &Engine{params: p}
	e.window = hannWindow(p.FFTSize)
	e.melBasis = buildMelBasis(p)
	return e
}

// Generate produces a W×H log-mel grid from a PCM window of signed 16-bit
// samples. Returns InsufficientAudio if fewer than minFrames frames can be
// produced from pcm.
func (e *Engine) Generate(pcm []int16) ([]byte, error) {
	fftHalf := e.params.FFTSize/2 + 1

	numFrames := (len(pcm)-e.params.FFTSize)/e.params.Hop + 1
	if numFrames > e.params.Frames {
		numFrames = e.params.Frames
	}
	if numFrames < minFrames {
		return nil, fgerrors.New(fgerrors.NewStd("insufficient audio for a spectrogram frame")).
			Category(fgerrors.CategorySpectrogram).
			Context("samples", len(pcm)).
			Build()
	}

	cells := make([][]float64, e.params.MelBins)
	for m := range cells {
		cells[m] = make([]float64, e.params.Frames)
	}

	frameBuf := make([]float64, e.params.FFTSize)
	for frame := 0; frame < numFrames; frame++ {
		start := frame * e.params.Hop
		for i := 0; i < e.params.FFTSize; i++ {
			frameBuf[i] = float64(pcm[start+i]) * e.window[i]
		}

		spectrum := fft.FFTReal(frameBuf)
		magnitude := make([]float64, fftHalf)
		for k := 0; k < fftHalf; k++ {
			magnitude[k] = cmplx.Abs(spectrum[k])
		}

		for m := 0; m < e.params.MelBins; m++ {
			var energy float64
			for k := 0; k < fftHalf; k++ {
				energy += magnitude[k] * e.melBasis[m][k]
			}
			cells[m][frame] = math.Log(energy + 1e-10)
		}
	}

	min, max := cells[0][0], cells[0][0]
	for m := 0; m < e.params.MelBins; m++ {
		for f := 0; f < numFrames; f++ {
			v := cells[m][f]
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}

	for m := 0; m < e.params.MelBins; m++ {
		for f := numFrames; f < e.params.Frames; f++ {
			cells[m][f] = min
		}
	}

	grid := make([]byte, W*H)
	span := max - min
	for col := 0; col < e.params.Frames; col++ {
		for mel := 0; mel < e.params.MelBins; mel++ {
			var normalized float64
			if span > 0 {
				normalized = 255 * (cells[mel][col] - min) / span
			}
			row := e.params.MelBins - 1 - mel // vertical flip: highest mel bin -> row 0
			grid[row*W+col] = byte(math.Round(normalized))
		}
	}
	return grid, nil
}

func hannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}

// buildMelBasis builds the triangular mel filterbank matrix, one row per
// mel bin, one column per FFT bin in the lower half (inclusive of Nyquist).
func buildMelBasis(p Params) [][]float64 {
	nFreqs := p.FFTSize/2 + 1

	fftFreqs := make([]float64, nFreqs)
	for i := 0; i < nFreqs; i++ {
		fftFreqs[i] = float64(i) * float64(p.SampleRate) / float64(p.FFTSize)
	}

	melMin := freqToMel(p.FMin)
	melMax := freqToMel(p.FMax)

	melPoints := make([]float64, p.MelBins+2)
	for i := range melPoints {
		melPoints[i] = melMin + (melMax-melMin)*float64(i)/float64(p.MelBins+1)
	}
	freqPoints := make([]float64, len(melPoints))
	for i, mel := range melPoints {
		freqPoints[i] = melToFreq(mel)
	}

	basis := make([][]float64, p.MelBins)
	for i := range basis {
		basis[i] = make([]float64, nFreqs)
	}

	for m := 0; m < p.MelBins; m++ {
		left := freqPoints[m]
		center := freqPoints[m+1]
		right := freqPoints[m+2]

		for k := 0; k < nFreqs; k++ {
			freq := fftFreqs[k]
			switch {
			case freq >= left && freq <= center && center > left:
				basis[m][k] = (freq - left) / (center - left)
			case freq >= center && freq <= right && right > center:
				basis[m][k] = (right - freq) / (right - center)
			}
		}
	}
	return basis
}

func freqToMel(freq float64) float64 {
	return 2595.0 * math.Log10(1.0+freq/700.0)
}

func melToFreq(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}
