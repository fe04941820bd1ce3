package classifier

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	fgerrors "github.com/foresthq/guardian/internal/errors"
)

// gridWidth/gridHeight match internal/spectrogram's fixed output shape;
// the ONNX model's input tensor is built around this exact geometry.
const (
	gridWidth  = 32
	gridHeight = 32
)

// LocalConfig points at the on-device ONNX model and runtime library.
type LocalConfig struct {
	ModelPath     string
	OnnxLibPath   string
	ConfidenceMin int // below this, Local reports LabelUnknown
}

// Local runs the hub's bundled ONNX classifier against the raw
// spectrogram grid bytes, with no network dependency. It is always
// available and is the terminal fallback tier.
type Local struct {
	cfg LocalConfig

	mu      sync.Mutex
	session *ort.AdvancedSession[float32]
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []Label
}

// NewLocal initializes the ONNX runtime environment and loads the
// classification model. Close must be called on shutdown to release
// the runtime session.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.ConfidenceMin == 0 {
		cfg.ConfidenceMin = 40
	}
	ort.SetSharedLibraryPath(cfg.OnnxLibPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, wrapErr(TierLocal, err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, gridHeight, gridWidth, 1))
	if err != nil {
		ort.DestroyEnvironment()
		return nil, wrapErr(TierLocal, err)
	}
	// 4 output logits: chainsaw, vehicle, natural, unknown.
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 4))
	if err != nil {
		input.Destroy()
		ort.DestroyEnvironment()
		return nil, wrapErr(TierLocal, err)
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		input.Destroy()
		output.Destroy()
		ort.DestroyEnvironment()
		return nil, wrapErr(TierLocal, err)
	}
	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{input}, []ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		ort.DestroyEnvironment()
		return nil, wrapErr(TierLocal, err)
	}

	return &Local{
		cfg:     cfg,
		session: session,
		input:   input,
		output:  output,
		labels:  []Label{LabelChainsaw, LabelVehicle, LabelNatural, LabelUnknown},
	}, nil
}

// Close releases the ONNX session and runtime environment.
func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		l.session.Destroy()
	}
	if l.input != nil {
		l.input.Destroy()
	}
	if l.output != nil {
		l.output.Destroy()
	}
	ort.DestroyEnvironment()
}

// Tier reports this classifier's tier.
func (l *Local) Tier() Tier { return TierLocal }

// Classify runs the spectrogram grid through the local ONNX model. ctx
// cancellation is not honored mid-inference: ONNX Runtime sessions run
// to completion synchronously.
func (l *Local) Classify(ctx context.Context, imageBytes []byte) (Result, error) {
	if len(imageBytes) != gridWidth*gridHeight {
		return Result{}, wrapErr(TierLocal, fgerrors.NewStd(fmt.Sprintf(
			"local classifier: expected %d byte grid, got %d", gridWidth*gridHeight, len(imageBytes))))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	in := l.input.GetData()
	for i, px := range imageBytes {
		in[i] = float32(px) / 255.0
	}

	if err := l.session.Run(); err != nil {
		return Result{}, wrapErr(TierLocal, err)
	}

	logits := l.output.GetData()
	bestIdx := 0
	for i := 1; i < len(logits); i++ {
		if logits[i] > logits[bestIdx] {
			bestIdx = i
		}
	}
	label := l.labels[bestIdx]
	confidence := softmaxConfidencePercent(logits, bestIdx)
	if confidence < l.cfg.ConfidenceMin {
		label = LabelUnknown
	}

	return Result{
		Label:       label,
		Confidence:  confidence,
		ThreatLevel: ThreatLevelFor(label, confidence),
		Tier:        TierLocal,
	}, nil
}

// softmaxConfidencePercent converts raw logits to a 0-100 confidence
// for the selected index via a numerically stable softmax.
func softmaxConfidencePercent(logits []float32, idx int) int {
	var max float32
	for i, v := range logits {
		if i == 0 || v > max {
			max = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - max))
	}
	if sum == 0 {
		return 0
	}
	p := math.Exp(float64(logits[idx]-max)) / sum
	return int(p * 100)
}
