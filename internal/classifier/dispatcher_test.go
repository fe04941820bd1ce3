package classifier

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	tier    Tier
	result  Result
	err     error
	calls   int
}

func (f *fakeClassifier) Tier() Tier { return f.tier }
func (f *fakeClassifier) Classify(ctx context.Context, imageBytes []byte) (Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeSink struct {
	classified []Result
	synced     []SyncCompleted
}

func (f *fakeSink) OnClassified(identifier string, result Result) { f.classified = append(f.classified, result) }
func (f *fakeSink) OnSyncCompleted(s SyncCompleted)                { f.synced = append(f.synced, s) }

func testGrid() []byte {
	return make([]byte, gridWidth*gridHeight)
}

func TestThreatLevelMappingTable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		label      Label
		confidence int
		want       ThreatLevel
	}{
		{LabelChainsaw, 90, ThreatCritical},
		{LabelChainsaw, 70, ThreatHigh},
		{LabelChainsaw, 30, ThreatLow},
		{LabelVehicle, 80, ThreatMedium},
		{LabelVehicle, 20, ThreatLow},
		{LabelNatural, 99, ThreatNone},
		{LabelUnknown, 10, ThreatLow},
	}
	for _, c := range cases {
		got := ThreatLevelFor(c.label, c.confidence)
		assert.Equalf(t, c.want, got, "label=%s confidence=%d", c.label, c.confidence)
	}
}

// TestAutoModeSkipsDeepCloudWhenFastIsConfident covers spec.md §8
// invariant 4: Auto mode must not invoke the deep tier when the fast
// tier already returned a confident, known label.
func TestAutoModeSkipsDeepCloudWhenFastIsConfident(t *testing.T) {
	t.Parallel()
	fast := &fakeClassifier{tier: TierFastCloud, result: Result{Label: LabelChainsaw, Confidence: 92, Tier: TierFastCloud}}
	deep := &fakeClassifier{tier: TierDeepCloud, result: Result{Label: LabelChainsaw, Confidence: 95, Tier: TierDeepCloud}}
	sink := &fakeSink{}
	d := NewDispatcher(DispatcherConfig{FastCloud: fast, DeepCloud: deep, Mode: ModeAuto, Sink: sink})

	result, err := d.Classify(context.Background(), "spec-1", testGrid())
	require.NoError(t, err)
	assert.Equal(t, TierFastCloud, result.Tier)
	assert.Equal(t, 0, deep.calls, "deep cloud must not be invoked when fast cloud is confident")
	assert.Equal(t, 1, fast.calls)
}

func TestAutoModeEscalatesToDeepCloudOnLowConfidence(t *testing.T) {
	t.Parallel()
	fast := &fakeClassifier{tier: TierFastCloud, result: Result{Label: LabelUnknown, Confidence: 20, Tier: TierFastCloud, Reasoning: "noisy"}}
	deep := &fakeClassifier{tier: TierDeepCloud, result: Result{Label: LabelChainsaw, Confidence: 88, Tier: TierDeepCloud, Reasoning: "engine harmonic match"}}
	d := NewDispatcher(DispatcherConfig{FastCloud: fast, DeepCloud: deep, Mode: ModeAuto})

	result, err := d.Classify(context.Background(), "spec-2", testGrid())
	require.NoError(t, err)
	assert.Equal(t, TierDeepCloud, result.Tier)
	assert.Equal(t, 1, deep.calls)
	assert.Contains(t, result.Reasoning, "noisy")
	assert.Contains(t, result.Reasoning, "engine harmonic match")
}

// TestAutoModeFallsBackToFastResultWhenDeepRateLimited covers Scenario
// 4 (rate-limit fall-through): a rate-limited deep tier must not fail
// the overall classification when a fast tier result exists.
func TestAutoModeFallsBackToFastResultWhenDeepRateLimited(t *testing.T) {
	t.Parallel()
	fast := &fakeClassifier{tier: TierFastCloud, result: Result{Label: LabelVehicle, Confidence: 40, Tier: TierFastCloud}}
	deep := &fakeClassifier{tier: TierDeepCloud, err: &RateLimitedError{RetryAfterHint: "5m"}}
	d := NewDispatcher(DispatcherConfig{FastCloud: fast, DeepCloud: deep, Mode: ModeAuto})

	result, err := d.Classify(context.Background(), "spec-3", testGrid())
	require.NoError(t, err)
	assert.Equal(t, TierFastCloud, result.Tier)
}

func TestDeepModeFallsThroughFastThenLocalOnRateLimit(t *testing.T) {
	t.Parallel()
	deep := &fakeClassifier{tier: TierDeepCloud, err: &RateLimitedError{RetryAfterHint: "1m"}}
	fast := &fakeClassifier{tier: TierFastCloud, err: errors.New("fast cloud unreachable")}
	local := &fakeClassifier{tier: TierLocal, result: Result{Label: LabelNatural, Confidence: 55, Tier: TierLocal}}

	d := NewDispatcher(DispatcherConfig{DeepCloud: deep, FastCloud: fast, Local: local, Mode: ModeDeep})
	result, err := d.Classify(context.Background(), "spec-4", testGrid())
	require.NoError(t, err)
	assert.Equal(t, TierLocal, result.Tier)
	assert.Equal(t, 1, deep.calls)
	assert.Equal(t, 1, fast.calls)
}

// TestDeepCloudEnforcesSlidingWindowRateLimit covers spec.md §8
// invariant 5: no more than RateLimit requests succeed within
// RateWindow; excess requests fail with *RateLimitedError.
func TestDeepCloudEnforcesSlidingWindowRateLimit(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "https://classify.example.invalid/deep",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"label": "chainsaw", "confidence": 91,
		}))

	dc := NewDeepCloud(DeepCloudConfig{
		Endpoint:   "https://classify.example.invalid/deep",
		APIKey:     "test-key",
		RateLimit:  2,
		RateWindow: 24 * time.Hour, // refills far too slowly to matter during the test
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := dc.Classify(ctx, testGrid())
		require.NoError(t, err)
	}

	_, err := dc.Classify(ctx, testGrid())
	require.Error(t, err)
	var rateLimited *RateLimitedError
	require.ErrorAs(t, err, &rateLimited)
}

func TestFastCloudMemoizesIdenticalImage(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	calls := 0
	httpmock.RegisterResponder("POST", "https://classify.example.invalid/fast",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewJsonResponse(200, map[string]any{"label": "natural", "confidence": 80})
		})

	fc := NewFastCloud(FastCloudConfig{Endpoint: "https://classify.example.invalid/fast", APIKey: "k"})
	grid := testGrid()

	r1, err := fc.Classify(context.Background(), grid)
	require.NoError(t, err)
	r2, err := fc.Classify(context.Background(), grid)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, calls, "second identical request should be served from cache")
}

// TestOfflineSyncDrainsInFIFOOrder covers Scenario 5 (offline-then-online):
// items queued while every tier was unreachable must be reclassified in
// the order they were originally enqueued.
func TestOfflineSyncDrainsInFIFOOrder(t *testing.T) {
	t.Parallel()
	failing := &fakeClassifier{tier: TierFastCloud, err: errors.New("hub offline")}
	d := NewDispatcher(DispatcherConfig{FastCloud: failing, Mode: ModeFast})

	var order []string
	for _, id := range []string{"a", "b", "c"} {
		_, err := d.Classify(context.Background(), id, testGrid())
		require.Error(t, err)
	}
	assert.Equal(t, 3, d.PendingSync())

	// Swap in a classifier that now succeeds, simulating reconnect.
	recovered := &fakeClassifier{tier: TierFastCloud, result: Result{Label: LabelNatural, Confidence: 50, Tier: TierFastCloud}}
	sink := &recordingSink{order: &order}
	d.fastCloud = recovered
	d.sink = sink

	completed := d.Sync(context.Background())
	assert.Equal(t, 3, completed.Synced)
	assert.Equal(t, 0, completed.Failed)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, d.PendingSync())
}

type recordingSink struct {
	order *[]string
}

func (r *recordingSink) OnClassified(identifier string, result Result) {
	*r.order = append(*r.order, identifier)
}
func (r *recordingSink) OnSyncCompleted(SyncCompleted) {}

func TestSyncReenqueuesItemsThatFailAgain(t *testing.T) {
	t.Parallel()
	failing := &fakeClassifier{tier: TierFastCloud, err: errors.New("still offline")}
	d := NewDispatcher(DispatcherConfig{FastCloud: failing, Mode: ModeFast})

	_, err := d.Classify(context.Background(), "x", testGrid())
	require.Error(t, err)
	require.Equal(t, 1, d.PendingSync())

	completed := d.Sync(context.Background())
	assert.Equal(t, 0, completed.Synced)
	assert.Equal(t, 1, completed.Failed)
	assert.Equal(t, 1, d.PendingSync(), "item that fails again stays queued")
}
