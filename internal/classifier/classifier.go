// Package classifier implements the hub's threat classification tiers:
// an on-device ONNX model for zero-cost first-pass labeling, and two
// vendor-hosted cloud tiers of increasing accuracy and cost. The
// Dispatcher selects among them by configured AI mode and applies the
// threat-level mapping table.
package classifier

import (
	"context"
	"fmt"

	fgerrors "github.com/foresthq/guardian/internal/errors"
)

// Label is the classifier's output category for a spectrogram image.
type Label string

const (
	LabelChainsaw Label = "chainsaw"
	LabelVehicle  Label = "vehicle"
	LabelNatural  Label = "natural"
	LabelUnknown  Label = "unknown"
)

// ThreatLevel is the severity assigned to a classification result.
type ThreatLevel string

const (
	ThreatCritical ThreatLevel = "CRITICAL"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatLow      ThreatLevel = "LOW"
	ThreatNone     ThreatLevel = "NONE"
)

// Tier identifies which classifier produced a result, for logging and
// for the sync queue's re-classification bookkeeping.
type Tier string

const (
	TierLocal     Tier = "local"
	TierFastCloud Tier = "fast_cloud"
	TierDeepCloud Tier = "deep_cloud"
)

// Result is one classifier invocation's output.
type Result struct {
	Label       Label
	Confidence  int // 0-100
	ThreatLevel ThreatLevel
	Reasoning   string
	Features    []string
	Tier        Tier
}

// Classifier is the capability every tier implements.
type Classifier interface {
	Classify(ctx context.Context, imageBytes []byte) (Result, error)
	Tier() Tier
}

// unknownConfidenceEscalationThreshold is the Auto-mode rule: FastCloud
// results below this confidence (or labeled unknown) escalate to
// DeepCloud.
const unknownConfidenceEscalationThreshold = 60

// ThreatLevelFor applies the threat-level mapping table.
func ThreatLevelFor(label Label, confidence int) ThreatLevel {
	switch label {
	case LabelChainsaw:
		if confidence >= 85 {
			return ThreatCritical
		}
		if confidence >= 60 {
			return ThreatHigh
		}
		return ThreatLow
	case LabelVehicle:
		if confidence >= 70 {
			return ThreatMedium
		}
		return ThreatLow
	case LabelNatural:
		return ThreatNone
	default:
		return ThreatLow
	}
}

// RateLimitedError is returned by DeepCloud when the sliding-window
// quota is exhausted; the Dispatcher treats it as a fallthrough signal
// rather than a hard failure.
type RateLimitedError struct {
	RetryAfterHint string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("deep cloud classifier rate limited, retry after %s", e.RetryAfterHint)
}

func wrapErr(tier Tier, err error) error {
	return fgerrors.New(err).Category(fgerrors.CategoryClassifier).
		Component("classifier").
		Context("tier", string(tier)).
		Build()
}
