package classifier

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/foresthq/guardian/internal/logging"
)

// Mode selects which tier(s) the Dispatcher consults.
type Mode string

const (
	ModeAuto  Mode = "auto"  // FastCloud, escalate to DeepCloud if uncertain
	ModeFast  Mode = "fast"  // FastCloud only, fall back to Local if unreachable
	ModeDeep  Mode = "deep"  // DeepCloud; if unreachable/rate-limited, fall through to FastCloud, then Local
	ModeLocal Mode = "local" // Local only, never touches the network
)

// SyncItem is one spectrogram queued for re-classification once the hub
// regains connectivity to the cloud tiers.
type SyncItem struct {
	Rank       uint64
	Identifier string // spectrogram id, opaque to the dispatcher
	ImageBytes []byte
}

// SyncCompleted is published once a drained sync pass finishes.
type SyncCompleted struct {
	Synced int
	Failed int
}

// Sink receives Dispatcher-level events. The hub wires this to the
// Event Bus.
type Sink interface {
	OnClassified(identifier string, result Result)
	OnSyncCompleted(SyncCompleted)
}

// SyncPersistence durably records the offline sync queue so it survives
// a hub restart. A nil Persistence keeps the queue in memory only,
// which is what every Dispatcher constructed without one (including
// every unit test in this package) gets.
type SyncPersistence interface {
	// Save records item as pending, or updates its bookkeeping on a
	// repeat enqueue. cause is the dispatch error that triggered it.
	Save(item SyncItem, cause error) error
	// Delete removes a successfully synced item's persisted record.
	Delete(identifier string) error
	// Load reconstructs the queue at startup, in no particular order;
	// Sync always re-sorts by Rank.
	Load() ([]SyncItem, error)
}

// Dispatcher selects among the Local/FastCloud/DeepCloud tiers per the
// configured Mode and maintains the offline sync queue used when a
// classification was attempted but every reachable tier failed.
type Dispatcher struct {
	local       Classifier
	fastCloud   Classifier
	deepCloud   Classifier
	mode        Mode
	sink        Sink
	persistence SyncPersistence
	log         *slog.Logger

	mu       sync.Mutex
	queue    []SyncItem
	nextRank uint64
}

// DispatcherConfig wires the Dispatcher's collaborators. FastCloud and
// DeepCloud may be nil (e.g. in an offline-only deployment); Local
// should always be provided since it is the terminal fallback, but its
// absence only surfaces as an error once every other tier has failed.
// Persistence is optional: nil keeps the sync queue in memory only.
type DispatcherConfig struct {
	Local       Classifier
	FastCloud   Classifier
	DeepCloud   Classifier
	Mode        Mode
	Sink        Sink
	Persistence SyncPersistence
}

// NewDispatcher constructs a Dispatcher. Mode defaults to ModeAuto. If
// cfg.Persistence is set, any sync queue entries it recorded before a
// previous process exit are reloaded immediately.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAuto
	}
	d := &Dispatcher{
		local:       cfg.Local,
		fastCloud:   cfg.FastCloud,
		deepCloud:   cfg.DeepCloud,
		mode:        mode,
		sink:        cfg.Sink,
		persistence: cfg.Persistence,
		log:         logging.ForService("classifier.dispatcher"),
	}
	if cfg.Persistence != nil {
		items, err := cfg.Persistence.Load()
		if err != nil {
			d.log.Error("failed to load persisted sync queue", "err", err)
		} else {
			d.queue = items
			for _, item := range items {
				if item.Rank > d.nextRank {
					d.nextRank = item.Rank
				}
			}
			if len(items) > 0 {
				d.log.Info("restored persisted sync queue", "count", len(items))
			}
		}
	}
	return d
}

// SetMode changes the active mode at runtime (AI_MODE is hot-reloadable
// per spec.md §6's configuration table).
func (d *Dispatcher) SetMode(mode Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
}

// Mode reports the Dispatcher's current mode.
func (d *Dispatcher) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Classify runs one spectrogram through the Dispatcher's configured
// mode. identifier is used only for the OnClassified event and the
// sync queue; it is never sent to a vendor endpoint.
func (d *Dispatcher) Classify(ctx context.Context, identifier string, imageBytes []byte) (Result, error) {
	result, err := d.dispatch(ctx, imageBytes)
	if err != nil {
		d.enqueueForSync(identifier, imageBytes, err)
		return Result{}, err
	}
	if d.sink != nil {
		d.sink.OnClassified(identifier, result)
	}
	return result, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, imageBytes []byte) (Result, error) {
	switch d.Mode() {
	case ModeLocal:
		return d.classifyLocal(ctx, imageBytes)
	case ModeFast:
		if d.fastCloud == nil {
			return d.classifyLocal(ctx, imageBytes)
		}
		if result, err := d.fastCloud.Classify(ctx, imageBytes); err == nil {
			return result, nil
		}
		d.log.Warn("fast cloud unreachable, falling back to local")
		return d.classifyLocal(ctx, imageBytes)
	case ModeDeep:
		if d.deepCloud == nil {
			return d.classifyLocal(ctx, imageBytes)
		}
		result, err := d.deepCloud.Classify(ctx, imageBytes)
		if err == nil {
			return result, nil
		}
		var rateLimited *RateLimitedError
		if errors.As(err, &rateLimited) {
			d.log.Info("deep cloud rate limited, falling through to fast cloud")
		} else {
			d.log.Warn("deep cloud unreachable, falling through to fast cloud", "err", err)
		}
		if d.fastCloud != nil {
			if result, err := d.fastCloud.Classify(ctx, imageBytes); err == nil {
				return result, nil
			}
		}
		return d.classifyLocal(ctx, imageBytes)
	default: // ModeAuto
		return d.classifyAuto(ctx, imageBytes)
	}
}

// classifyAuto implements spec.md §4.H's Auto mode: call FastCloud, and
// escalate to DeepCloud when the result is unknown or low-confidence,
// merging the two tiers' reasoning into one result.
func (d *Dispatcher) classifyAuto(ctx context.Context, imageBytes []byte) (Result, error) {
	if d.fastCloud == nil {
		return d.classifyDeepOrLocal(ctx, imageBytes)
	}
	fast, err := d.fastCloud.Classify(ctx, imageBytes)
	if err != nil {
		d.log.Warn("fast cloud unreachable in auto mode, escalating to deep cloud", "err", err)
		return d.classifyDeepOrLocal(ctx, imageBytes)
	}
	if fast.Label != LabelUnknown && fast.Confidence >= unknownConfidenceEscalationThreshold {
		return fast, nil
	}
	if d.deepCloud == nil {
		return fast, nil
	}
	deep, err := d.deepCloud.Classify(ctx, imageBytes)
	if err != nil {
		var rateLimited *RateLimitedError
		if errors.As(err, &rateLimited) {
			d.log.Info("deep cloud rate limited during auto escalation, using fast cloud result")
		} else {
			d.log.Warn("deep cloud unreachable during auto escalation, using fast cloud result", "err", err)
		}
		return fast, nil
	}
	deep.Reasoning = mergeReasoning(fast.Reasoning, deep.Reasoning)
	return deep, nil
}

func (d *Dispatcher) classifyDeepOrLocal(ctx context.Context, imageBytes []byte) (Result, error) {
	if d.deepCloud == nil {
		return d.classifyLocal(ctx, imageBytes)
	}
	result, err := d.deepCloud.Classify(ctx, imageBytes)
	if err != nil {
		return d.classifyLocal(ctx, imageBytes)
	}
	return result, nil
}

func (d *Dispatcher) classifyLocal(ctx context.Context, imageBytes []byte) (Result, error) {
	if d.local == nil {
		return Result{}, errors.New("classifier: no local model configured, all tiers unreachable")
	}
	return d.local.Classify(ctx, imageBytes)
}

func mergeReasoning(fast, deep string) string {
	if fast == "" {
		return deep
	}
	if deep == "" {
		return fast
	}
	return fast + " | " + deep
}

// enqueueForSync records a spectrogram that could not be classified by
// any reachable tier, for FIFO re-classification once Sync runs.
func (d *Dispatcher) enqueueForSync(identifier string, imageBytes []byte, cause error) {
	d.mu.Lock()
	d.nextRank++
	item := SyncItem{Rank: d.nextRank, Identifier: identifier, ImageBytes: imageBytes}
	d.queue = append(d.queue, item)
	d.mu.Unlock()

	if d.persistence != nil {
		if err := d.persistence.Save(item, cause); err != nil {
			d.log.Error("failed to persist sync queue entry", "identifier", identifier, "err", err)
		}
	}
}

// PendingSync reports the number of spectrograms awaiting sync.
func (d *Dispatcher) PendingSync() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Sync drains the offline queue in FIFO (rank) order, attempting to
// reclassify each item through the Dispatcher's normal dispatch path.
// Items that fail again are re-enqueued; Sync reports synced/failed
// counts via the Sink once the pass completes.
func (d *Dispatcher) Sync(ctx context.Context) SyncCompleted {
	d.mu.Lock()
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].Rank < pending[j].Rank })

	var synced, failed int
	for _, item := range pending {
		result, err := d.dispatch(ctx, item.ImageBytes)
		if err != nil {
			failed++
			d.mu.Lock()
			d.queue = append(d.queue, item)
			d.mu.Unlock()
			if d.persistence != nil {
				if perr := d.persistence.Save(item, err); perr != nil {
					d.log.Error("failed to persist re-enqueued sync item", "identifier", item.Identifier, "err", perr)
				}
			}
			continue
		}
		synced++
		if d.persistence != nil {
			if perr := d.persistence.Delete(item.Identifier); perr != nil {
				d.log.Error("failed to delete synced queue entry", "identifier", item.Identifier, "err", perr)
			}
		}
		if d.sink != nil {
			d.sink.OnClassified(item.Identifier, result)
		}
	}

	completed := SyncCompleted{Synced: synced, Failed: failed}
	if d.sink != nil {
		d.sink.OnSyncCompleted(completed)
	}
	return completed
}
