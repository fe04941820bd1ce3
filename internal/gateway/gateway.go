// Package gateway wires the hub's reassembler output to persistence,
// classification, and the Event Bus: it implements reassembler.Sink and
// classifier.Sink, renders reconstructed grids to spectrograms/, hands
// completed spectrograms to a bounded classifier worker pool, and turns
// classifications crossing the threat-level table into alerts.
package gateway

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/foresthq/guardian/internal/classifier"
	fgerrors "github.com/foresthq/guardian/internal/errors"
	"github.com/foresthq/guardian/internal/eventbus"
	"github.com/foresthq/guardian/internal/logging"
	"github.com/foresthq/guardian/internal/metrics"
	"github.com/foresthq/guardian/internal/reassembler"
	"github.com/foresthq/guardian/internal/spectrogram"
	"github.com/foresthq/guardian/internal/store"
	"github.com/foresthq/guardian/internal/wire"
)

// DefaultWorkers is the classifier worker pool size, matching §5's
// "classifier worker pool" alongside the serial reassembler task.
const DefaultWorkers = 4

// classifyJob is one spectrogram queued for the worker pool.
type classifyJob struct {
	specID     uint
	identifier string
	imageBytes []byte
}

// Gateway is the hub's reassembler.Sink + classifier.Sink implementation.
type Gateway struct {
	store      *store.SQLiteStore
	bus        *eventbus.Bus
	dispatcher *classifier.Dispatcher
	metrics    *metrics.Registry
	specDir    string
	log        *slog.Logger

	jobs chan classifyJob
	wg   sync.WaitGroup
}

// Config wires a Gateway to its collaborators.
type Config struct {
	Store          *store.SQLiteStore
	Bus            *eventbus.Bus
	Dispatcher     *classifier.Dispatcher
	Metrics        *metrics.Registry
	SpectrogramDir string
	Workers        int
}

// New constructs a Gateway and starts its classifier worker pool.
// Shutdown must be called to drain it.
func New(ctx context.Context, cfg Config) *Gateway {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	g := &Gateway{
		store:      cfg.Store,
		bus:        cfg.Bus,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		specDir:    cfg.SpectrogramDir,
		log:        logging.ForService("gateway"),
		jobs:       make(chan classifyJob, 64),
	}
	for i := 0; i < cfg.Workers; i++ {
		g.wg.Add(1)
		go g.worker(ctx)
	}
	return g
}

// Shutdown closes the job queue and waits for in-flight classifications
// to finish.
func (g *Gateway) Shutdown() {
	close(g.jobs)
	g.wg.Wait()
}

// worker drains classification jobs and hands each one to the
// Dispatcher. Success is not handled here: the Dispatcher invokes
// Gateway.OnClassified itself via its configured Sink, so onClassified
// fires exactly once whether the result comes from this live path or
// from a later Dispatcher.Sync pass over the offline queue.
func (g *Gateway) worker(ctx context.Context) {
	defer g.wg.Done()
	for job := range g.jobs {
		start := time.Now()
		result, err := g.dispatcher.Classify(ctx, job.identifier, job.imageBytes)
		if g.metrics != nil {
			tier := "queued"
			if err == nil {
				tier = string(result.Tier)
			}
			g.metrics.ClassifyDuration.WithLabelValues(tier).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			g.log.Warn("classification failed, queued for sync", "spectrogram_id", job.specID, "err", err)
		}
	}
}

// OnSpectrogramReceived implements reassembler.Sink: it renders the grid
// to PNG, persists the spectrogram, upserts the originating node's
// telemetry, and enqueues a classification job.
func (g *Gateway) OnSpectrogramReceived(ev reassembler.SpectrogramReceived) {
	if g.metrics != nil {
		outcome := "complete"
		if ev.Truncated {
			outcome = "truncated"
		}
		g.metrics.SpectrogramsTotal.WithLabelValues(outcome).Inc()
	}

	spec, err := g.store.InsertSpectrogram(context.Background(), &store.Spectrogram{
		NodeID:         ev.NodeID,
		SessionID:      ev.SessionID,
		Grid:           ev.Grid,
		GridWidth:      ev.GridWidth,
		GridHeight:     ev.GridHeight,
		RSSIMax:        ev.RSSIMax,
		Latitude:       ev.Metadata.Lat,
		Longitude:      ev.Metadata.Lon,
		BatteryPercent: ev.Metadata.Battery,
		Truncated:      ev.Truncated,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		g.log.Error("failed to persist spectrogram", "node_id", ev.NodeID, "err", err)
		return
	}

	if err := g.writePNG(spec.ID, ev.Grid, ev.GridWidth, ev.GridHeight); err != nil {
		g.log.Warn("failed to render spectrogram png", "spectrogram_id", spec.ID, "err", err)
	}

	if _, err := g.store.UpsertNode(context.Background(), &store.Node{
		NodeID:         ev.NodeID,
		Latitude:       ev.Metadata.Lat,
		Longitude:      ev.Metadata.Lon,
		BatteryPercent: ev.Metadata.Battery,
		LastSeenAt:     time.Now(),
		HubConnected:   true,
	}); err != nil {
		g.log.Warn("failed to upsert node from spectrogram", "node_id", ev.NodeID, "err", err)
	}

	select {
	case g.jobs <- classifyJob{specID: spec.ID, identifier: strconv.FormatUint(uint64(spec.ID), 10), imageBytes: ev.Grid}:
	default:
		g.log.Warn("classifier worker pool saturated, dropping spectrogram from this cycle", "spectrogram_id", spec.ID)
		if g.metrics != nil {
			g.metrics.EventBusDropped.WithLabelValues("classify_queue_full").Inc()
		}
	}
}

func (g *Gateway) writePNG(specID uint, grid []byte, w, h int) error {
	if g.specDir == "" {
		return nil
	}
	png, err := spectrogram.RenderPNG(grid, w, h)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(g.specDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(g.specDir, strconv.FormatUint(uint64(specID), 10)+".png")
	return os.WriteFile(path, png, 0o644)
}

// onClassified updates the persisted spectrogram, raises an alert when
// the threat level warrants one, and publishes both outcomes to the
// Event Bus.
func (g *Gateway) onClassified(specID uint, result classifier.Result) {
	ctx := context.Background()
	spec, err := g.store.UpdateSpectrogramClassification(ctx, specID, string(result.Tier), string(result.Label), result.Confidence, string(result.ThreatLevel))
	if err != nil {
		g.log.Error("failed to record classification", "spectrogram_id", specID, "err", err)
		return
	}

	if g.metrics != nil {
		g.metrics.Classifications.WithLabelValues(string(result.Tier), string(result.Label)).Inc()
	}
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: eventbus.TypeSpectrogramAnalyzed, Payload: spec})
	}

	if result.ThreatLevel == classifier.ThreatNone {
		return
	}

	alert, err := g.store.InsertAlert(ctx, &store.Alert{
		SpectrogramID:  specID,
		NodeID:         spec.NodeID,
		ThreatLevel:    string(result.ThreatLevel),
		Label:          string(result.Label),
		Confidence:     result.Confidence,
		Latitude:       spec.Latitude,
		Longitude:      spec.Longitude,
		ClassifierUsed: string(result.Tier),
		CreatedAt:      time.Now(),
	})
	if err != nil {
		g.log.Error("failed to raise alert", "spectrogram_id", specID, "err", err)
		return
	}
	if g.metrics != nil {
		g.metrics.AlertsRaised.WithLabelValues(string(result.ThreatLevel)).Inc()
	}
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: eventbus.TypeNewAlert, Payload: alert})
	}
}

// OnClassified implements classifier.Sink for re-classifications driven
// by Dispatcher.Sync (the offline queue), which calls it directly rather
// than through the worker pool.
func (g *Gateway) OnClassified(identifier string, result classifier.Result) {
	id, err := strconv.ParseUint(identifier, 10, 64)
	if err != nil {
		g.log.Warn("sync classified an unparseable spectrogram identifier", "identifier", identifier, "err", err)
		return
	}
	g.onClassified(uint(id), result)
}

// OnSyncCompleted implements classifier.Sink.
func (g *Gateway) OnSyncCompleted(completed classifier.SyncCompleted) {
	g.log.Info("sync pass completed", "synced", completed.Synced, "failed", completed.Failed)
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: eventbus.TypeSyncCompleted, Payload: completed})
	}
	if g.metrics != nil {
		g.metrics.SyncQueueDepth.Set(float64(completed.Failed))
	}
}

// OnPartialSpectrogram implements reassembler.Sink: the codec failed to
// decode an otherwise-complete session's concatenated payload.
func (g *Gateway) OnPartialSpectrogram(ev reassembler.PartialSpectrogram) {
	g.log.Warn("spectrogram decode failed", "node_id", ev.NodeID, "session_id", ev.SessionID,
		"err", fgerrors.New(ev.Err).Category(fgerrors.CategoryWireCodec).Build())
	if g.metrics != nil {
		g.metrics.EventBusDropped.WithLabelValues("decode_failed").Inc()
	}
}

// OnSessionAbandoned implements reassembler.Sink.
func (g *Gateway) OnSessionAbandoned(ev reassembler.SessionAbandoned) {
	g.log.Warn("session abandoned", "node_hash", ev.NodeHash, "session_id", ev.SessionID,
		"received", ev.Received, "expected", ev.Expected)
	if g.metrics != nil {
		g.metrics.SessionsAbandoned.Inc()
		g.metrics.EventBusDropped.WithLabelValues("session_abandoned").Inc()
	}
}

// OnJSON implements reassembler.Sink: it decodes the out-of-band JSON
// message, upserts node telemetry for heartbeat/boot/low_battery
// messages (mirroring the spectrogram path's node bookkeeping for nodes
// that have nothing to transmit but a heartbeat), and raises an Alert
// directly for a node-declared type=alert message — most notably the
// scheduler's spectrogram-codec-failure fallback, which has no
// spectrogram behind it and would otherwise never surface a threat.
func (g *Gateway) OnJSON(nodeHash uint16, rssi int, body []byte) {
	msg, err := wire.DecodeJSONMessage(body)
	if err != nil {
		g.log.Warn("failed to decode json packet", "node_hash", nodeHash, "err", err)
		return
	}

	node := store.Node{NodeID: msg.NodeID, LastSeenAt: time.Now(), HubConnected: true}
	if msg.Lat != nil {
		node.Latitude = *msg.Lat
	}
	if msg.Lon != nil {
		node.Longitude = *msg.Lon
	}
	if msg.Battery != nil {
		node.BatteryPercent = *msg.Battery
	}
	if _, err := g.store.UpsertNode(context.Background(), &node); err != nil {
		g.log.Warn("failed to upsert node from json packet", "node_id", msg.NodeID, "err", err)
	}

	if msg.Type != wire.JSONAlert {
		return
	}

	confidence := 0
	if msg.Confidence != nil {
		confidence = *msg.Confidence
	}
	alert, err := g.store.InsertAlert(context.Background(), &store.Alert{
		NodeID:         msg.NodeID,
		ThreatLevel:    string(classifier.ThreatHigh),
		Label:          string(classifier.LabelUnknown),
		Confidence:     confidence,
		Latitude:       node.Latitude,
		Longitude:      node.Longitude,
		ClassifierUsed: "none",
		CreatedAt:      time.Now(),
	})
	if err != nil {
		g.log.Error("failed to raise alert from json message", "node_id", msg.NodeID, "err", err)
		return
	}
	if g.metrics != nil {
		g.metrics.AlertsRaised.WithLabelValues(string(classifier.ThreatHigh)).Inc()
	}
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: eventbus.TypeNewAlert, Payload: alert})
	}
}
