// Package store persists nodes, spectrograms, and alerts for the hub
// and publishes a typed event for each write to the Event Bus.
package store

import (
	"context"
	"time"

	fgerrors "github.com/foresthq/guardian/internal/errors"
)

// Sentinel not-found errors, grounded on the teacher's datastore
// package (ErrNoteReviewNotFound et al.): callers match these with
// errors.Is rather than inspecting driver-specific strings.
var (
	ErrNodeNotFound        = fgerrors.Newf("node not found").Component("store").Category(fgerrors.CategoryNotFound).Build()
	ErrSpectrogramNotFound = fgerrors.Newf("spectrogram not found").Component("store").Category(fgerrors.CategoryNotFound).Build()
	ErrAlertNotFound       = fgerrors.Newf("alert not found").Component("store").Category(fgerrors.CategoryNotFound).Build()
)

// Interface abstracts the hub's persistence layer. SQLiteStore is the
// only production implementation; the interface exists so the API and
// simulation layers can be tested against a fake.
type Interface interface {
	Open() error
	Close() error

	// UpsertNode inserts or updates the node row by NodeID, returning
	// the stored record. Always publishes a new_node or node_update
	// event depending on whether the row previously existed.
	UpsertNode(ctx context.Context, node *Node) (Node, error)
	GetNode(ctx context.Context, nodeID string) (Node, error)
	ListNodes(ctx context.Context) ([]Node, error)

	// InsertSpectrogram persists a newly reassembled spectrogram and
	// publishes new_spectrogram.
	InsertSpectrogram(ctx context.Context, s *Spectrogram) (Spectrogram, error)
	// UpdateSpectrogramClassification writes classifier results back
	// onto a previously inserted spectrogram and publishes
	// spectrogram_analyzed.
	UpdateSpectrogramClassification(ctx context.Context, id uint, classifierUsed, label string, confidence int, threatLevel string) (Spectrogram, error)
	GetSpectrogram(ctx context.Context, id uint) (Spectrogram, error)
	ListSpectrograms(ctx context.Context, nodeID string, limit int) ([]Spectrogram, error)

	// InsertAlert inserts a new alert and publishes new_alert.
	// RespondToAlert marks an existing alert responded and publishes no
	// event.
	InsertAlert(ctx context.Context, a *Alert) (Alert, error)
	RespondToAlert(ctx context.Context, id uint, note string, respondedAt time.Time) (Alert, error)
	GetAlert(ctx context.Context, id uint) (Alert, error)
	ListAlerts(ctx context.Context, limit int) ([]Alert, error)

	// UpsertSyncQueueEntry records or updates a pending offline-sync
	// entry keyed by SpectrogramID, so classifier.Dispatcher's queue
	// survives a hub restart.
	UpsertSyncQueueEntry(ctx context.Context, e *SyncQueueEntry) (SyncQueueEntry, error)
	DeleteSyncQueueEntry(ctx context.Context, spectrogramID uint) error
	ListSyncQueueEntries(ctx context.Context) ([]SyncQueueEntry, error)
}
