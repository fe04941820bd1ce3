package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/foresthq/guardian/internal/classifier"
	"github.com/foresthq/guardian/internal/store"
)

// syncQueueEnvelope is the on-disk mirror of one SyncQueueEntry, written
// to dir before the corresponding database row is guaranteed durable
// (spec.md §6's sync_queue/ directory).
type syncQueueEnvelope struct {
	Rank       uint64    `json:"rank"`
	Identifier string    `json:"identifier"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// SyncPersistence implements classifier.SyncPersistence against the
// hub's SQLite store, with every entry additionally mirrored to a flat
// file under dir so a queue entry set while the hub has no connectivity
// survives a restart even before its database write lands. The
// spectrogram's own Grid column supplies the image bytes back on Load:
// the queue table only needs to track which spectrogram is pending.
type SyncPersistence struct {
	store *store.SQLiteStore
	dir   string
}

// NewSyncPersistence constructs a SyncPersistence. An empty dir
// disables the file mirror; the database table still persists the
// queue either way.
func NewSyncPersistence(st *store.SQLiteStore, dir string) *SyncPersistence {
	return &SyncPersistence{store: st, dir: dir}
}

func (p *SyncPersistence) Save(item classifier.SyncItem, cause error) error {
	specID, err := strconv.ParseUint(item.Identifier, 10, 64)
	if err != nil {
		return err
	}
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}
	entry := store.SyncQueueEntry{
		SpectrogramID: uint(specID),
		Rank:          item.Rank,
		EnqueuedAt:    time.Now(),
		LastError:     lastErr,
	}
	if _, err := p.store.UpsertSyncQueueEntry(context.Background(), &entry); err != nil {
		return err
	}
	return p.writeEnvelope(item)
}

func (p *SyncPersistence) Delete(identifier string) error {
	specID, err := strconv.ParseUint(identifier, 10, 64)
	if err != nil {
		return err
	}
	if err := p.store.DeleteSyncQueueEntry(context.Background(), uint(specID)); err != nil {
		return err
	}
	return p.removeEnvelope(identifier)
}

// Load reconstructs the sync queue from the database, reading each
// entry's image bytes back from its Spectrogram row. An entry whose
// spectrogram has since been deleted is dropped rather than failing the
// whole load.
func (p *SyncPersistence) Load() ([]classifier.SyncItem, error) {
	entries, err := p.store.ListSyncQueueEntries(context.Background())
	if err != nil {
		return nil, err
	}
	items := make([]classifier.SyncItem, 0, len(entries))
	for _, e := range entries {
		spec, err := p.store.GetSpectrogram(context.Background(), e.SpectrogramID)
		if errors.Is(err, store.ErrSpectrogramNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		identifier := strconv.FormatUint(uint64(e.SpectrogramID), 10)
		items = append(items, classifier.SyncItem{
			Rank:       e.Rank,
			Identifier: identifier,
			ImageBytes: spec.Grid,
		})
	}
	return items, nil
}

func (p *SyncPersistence) writeEnvelope(item classifier.SyncItem) error {
	if p.dir == "" {
		return nil
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(syncQueueEnvelope{
		Rank:       item.Rank,
		Identifier: item.Identifier,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(p.envelopePath(item.Identifier), data, 0o644)
}

func (p *SyncPersistence) removeEnvelope(identifier string) error {
	if p.dir == "" {
		return nil
	}
	err := os.Remove(p.envelopePath(identifier))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (p *SyncPersistence) envelopePath(identifier string) string {
	return filepath.Join(p.dir, identifier+".json")
}

var _ classifier.SyncPersistence = (*SyncPersistence)(nil)
