package store

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/foresthq/guardian/internal/eventbus"
	fgerrors "github.com/foresthq/guardian/internal/errors"
	"github.com/foresthq/guardian/internal/logging"
)

const (
	maxLockRetries  = 5
	baseLockBackoff = 50 * time.Millisecond
)

// Config configures a SQLiteStore.
type Config struct {
	Path  string
	Debug bool
	Bus   *eventbus.Bus // nil is valid: writes simply publish nothing
}

// SQLiteStore is the hub's GORM-backed persistence layer. MySQL support
// was dropped relative to the teacher (see DESIGN.md) since a
// field-deployed single-hub gateway has no multi-writer requirement.
type SQLiteStore struct {
	cfg Config
	db  *gorm.DB
	log *slog.Logger
}

// New constructs a SQLiteStore. Call Open before use.
func New(cfg Config) *SQLiteStore {
	return &SQLiteStore{cfg: cfg, log: logging.ForService("store")}
}

// Open creates the database file's parent directory, opens the
// connection, applies performance pragmas, and runs auto-migration.
func (s *SQLiteStore) Open() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).
			Context("operation", "create_database_directory").Build()
	}

	db, err := gorm.Open(sqlite.Open(s.cfg.Path), &gorm.Config{})
	if err != nil {
		return fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).
			Context("operation", "open_sqlite_database").Context("path", s.cfg.Path).Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).Build()
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			s.log.Warn("failed to set pragma", "pragma", pragma, "err", err)
		}
	}

	if err := db.AutoMigrate(&Node{}, &Spectrogram{}, &Alert{}, &SyncQueueEntry{}); err != nil {
		return fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).
			Context("operation", "auto_migrate").Build()
	}

	s.db = db
	s.log.Info("sqlite store opened", "path", s.cfg.Path)
	return nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) publish(evType eventbus.Type, payload any) {
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(eventbus.Event{Type: evType, Payload: payload})
	}
}

// withRetry retries fn up to maxLockRetries times on "database is
// locked" errors with linearly growing backoff plus 0-25% jitter, grounded
// on the teacher's handleDatabaseLockError.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxLockRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isDatabaseLocked(lastErr) {
			return lastErr
		}
		baseBackoff := baseLockBackoff * time.Duration(attempt+1)
		jitter := time.Duration(rand.Float64() * 0.25 * float64(baseBackoff)) //nolint:gosec // jitter only, not security sensitive
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseBackoff + jitter):
		}
	}
	return lastErr
}

func isDatabaseLocked(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "database is locked")
}

// clampBatteryPercent enforces spec.md §8's ingest boundary: whatever a
// node or operator reports, battery_percent is stored within [0, 100].
func clampBatteryPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func (s *SQLiteStore) UpsertNode(ctx context.Context, node *Node) (Node, error) {
	var isNew bool
	var result Node
	err := withRetry(ctx, func() error {
		var existing Node
		txErr := s.db.WithContext(ctx).Where("node_id = ?", node.NodeID).First(&existing).Error
		switch {
		case errors.Is(txErr, gorm.ErrRecordNotFound):
			isNew = true
			result = *node
			result.BatteryPercent = clampBatteryPercent(result.BatteryPercent)
			return s.db.WithContext(ctx).Create(&result).Error
		case txErr != nil:
			return txErr
		default:
			existing.Latitude = node.Latitude
			existing.Longitude = node.Longitude
			existing.BatteryPercent = clampBatteryPercent(node.BatteryPercent)
			existing.LastSeenAt = node.LastSeenAt
			existing.HubConnected = node.HubConnected
			result = existing
			return s.db.WithContext(ctx).Save(&result).Error
		}
	})
	if err != nil {
		return Node{}, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).
			Context("operation", "upsert_node").Context("node_id", node.NodeID).Build()
	}
	if isNew {
		s.publish(eventbus.TypeNewNode, result)
	} else {
		s.publish(eventbus.TypeNodeUpdate, result)
	}
	return result, nil
}

func (s *SQLiteStore) GetNode(ctx context.Context, nodeID string) (Node, error) {
	var n Node
	err := s.db.WithContext(ctx).Where("node_id = ?", nodeID).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Node{}, ErrNodeNotFound
	}
	if err != nil {
		return Node{}, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).Build()
	}
	return n, nil
}

func (s *SQLiteStore) ListNodes(ctx context.Context) ([]Node, error) {
	var nodes []Node
	err := s.db.WithContext(ctx).Order("last_seen_at DESC").Find(&nodes).Error
	if err != nil {
		return nil, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).Build()
	}
	return nodes, nil
}

func (s *SQLiteStore) InsertSpectrogram(ctx context.Context, spec *Spectrogram) (Spectrogram, error) {
	result := *spec
	result.BatteryPercent = clampBatteryPercent(result.BatteryPercent)
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Create(&result).Error
	})
	if err != nil {
		return Spectrogram{}, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).
			Context("operation", "insert_spectrogram").Build()
	}
	s.publish(eventbus.TypeNewSpectrogram, result)
	return result, nil
}

func (s *SQLiteStore) UpdateSpectrogramClassification(ctx context.Context, id uint, classifierUsed, label string, confidence int, threatLevel string) (Spectrogram, error) {
	var result Spectrogram
	err := withRetry(ctx, func() error {
		if txErr := s.db.WithContext(ctx).First(&result, id).Error; txErr != nil {
			return txErr
		}
		result.ClassifierUsed = classifierUsed
		result.Label = label
		result.Confidence = confidence
		result.ThreatLevel = threatLevel
		return s.db.WithContext(ctx).Save(&result).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Spectrogram{}, ErrSpectrogramNotFound
	}
	if err != nil {
		return Spectrogram{}, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).Build()
	}
	s.publish(eventbus.TypeSpectrogramAnalyzed, result)
	return result, nil
}

func (s *SQLiteStore) GetSpectrogram(ctx context.Context, id uint) (Spectrogram, error) {
	var spec Spectrogram
	err := s.db.WithContext(ctx).First(&spec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Spectrogram{}, ErrSpectrogramNotFound
	}
	if err != nil {
		return Spectrogram{}, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).Build()
	}
	return spec, nil
}

func (s *SQLiteStore) ListSpectrograms(ctx context.Context, nodeID string, limit int) ([]Spectrogram, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if nodeID != "" {
		q = q.Where("node_id = ?", nodeID)
	}
	var specs []Spectrogram
	if err := q.Find(&specs).Error; err != nil {
		return nil, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).Build()
	}
	return specs, nil
}

func (s *SQLiteStore) InsertAlert(ctx context.Context, alert *Alert) (Alert, error) {
	result := *alert
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Create(&result).Error
	})
	if err != nil {
		return Alert{}, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).
			Context("operation", "insert_alert").Build()
	}
	s.publish(eventbus.TypeNewAlert, result)
	return result, nil
}

func (s *SQLiteStore) RespondToAlert(ctx context.Context, id uint, note string, respondedAt time.Time) (Alert, error) {
	var result Alert
	err := withRetry(ctx, func() error {
		if txErr := s.db.WithContext(ctx).First(&result, id).Error; txErr != nil {
			return txErr
		}
		result.Responded = true
		result.ResponseNote = note
		result.RespondedAt = &respondedAt
		return s.db.WithContext(ctx).Save(&result).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Alert{}, ErrAlertNotFound
	}
	if err != nil {
		return Alert{}, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).Build()
	}
	return result, nil
}

func (s *SQLiteStore) GetAlert(ctx context.Context, id uint) (Alert, error) {
	var a Alert
	err := s.db.WithContext(ctx).First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Alert{}, ErrAlertNotFound
	}
	if err != nil {
		return Alert{}, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).Build()
	}
	return a, nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var alerts []Alert
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).Build()
	}
	return alerts, nil
}

// UpsertSyncQueueEntry inserts or updates the queue row for
// e.SpectrogramID, bumping Attempts whenever the row already exists
// (i.e. a re-enqueue after a failed retry).
func (s *SQLiteStore) UpsertSyncQueueEntry(ctx context.Context, e *SyncQueueEntry) (SyncQueueEntry, error) {
	var result SyncQueueEntry
	err := withRetry(ctx, func() error {
		var existing SyncQueueEntry
		txErr := s.db.WithContext(ctx).Where("spectrogram_id = ?", e.SpectrogramID).First(&existing).Error
		switch {
		case errors.Is(txErr, gorm.ErrRecordNotFound):
			result = *e
			return s.db.WithContext(ctx).Create(&result).Error
		case txErr != nil:
			return txErr
		default:
			existing.Rank = e.Rank
			existing.LastError = e.LastError
			existing.Attempts++
			result = existing
			return s.db.WithContext(ctx).Save(&result).Error
		}
	})
	if err != nil {
		return SyncQueueEntry{}, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).
			Context("operation", "upsert_sync_queue_entry").Build()
	}
	return result, nil
}

func (s *SQLiteStore) DeleteSyncQueueEntry(ctx context.Context, spectrogramID uint) error {
	err := withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Where("spectrogram_id = ?", spectrogramID).Delete(&SyncQueueEntry{}).Error
	})
	if err != nil {
		return fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).
			Context("operation", "delete_sync_queue_entry").Build()
	}
	return nil
}

func (s *SQLiteStore) ListSyncQueueEntries(ctx context.Context) ([]SyncQueueEntry, error) {
	var entries []SyncQueueEntry
	if err := s.db.WithContext(ctx).Order("rank ASC").Find(&entries).Error; err != nil {
		return nil, fgerrors.New(err).Component("store").Category(fgerrors.CategoryStorage).Build()
	}
	return entries, nil
}

var _ Interface = (*SQLiteStore)(nil)
