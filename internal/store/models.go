package store

import "time"

// Node is the hub's persisted record of one sensor node, upserted on
// every heartbeat and spectrogram transmission.
type Node struct {
	ID             uint   `gorm:"primaryKey"`
	NodeID         string `gorm:"uniqueIndex;not null"`
	Latitude       float64
	Longitude      float64
	BatteryPercent int
	LastSeenAt     time.Time
	HubConnected   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Spectrogram is one reassembled, persisted spectrogram capture.
type Spectrogram struct {
	ID             uint   `gorm:"primaryKey"`
	NodeID         string `gorm:"index;not null"`
	SessionID      uint16
	Grid           []byte `gorm:"type:blob"`
	GridWidth      int
	GridHeight     int
	RSSIMax        int
	Latitude       float64
	Longitude      float64
	BatteryPercent int
	Truncated      bool
	ClassifierUsed string // "local", "fast_cloud", "deep_cloud", or "" if unclassified
	Label          string
	Confidence     int
	ThreatLevel    string
	CreatedAt      time.Time
}

// Alert is raised when a Spectrogram's classification crosses a
// threat-level threshold worth surfacing to an operator, or when a node
// explicitly emits a JSON alert (e.g. the spectrogram codec fallback
// path). SpectrogramID is 0 for the latter: there is no reassembled
// spectrogram behind it.
type Alert struct {
	ID             uint   `gorm:"primaryKey"`
	SpectrogramID  uint   `gorm:"index"`
	NodeID         string `gorm:"index;not null"`
	ThreatLevel    string
	Label          string
	Confidence     int
	Latitude       float64
	Longitude      float64
	ClassifierUsed string // "local", "fast_cloud", "deep_cloud", or "none" for a node-declared alert
	Responded      bool
	ResponseNote   string
	CreatedAt      time.Time
	RespondedAt    *time.Time
}

// SyncQueueEntry is one spectrogram awaiting re-classification once the
// hub regains connectivity, persisted so classifier.Dispatcher's offline
// queue survives a restart. SpectrogramID names the row holding the
// actual grid bytes: the queue table itself only tracks bookkeeping.
type SyncQueueEntry struct {
	ID            uint   `gorm:"primaryKey"`
	SpectrogramID uint   `gorm:"uniqueIndex;not null"`
	Rank          uint64 `gorm:"index"`
	EnqueuedAt    time.Time
	Attempts      int
	LastError     string
}
