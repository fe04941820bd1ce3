// Package radio implements the node's LoRa-class radio link: a Link
// interface, an SX1276-register-driven SPI/GPIO implementation for real
// hardware, and an in-memory loopback pair used by tests and the demo
// profile.
package radio

import (
	"time"

	fgerrors "github.com/foresthq/guardian/internal/errors"
)

// RxPacket is a received payload together with the link-quality stats the
// hub uses for node health reporting.
type RxPacket struct {
	Payload []byte
	RSSI    int // dBm
	SNR     float64
}

// Params configures the physical-layer parameters of the link, matching
// spec.md §4.E's SX1276-class radio table.
type Params struct {
	FrequencyHz   uint32 // 915e6 (US) or 868e6 (EU)
	Bandwidth     uint32 // Hz, 125000
	SpreadFactor  int    // 10
	CodingRate    int    // denominator of 4/x, i.e. 5 for "4/5"
	PreambleLen   int    // 8
	SyncWord      byte   // 0x12
	CRCEnabled    bool   // true
	TxPowerDBm    int    // 14
}

// DefaultParams returns the spec's default SX1276-class configuration.
func DefaultParams() Params {
	return Params{
		FrequencyHz:  915_000_000,
		Bandwidth:    125_000,
		SpreadFactor: 10,
		CodingRate:   5,
		PreambleLen:  8,
		SyncWord:     0x12,
		CRCEnabled:   true,
		TxPowerDBm:   14,
	}
}

// Link is the radio transport a node or hub drives. Implementations latch
// into a permanent failure state on any hardware error; callers must
// check NeedsReset and construct a fresh Link rather than continue using
// one that failed, matching the SX1276 reference driver's semantics.
type Link interface {
	// Transmit blocks until the payload has gone out over the air or an
	// error occurs. Payloads over LORAMaxPayload bytes are rejected by
	// the caller (internal/wire.SplitPayload) before reaching here.
	Transmit(payload []byte) error
	// Receive blocks until a packet arrives, ctx is done, or the link
	// has failed.
	Receive() (*RxPacket, error)
	// ScanChannel reports the current channel RSSI without receiving.
	// The node scheduler does not call it before transmitting.
	ScanChannel() (rssiDBm int, err error)
	// Sleep puts the radio in its lowest-power mode.
	Sleep() error
	// Standby wakes the radio to standby mode, ready to Transmit or
	// Receive.
	Standby() error
	// NeedsReset reports whether a prior operation latched the link
	// into a permanent failure state.
	NeedsReset() bool
	// Close releases any underlying hardware resources.
	Close() error
}

// latchedError records the first fatal error on a Link and makes every
// subsequent operation return it, mirroring the reference SX1276 driver's
// "any error leaves the device unusable" rule.
type latchedError struct {
	err error
}

func (l *latchedError) check() error {
	return l.err
}

func (l *latchedError) latch(err error) error {
	if l.err == nil && err != nil {
		l.err = err
	}
	return err
}

func (l *latchedError) NeedsReset() bool {
	return l.err != nil
}

// wrapFailure wraps a hardware error as a CategoryRadio error tagged with
// the failing operation, for callers that only want to test the category.
func wrapFailure(op string, err error) error {
	return fgerrors.New(err).
		Category(fgerrors.CategoryRadio).
		Context("op", op).
		Build()
}

// listenBeforeTalk is how long the SX1276 ScanChannel stays in receive
// mode before sampling the channel RSSI.
const listenBeforeTalk = 15 * time.Millisecond
