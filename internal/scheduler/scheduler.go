// Package scheduler implements the node's cooperative state machine:
// one Tick call per loop iteration, with a single background goroutine
// that pumps the radio's Receive into a channel as its only internal
// concurrency. It owns the transitions between listening for anomalies,
// transmitting a reconstructed spectrogram, sending heartbeats, and
// sleeping on low battery, per spec.md §4.F.
package scheduler

import (
	"strings"
	"time"

	"github.com/foresthq/guardian/internal/anomaly"
	fgerrors "github.com/foresthq/guardian/internal/errors"
	"github.com/foresthq/guardian/internal/radio"
	"github.com/foresthq/guardian/internal/spectrogram"
	"github.com/foresthq/guardian/internal/wire"
)

// State is one of the node scheduler's cooperative states.
type State string

const (
	StateBoot           State = "boot"
	StateInit           State = "init"
	StateListening      State = "listening"
	StateAnomalyPending State = "anomaly_pending"
	StateTransmitting   State = "transmitting"
	StateHeartbeat      State = "heartbeat"
	StateLowBattery     State = "low_battery"
	StateError          State = "error"
	StateSleep          State = "sleep"
)

const (
	lowBatteryThreshold = 5  // percent
	deepSleepDuration   = 10 * time.Minute
	ackWaitWindow       = 2 * time.Second
	ackExpireAfter      = 5 * time.Minute
)

// AudioSource blocks until it can fill buf with samples, zero-padding on
// underfill, matching internal/audiocapture's read() contract.
type AudioSource interface {
	Read(buf []int16) error
}

// BatteryReader reports battery percentage, 0-100.
type BatteryReader func() int

// Config wires a Scheduler to its collaborating subsystems.
type Config struct {
	NodeID              string
	Audio               AudioSource
	Engine              *spectrogram.Engine
	Gate                *anomaly.Gate
	Link                radio.Link
	Battery             BatteryReader
	HeartbeatInterval   time.Duration // 30s live-view, 300s low-power
	WatchdogKick        func()        // called once per Tick
	OnStateChange       func(from, to State)
	PCMWindowSamples    int
}

// Scheduler drives the node's single cooperative loop.
type Scheduler struct {
	cfg Config

	state       State
	sessionID   uint16
	lastHBAt    time.Time
	lastAckAt   time.Time
	hubConnect  bool
	sleepUntil  time.Time
	pendingGrid []byte
	lastErr     error
	rxCh        chan *radio.RxPacket
}

// New constructs a Scheduler in StateBoot.
func New(cfg Config) *Scheduler {
	if cfg.PCMWindowSamples == 0 {
		cfg.PCMWindowSamples = 16000
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Scheduler{cfg: cfg, state: StateBoot}
}

// State returns the scheduler's current state.
func (s *Scheduler) State() State { return s.state }

// HubConnected reports whether an ACK was observed within the last
// ackExpireAfter window.
func (s *Scheduler) HubConnected() bool { return s.hubConnect }

// LastError returns the most recent error that drove the machine into
// StateError, if any.
func (s *Scheduler) LastError() error { return s.lastErr }

func (s *Scheduler) transition(to State) {
	if s.cfg.OnStateChange != nil && to != s.state {
		s.cfg.OnStateChange(s.state, to)
	}
	s.state = to
}

// Tick advances the state machine by one step. It must be called at
// least once every watchdog period; the caller (the node's main loop)
// is responsible for feeding the watchdog hardware after each call.
func (s *Scheduler) Tick(now time.Time) {
	if s.cfg.WatchdogKick != nil {
		s.cfg.WatchdogKick()
	}

	if s.cfg.Battery != nil && s.state != StateSleep && s.state != StateLowBattery {
		if s.cfg.Battery() < lowBatteryThreshold {
			s.transition(StateLowBattery)
			return
		}
	}

	switch s.state {
	case StateBoot:
		s.tickBoot()
	case StateInit:
		s.tickInit()
	case StateListening:
		s.tickListening(now)
	case StateAnomalyPending:
		s.transition(StateTransmitting)
	case StateTransmitting:
		s.tickTransmitting(now)
	case StateHeartbeat:
		s.tickHeartbeat(now)
	case StateLowBattery:
		s.tickLowBattery(now)
	case StateError:
		// Remains in Error until the owning process restarts the node;
		// the node scheduler does not self-heal across a latched radio
		// or audio failure.
	case StateSleep:
		s.tickSleep(now)
	}
}

func (s *Scheduler) tickBoot() {
	s.transition(StateInit)
}

func (s *Scheduler) tickInit() {
	if s.cfg.Audio == nil || s.cfg.Engine == nil || s.cfg.Gate == nil || s.cfg.Link == nil {
		s.lastErr = fgerrors.New(fgerrors.NewStd("scheduler: missing required subsystem")).
			Category(fgerrors.CategoryScheduler).Build()
		s.transition(StateError)
		return
	}
	if err := s.cfg.Link.Standby(); err != nil {
		s.lastErr = err
		s.transition(StateError)
		return
	}
	s.startReceiver()
	s.transition(StateListening)
}

// startReceiver launches a single long-lived goroutine that keeps the
// Link's Receive call pumped and forwards incoming packets to rxCh,
// started once per Scheduler lifetime rather than once per heartbeat so
// an unresponsive hub never accumulates blocked goroutines.
func (s *Scheduler) startReceiver() {
	s.rxCh = make(chan *radio.RxPacket, 8)
	go func() {
		for {
			pkt, err := s.cfg.Link.Receive()
			if err != nil {
				return
			}
			select {
			case s.rxCh <- pkt:
			default: // drop if the ack-wait window isn't currently draining it
			}
		}
	}()
}

func (s *Scheduler) tickListening(now time.Time) {
	if s.lastHBAt.IsZero() {
		s.lastHBAt = now
	}
	if now.Sub(s.lastHBAt) >= s.cfg.HeartbeatInterval {
		s.transition(StateHeartbeat)
		return
	}
	if s.hubConnect && !s.lastAckAt.IsZero() && now.Sub(s.lastAckAt) > ackExpireAfter {
		s.hubConnect = false
	}

	buf := make([]int16, s.cfg.PCMWindowSamples)
	if err := s.cfg.Audio.Read(buf); err != nil {
		// AudioUnavailable: caller retries next tick, scheduler stays
		// Listening per spec.md §4.A.
		return
	}

	grid, err := s.cfg.Engine.Generate(buf)
	if err != nil {
		return
	}

	if s.cfg.Gate.Evaluate(grid, spectrogram.W, spectrogram.H, now) {
		s.pendingGrid = grid
		s.transition(StateAnomalyPending)
	}
}

func (s *Scheduler) tickTransmitting(now time.Time) {
	grid := s.pendingGrid
	s.pendingGrid = nil
	s.sessionID++

	if err := s.transmitSpectrogram(grid, now); err != nil {
		// Codec or link failure: fall back to a minimal JSON alert so the
		// hub still learns something happened, per spec.md §4.F.
		_ = s.transmitJSONAlertFallback(now)
	}
	s.transition(StateListening)
}

func (s *Scheduler) transmitSpectrogram(grid []byte, now time.Time) error {
	payload := wire.EncodeGrid(grid, spectrogram.W, spectrogram.H)
	chunks := wire.SplitPayload(payload)
	hash := wire.NodeHash(s.cfg.NodeID)

	start := wire.SpecStartBody{
		DataPackets: byte(len(chunks)),
		PayloadLen:  uint16(len(payload)),
		NodeID:      s.cfg.NodeID,
	}
	if err := s.sendPacket(hash, wire.TypeSpecStart, start.Encode(), 0); err != nil {
		return err
	}
	for seq, chunk := range chunks {
		if err := s.sendPacket(hash, wire.TypeSpecData, chunk, byte(seq)); err != nil {
			return err
		}
	}
	end := wire.SpecEndBody{
		Confidence: 0, // node does not classify; hub's classifier fills this in
		Lat:        0,
		Lon:        0,
		Battery:    batteryOrZero(s.cfg.Battery),
	}
	return s.sendPacket(hash, wire.TypeSpecEnd, end.Encode(), 0)
}

func (s *Scheduler) transmitJSONAlertFallback(now time.Time) error {
	msg := wire.JSONMessage{
		NodeID: s.cfg.NodeID,
		Type:   wire.JSONAlert,
	}
	if s.cfg.Battery != nil {
		b := s.cfg.Battery()
		msg.Battery = &b
	}
	return s.sendPacket(wire.NodeHash(s.cfg.NodeID), wire.TypeJSON, msg.Encode(), 0)
}

func (s *Scheduler) sendPacket(hash uint16, typ wire.PacketType, body []byte, seq byte) error {
	p := &wire.Packet{
		Header: wire.Header{NodeHash: hash, Type: typ, SessionID: s.sessionID, Seq: seq},
		Body:   body,
	}
	raw, err := p.Serialize()
	if err != nil {
		return err
	}
	return s.cfg.Link.Transmit(raw)
}

func batteryOrZero(b BatteryReader) int {
	if b == nil {
		return 0
	}
	return b()
}

func (s *Scheduler) tickHeartbeat(now time.Time) {
	s.lastHBAt = now
	msg := wire.JSONMessage{NodeID: s.cfg.NodeID, Type: wire.JSONHeartbeat}
	if s.cfg.Battery != nil {
		b := s.cfg.Battery()
		msg.Battery = &b
	}
	_ = s.sendPacket(wire.NodeHash(s.cfg.NodeID), wire.TypeJSON, msg.Encode(), 0)

	s.awaitAck(now)
	s.transition(StateListening)
}

// awaitAck opens a bounded receive window after a heartbeat or alert
// transmission, draining the scheduler's background receiver channel
// until an ack-shaped packet arrives or ackWaitWindow elapses.
func (s *Scheduler) awaitAck(now time.Time) {
	if s.rxCh == nil {
		return
	}
	deadline := time.NewTimer(ackWaitWindow)
	defer deadline.Stop()
	for {
		select {
		case pkt := <-s.rxCh:
			if s.isAck(pkt.Payload) {
				s.hubConnect = true
				s.lastAckAt = now
				return
			}
		case <-deadline.C:
			return
		}
	}
}

// isAck applies the spec's intentionally loose ACK predicate: any packet
// addressed to this node's hash whose body contains one of a handful of
// literal substrings.
func (s *Scheduler) isAck(raw []byte) bool {
	p, err := wire.ParsePacket(raw)
	if err != nil || p.NodeHash != wire.NodeHash(s.cfg.NodeID) {
		return false
	}
	text := string(p.Body)
	for _, needle := range []string{"ack", "ACK", s.cfg.NodeID, "hub"} {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

func (s *Scheduler) tickLowBattery(now time.Time) {
	_ = s.cfg.Link.Sleep()
	s.sleepUntil = now.Add(deepSleepDuration)
	s.transition(StateSleep)
}

func (s *Scheduler) tickSleep(now time.Time) {
	if now.Before(s.sleepUntil) {
		return
	}
	s.transition(StateListening)
}
