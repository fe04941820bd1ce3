package scheduler

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/foresthq/guardian/internal/anomaly"
	"github.com/foresthq/guardian/internal/radio"
	"github.com/foresthq/guardian/internal/spectrogram"
)

type fakeAudio struct {
	fill func(buf []int16)
}

func (f *fakeAudio) Read(buf []int16) error {
	f.fill(buf)
	return nil
}

func toneAudio() *fakeAudio {
	return &fakeAudio{fill: func(buf []int16) {
		for i := range buf {
			buf[i] = int16(8000 * math.Sin(2*math.Pi*1500*float64(i)/16000))
		}
	}}
}

// alwaysFireGate builds a Demo-profile gate whose thresholds are relaxed
// so any non-silent grid satisfies it on the first window, isolating the
// scheduler's state transitions from the spectrogram/anomaly heuristics
// covered by their own package tests.
func alwaysFireGate() *anomaly.Gate {
	g := anomaly.New(anomaly.ProfileDemo)
	g.SetThresholds(anomaly.Thresholds{
		EnergyRatio:     -1,
		HighBandRatio:   -1,
		MaxCV:           1e9,
		ConsecutiveHits: 1,
		Cooldown:        0,
	})
	return g
}

func newTestScheduler(t *testing.T, link radio.Link, battery int) *Scheduler {
	t.Helper()
	var transitions []State
	cfg := Config{
		NodeID:            "GUARDIAN_TEST",
		Audio:             toneAudio(),
		Engine:            spectrogram.NewEngine(spectrogram.DefaultParams()),
		Gate:              alwaysFireGate(),
		Link:              link,
		Battery:           func() int { return battery },
		HeartbeatInterval: 30 * time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, to)
		},
	}
	return New(cfg)
}

func TestSchedulerBootToListening(t *testing.T) {
	t.Parallel()
	node, _ := radio.LoopbackPair(context.Background())
	s := newTestScheduler(t, node, 80)
	now := time.Unix(1000, 0)

	s.Tick(now) // Boot -> Init
	if s.State() != StateInit {
		t.Fatalf("expected Init, got %s", s.State())
	}
	s.Tick(now) // Init -> Listening
	if s.State() != StateListening {
		t.Fatalf("expected Listening, got %s", s.State())
	}
}

func TestSchedulerFiresAnomalyAndTransmits(t *testing.T) {
	t.Parallel()
	node, hub := radio.LoopbackPair(context.Background())
	s := newTestScheduler(t, node, 80)
	now := time.Unix(1000, 0)

	s.Tick(now)
	s.Tick(now)
	if s.State() != StateListening {
		t.Fatalf("expected Listening before anomaly, got %s", s.State())
	}

	s.Tick(now) // Listening -> AnomalyPending (gate fires immediately)
	if s.State() != StateAnomalyPending {
		t.Fatalf("expected AnomalyPending, got %s", s.State())
	}
	s.Tick(now) // AnomalyPending -> Transmitting
	if s.State() != StateTransmitting {
		t.Fatalf("expected Transmitting, got %s", s.State())
	}
	s.Tick(now) // Transmitting -> Listening
	if s.State() != StateListening {
		t.Fatalf("expected back to Listening, got %s", s.State())
	}

	// The hub side of the loopback should have received at least a
	// SPEC_START packet.
	pkt, err := hub.Receive()
	if err != nil {
		t.Fatalf("hub Receive: %v", err)
	}
	if len(pkt.Payload) < 8 {
		t.Fatalf("expected a full packet header, got %d bytes", len(pkt.Payload))
	}
}

func TestSchedulerHeartbeatOnInterval(t *testing.T) {
	t.Parallel()
	node, hub := radio.LoopbackPair(context.Background())
	s := newTestScheduler(t, node, 80)
	s.cfg.HeartbeatInterval = 1 * time.Second
	start := time.Unix(2000, 0)

	s.Tick(start)
	s.Tick(start)
	s.lastHBAt = start // pin the heartbeat clock to the test's base time

	later := start.Add(2 * time.Second)
	s.Tick(later) // Listening -> Heartbeat (interval elapsed)
	if s.State() != StateHeartbeat {
		t.Fatalf("expected Heartbeat, got %s", s.State())
	}

	s.Tick(later) // Heartbeat: transmit, then -> Listening after the ack-wait window
	if s.State() != StateListening {
		t.Fatalf("expected Listening after heartbeat, got %s", s.State())
	}

	pkt, err := hub.Receive()
	if err != nil {
		t.Fatalf("hub Receive: %v", err)
	}
	if len(pkt.Payload) == 0 {
		t.Fatal("expected a heartbeat packet on the wire")
	}
}

func TestSchedulerLowBatteryToSleepAndBack(t *testing.T) {
	t.Parallel()
	node, _ := radio.LoopbackPair(context.Background())
	battery := 3
	s := newTestScheduler(t, node, battery)
	now := time.Unix(3000, 0)

	s.Tick(now) // Boot: battery check preempts the Boot->Init transition
	if s.State() != StateLowBattery {
		t.Fatalf("expected LowBattery, got %s", s.State())
	}
	s.Tick(now) // LowBattery -> Sleep
	if s.State() != StateSleep {
		t.Fatalf("expected Sleep, got %s", s.State())
	}
	s.Tick(now.Add(1 * time.Minute))
	if s.State() != StateSleep {
		t.Fatalf("expected to remain asleep before the deep-sleep duration elapses, got %s", s.State())
	}
	s.Tick(now.Add(11 * time.Minute))
	if s.State() != StateListening {
		t.Fatalf("expected Listening after the deep-sleep duration elapses, got %s", s.State())
	}
}

func TestSchedulerMissingSubsystemGoesToError(t *testing.T) {
	t.Parallel()
	s := New(Config{NodeID: "X"})
	now := time.Unix(4000, 0)
	s.Tick(now)
	s.Tick(now)
	if s.State() != StateError {
		t.Fatalf("expected Error on missing subsystems, got %s", s.State())
	}
}
