package radio

import (
	"context"
	"testing"
	"time"
)

func TestLoopbackTransmitReceiveRoundTrip(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	node, hub := LoopbackPair(ctx)
	want := []byte{0x46, 0x47, 1, 2, 3}

	errCh := make(chan error, 1)
	go func() { errCh <- node.Transmit(want) }()

	got, err := hub.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if len(got.Payload) != len(want) {
		t.Fatalf("payload length mismatch: got %d want %d", len(got.Payload), len(want))
	}
	for i := range want {
		if got.Payload[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got.Payload[i], want[i])
		}
	}
}

func TestLoopbackRejectsOversizePayload(t *testing.T) {
	t.Parallel()
	node, _ := LoopbackPair(context.Background())
	oversize := make([]byte, 256)
	if err := node.Transmit(oversize); err == nil {
		t.Fatal("expected error on oversize payload")
	}
	if !node.NeedsReset() {
		t.Fatal("expected link to latch into NeedsReset after a fatal error")
	}
}

func TestLoopbackScanChannelReportsQuiet(t *testing.T) {
	t.Parallel()
	node, _ := LoopbackPair(context.Background())
	rssi, err := node.ScanChannel()
	if err != nil {
		t.Fatalf("ScanChannel: %v", err)
	}
	if rssi >= -50 {
		t.Fatalf("expected a quiet simulated channel, got rssi=%d", rssi)
	}
}

func TestLoopbackSleepStandbyNoop(t *testing.T) {
	t.Parallel()
	node, _ := LoopbackPair(context.Background())
	if err := node.Sleep(); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if err := node.Standby(); err != nil {
		t.Fatalf("Standby: %v", err)
	}
}
