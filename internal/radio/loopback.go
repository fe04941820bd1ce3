package radio

import (
	"context"
	"fmt"
)

// LoopbackPair returns two Links wired to each other in memory: anything
// Transmit'd on one arrives via Receive on the other, with a fixed
// simulated RSSI/SNR. Used by the demo profile (no real radio hardware
// present) and by tests that exercise the reassembler and scheduler
// end-to-end.
func LoopbackPair(ctx context.Context) (a, b Link) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	la := &loopback{tx: ab, rx: ba, ctx: ctx}
	lb := &loopback{tx: ba, rx: ab, ctx: ctx}
	return la, lb
}

type loopback struct {
	latchedError
	tx, rx chan []byte
	ctx    context.Context
}

func (l *loopback) Transmit(payload []byte) error {
	if err := l.check(); err != nil {
		return err
	}
	if len(payload) == 0 || len(payload) > 255 {
		return l.latch(wrapFailure("transmit", fmt.Errorf("radio: payload length %d out of range", len(payload))))
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case l.tx <- cp:
		return nil
	case <-l.ctx.Done():
		return l.latch(wrapFailure("transmit", l.ctx.Err()))
	}
}

func (l *loopback) Receive() (*RxPacket, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	select {
	case payload := <-l.rx:
		return &RxPacket{Payload: payload, RSSI: -60, SNR: 9.5}, nil
	case <-l.ctx.Done():
		return nil, l.latch(wrapFailure("receive", l.ctx.Err()))
	}
}

func (l *loopback) ScanChannel() (int, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	return -90, nil // simulated quiet channel
}

func (l *loopback) Sleep() error   { return l.check() }
func (l *loopback) Standby() error { return l.check() }

func (l *loopback) Close() error {
	return nil
}
