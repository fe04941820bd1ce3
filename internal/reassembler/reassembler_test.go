package reassembler

import (
	"testing"
	"time"

	"github.com/foresthq/guardian/internal/wire"
)

type fakeSink struct {
	received  []SpectrogramReceived
	partial   []PartialSpectrogram
	abandoned []SessionAbandoned
	json      [][]byte
}

func (f *fakeSink) OnSpectrogramReceived(s SpectrogramReceived) { f.received = append(f.received, s) }
func (f *fakeSink) OnPartialSpectrogram(p PartialSpectrogram)   { f.partial = append(f.partial, p) }
func (f *fakeSink) OnSessionAbandoned(a SessionAbandoned)       { f.abandoned = append(f.abandoned, a) }
func (f *fakeSink) OnJSON(nodeHash uint16, rssi int, body []byte) {
	f.json = append(f.json, body)
}

func buildSessionPackets(nodeID string, hash uint16, sessionID uint16, grid []byte) (start, end *wire.Packet, data []*wire.Packet) {
	payload := wire.EncodeGrid(grid, 32, 32)
	chunks := wire.SplitPayload(payload)

	startBody := wire.SpecStartBody{DataPackets: byte(len(chunks)), PayloadLen: uint16(len(payload)), NodeID: nodeID}
	start = &wire.Packet{Header: wire.Header{NodeHash: hash, Type: wire.TypeSpecStart, SessionID: sessionID}, Body: startBody.Encode()}

	for i, chunk := range chunks {
		data = append(data, &wire.Packet{
			Header: wire.Header{NodeHash: hash, Type: wire.TypeSpecData, SessionID: sessionID, Seq: byte(i)},
			Body:   chunk,
		})
	}

	endBody := wire.SpecEndBody{Confidence: 0, Lat: 1, Lon: 2, Battery: 90}
	end = &wire.Packet{Header: wire.Header{NodeHash: hash, Type: wire.TypeSpecEnd, SessionID: sessionID}, Body: endBody.Encode()}
	return
}

func testGrid() []byte {
	grid := make([]byte, 32*32)
	for i := range grid {
		grid[i] = byte(i % 256)
	}
	return grid
}

func TestReassemblerCompletesInOrder(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := New(sink, 0)
	now := time.Unix(1000, 0)
	grid := testGrid()
	start, end, data := buildSessionPackets("GUARDIAN_001", 0xABCD, 1, grid)

	r.OnPacket(start, -60, now)
	for _, d := range data {
		r.OnPacket(d, -60, now)
	}
	r.OnPacket(end, -60, now)

	if len(sink.received) != 1 {
		t.Fatalf("expected 1 completed spectrogram, got %d", len(sink.received))
	}
	got := sink.received[0]
	if got.NodeID != "GUARDIAN_001" || got.Truncated {
		t.Fatalf("unexpected result: %+v", got)
	}
	if r.Len() != 0 {
		t.Fatalf("expected session evicted after completion, got %d remaining", r.Len())
	}
}

func TestReassemblerCompletesOutOfOrder(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := New(sink, 0)
	now := time.Unix(1000, 0)
	grid := testGrid()
	start, end, data := buildSessionPackets("GUARDIAN_002", 0x1234, 7, grid)

	// Shuffle: END, then chunks reversed, then START last.
	r.OnPacket(end, -55, now)
	for i := len(data) - 1; i >= 0; i-- {
		r.OnPacket(data[i], -55, now)
	}
	r.OnPacket(start, -55, now)

	if len(sink.received) != 1 {
		t.Fatalf("expected 1 completed spectrogram despite reordering, got %d", len(sink.received))
	}
}

func TestReassemblerDropsDuplicateChunkWithoutBreaking(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := New(sink, 0)
	now := time.Unix(1000, 0)
	grid := testGrid()
	start, end, data := buildSessionPackets("GUARDIAN_003", 0x5678, 2, grid)

	r.OnPacket(start, -60, now)
	r.OnPacket(data[0], -60, now)
	r.OnPacket(data[0], -60, now) // duplicate
	for _, d := range data[1:] {
		r.OnPacket(d, -60, now)
	}
	r.OnPacket(end, -60, now)

	if len(sink.received) != 1 {
		t.Fatalf("expected 1 completed spectrogram, got %d", len(sink.received))
	}
}

func TestReassemblerPermissiveDataBeforeStart(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := New(sink, 0)
	now := time.Unix(1000, 0)
	grid := testGrid()
	start, end, data := buildSessionPackets("GUARDIAN_004", 0x9999, 3, grid)

	for _, d := range data {
		r.OnPacket(d, -60, now) // DATA arrives before START
	}
	if r.Len() != 1 {
		t.Fatalf("expected a pending session created from DATA alone, got %d", r.Len())
	}
	r.OnPacket(start, -60, now)
	r.OnPacket(end, -60, now)

	if len(sink.received) != 1 {
		t.Fatalf("expected completion once START fills in data_count, got %d", len(sink.received))
	}
}

// TestReassemblerPermissiveDataBeforeStartTracksNegativeRSSI covers a
// session opened by a DATA packet alone: rssi_max must be seeded from
// that packet's (negative dBm) reading rather than defaulting to the
// zero value, which would misreport as a *stronger* signal than reality.
func TestReassemblerPermissiveDataBeforeStartTracksNegativeRSSI(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := New(sink, 0)
	now := time.Unix(1000, 0)
	grid := testGrid()
	start, end, data := buildSessionPackets("GUARDIAN_010", 0x7777, 11, grid)

	for _, d := range data {
		r.OnPacket(d, -95, now) // DATA arrives before START, weak signal
	}
	r.OnPacket(start, -95, now)
	r.OnPacket(end, -95, now)

	if len(sink.received) != 1 {
		t.Fatalf("expected 1 completed spectrogram, got %d", len(sink.received))
	}
	if got := sink.received[0].RSSIMax; got != -95 {
		t.Fatalf("expected rssi_max -95 seeded from the first DATA packet, got %d", got)
	}
}

func TestReassemblerAbandonsAfterTimeout(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := New(sink, 0)
	now := time.Unix(1000, 0)
	grid := testGrid()
	start, _, data := buildSessionPackets("GUARDIAN_005", 0x1111, 9, grid)

	r.OnPacket(start, -60, now)
	r.OnPacket(data[0], -60, now) // only a partial delivery, no END

	r.Sweep(now.Add(31 * time.Second))
	if len(sink.abandoned) != 1 {
		t.Fatalf("expected 1 abandoned session, got %d", len(sink.abandoned))
	}
	if r.Len() != 0 {
		t.Fatalf("expected abandoned session evicted, got %d remaining", r.Len())
	}
}

func TestReassemblerDoesNotAbandonBeforeTimeout(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := New(sink, 0)
	now := time.Unix(1000, 0)
	grid := testGrid()
	start, _, _ := buildSessionPackets("GUARDIAN_006", 0x2222, 4, grid)
	r.OnPacket(start, -60, now)

	r.Sweep(now.Add(29 * time.Second))
	if len(sink.abandoned) != 0 {
		t.Fatalf("expected no abandonment before the 30s timeout, got %d", len(sink.abandoned))
	}
}

func TestReassemblerEvictsOldestWhenCapExceeded(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := New(sink, 2)
	base := time.Unix(1000, 0)
	grid := testGrid()

	s1, _, _ := buildSessionPackets("A", 0x01, 1, grid)
	s2, _, _ := buildSessionPackets("B", 0x02, 2, grid)
	s3, _, _ := buildSessionPackets("C", 0x03, 3, grid)

	r.OnPacket(s1, -60, base)
	r.OnPacket(s2, -60, base.Add(time.Second))
	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions at cap, got %d", r.Len())
	}
	r.OnPacket(s3, -60, base.Add(2*time.Second)) // should evict s1 (oldest)

	if r.Len() != 2 {
		t.Fatalf("expected cap maintained at 2, got %d", r.Len())
	}
	if len(sink.abandoned) != 1 {
		t.Fatalf("expected 1 eviction reported as abandonment, got %d", len(sink.abandoned))
	}
}

func TestReassemblerReplacesSessionOnDuplicateStart(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := New(sink, 0)
	now := time.Unix(1000, 0)
	grid := testGrid()
	start1, _, data1 := buildSessionPackets("GUARDIAN_007", 0x3333, 5, grid)
	start2, end2, data2 := buildSessionPackets("GUARDIAN_007", 0x3333, 5, grid)

	r.OnPacket(start1, -60, now)
	r.OnPacket(data1[0], -60, now)

	// A second START for the same (node_hash, session_id) discards the
	// first attempt's partial chunks.
	r.OnPacket(start2, -60, now)
	for _, d := range data2 {
		r.OnPacket(d, -60, now)
	}
	r.OnPacket(end2, -60, now)

	if len(sink.received) != 1 {
		t.Fatalf("expected exactly 1 completion from the replacement session, got %d", len(sink.received))
	}
}

func TestReassemblerPartialSpectrogramOnCodecFailure(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := New(sink, 0)
	now := time.Unix(1000, 0)

	hash := uint16(0x4444)
	startBody := wire.SpecStartBody{DataPackets: 1, PayloadLen: 4, NodeID: "GUARDIAN_008"}
	start := &wire.Packet{Header: wire.Header{NodeHash: hash, Type: wire.TypeSpecStart, SessionID: 1}, Body: startBody.Encode()}
	badChunk := &wire.Packet{Header: wire.Header{NodeHash: hash, Type: wire.TypeSpecData, SessionID: 1, Seq: 0}, Body: []byte{0xFF, 0xFF, 0xFF, 0xFF}}
	endBody := wire.SpecEndBody{}
	end := &wire.Packet{Header: wire.Header{NodeHash: hash, Type: wire.TypeSpecEnd, SessionID: 1}, Body: endBody.Encode()}

	r.OnPacket(start, -60, now)
	r.OnPacket(badChunk, -60, now)
	r.OnPacket(end, -60, now)

	if len(sink.partial) != 1 {
		t.Fatalf("expected 1 PartialSpectrogram on codec decode failure, got %d (received=%d)", len(sink.partial), len(sink.received))
	}
}

func TestReassemblerForwardsJSONUntouched(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	r := New(sink, 0)
	now := time.Unix(1000, 0)

	msg := wire.JSONMessage{NodeID: "GUARDIAN_009", Type: wire.JSONHeartbeat}
	p := &wire.Packet{Header: wire.Header{NodeHash: 0x5555, Type: wire.TypeJSON}, Body: msg.Encode()}
	r.OnPacket(p, -70, now)

	if len(sink.json) != 1 {
		t.Fatalf("expected the JSON body forwarded once, got %d", len(sink.json))
	}
}
