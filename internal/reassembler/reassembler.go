// Package reassembler owns the hub's in-flight transmission-session
// table: it ingests parsed wire packets, tracks per-session chunk
// arrival, and emits reconstructed spectrograms or loss/timeout
// diagnostics once a session resolves.
package reassembler

import (
	"container/heap"
	"time"

	fgerrors "github.com/foresthq/guardian/internal/errors"
	"github.com/foresthq/guardian/internal/wire"
)

// DefaultMaxSessions is the concurrent-session cap; the oldest session
// by opened_at is evicted when exceeded. Exposed as SESSION_MAX_CONCURRENT
// in configuration (see DESIGN.md's Open Questions: spec.md leaves the
// cap implementation-chosen).
const DefaultMaxSessions = 32

// AbandonTimeout is how long a session may go without a new packet
// before it is abandoned.
const AbandonTimeout = 30 * time.Second

// sessionKey identifies one transmission session.
type sessionKey struct {
	nodeHash  uint16
	sessionID uint16
}

// unknownDataCount marks a session created permissively from a DATA or
// END packet before its START packet arrived.
const unknownDataCount = -1

// session is the Reassembler's exclusively-owned mutable state for one
// in-flight transmission.
type session struct {
	key            sessionKey
	nodeID         string
	dataCount      int // -1 until START arrives
	payloadLen     int
	chunks         map[byte][]byte
	metadata       *wire.SpecEndBody
	opened         time.Time
	lastPacket     time.Time
	rssiMax        int
	heapIndex      int
	pendingWithoutStart bool
}

// SpectrogramReceived is published to the Event Bus on successful
// reassembly.
type SpectrogramReceived struct {
	NodeID     string
	Grid       []byte
	GridWidth  int
	GridHeight int
	Metadata   wire.SpecEndBody
	RSSIMax    int
	SessionID  uint16
	Truncated  bool
}

// PartialSpectrogram is published when a session completes its packet
// accounting but the wire codec fails to decode the concatenated payload.
type PartialSpectrogram struct {
	NodeID    string
	RawBytes  []byte
	SessionID uint16
	Err       error
}

// SessionAbandoned is published when a session times out without
// completing.
type SessionAbandoned struct {
	NodeHash  uint16
	SessionID uint16
	Received  int
	Expected  int // -1 if START never arrived
}

// Sink receives the Reassembler's output events. The hub wires this to
// the Event Bus.
type Sink interface {
	OnSpectrogramReceived(SpectrogramReceived)
	OnPartialSpectrogram(PartialSpectrogram)
	OnSessionAbandoned(SessionAbandoned)
	// OnJSON is handed the raw body of a JSON-type packet for node/alert
	// bookkeeping; the Reassembler does not interpret it itself.
	OnJSON(nodeHash uint16, rssi int, body []byte)
}

// Reassembler owns the hub's session table. It is not safe for
// concurrent use; the hub drives it from a single serial task per
// spec.md §5.
type Reassembler struct {
	sessions       map[sessionKey]*session
	order          *sessionHeap // min-heap by opened_at, for eviction
	maxSessions    int
	sessionTimeout time.Duration
	sink           Sink
}

// New constructs an empty Reassembler bounded by maxSessions concurrent
// in-flight sessions (0 uses DefaultMaxSessions), abandoning a session
// after it goes AbandonTimeout without a packet. Call SetSessionTimeout
// to override the timeout from configuration (SESSION_TIMEOUT_S).
func New(sink Sink, maxSessions int) *Reassembler {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	h := &sessionHeap{}
	heap.Init(h)
	return &Reassembler{
		sessions:       make(map[sessionKey]*session),
		order:          h,
		maxSessions:    maxSessions,
		sessionTimeout: AbandonTimeout,
		sink:           sink,
	}
}

// SetSessionTimeout overrides the session-abandonment window, e.g. from
// configuration (SESSION_TIMEOUT_S). A non-positive value is ignored.
func (r *Reassembler) SetSessionTimeout(d time.Duration) {
	if d > 0 {
		r.sessionTimeout = d
	}
}

// OnPacket ingests one parsed packet with its measured RSSI. It never
// returns an error: malformed input is dropped per spec.md §4.G, with
// JSON bodies handed off to the sink untouched.
func (r *Reassembler) OnPacket(p *wire.Packet, rssi int, now time.Time) {
	switch p.Type {
	case wire.TypeJSON:
		r.sink.OnJSON(p.NodeHash, rssi, p.Body)
	case wire.TypeSpecStart:
		r.onStart(p, rssi, now)
	case wire.TypeSpecData:
		r.onData(p, rssi, now)
	case wire.TypeSpecEnd:
		r.onEnd(p, rssi, now)
	}
}

func (r *Reassembler) key(p *wire.Packet) sessionKey {
	return sessionKey{nodeHash: p.NodeHash, sessionID: p.SessionID}
}

func (r *Reassembler) onStart(p *wire.Packet, rssi int, now time.Time) {
	body, err := wire.DecodeSpecStartBody(p.Body)
	if err != nil {
		return // drop malformed START
	}
	key := r.key(p)
	if existing, ok := r.sessions[key]; ok {
		if existing.pendingWithoutStart {
			// Permissive DATA-before-START mode (spec.md §9, resolved in
			// DESIGN.md): fill in the pending session rather than
			// discarding the chunks already collected.
			existing.nodeID = body.NodeID
			existing.dataCount = int(body.DataPackets)
			existing.payloadLen = int(body.PayloadLen)
			existing.pendingWithoutStart = false
			existing.lastPacket = now
			if rssi > existing.rssiMax {
				existing.rssiMax = rssi
			}
			r.tryComplete(existing, now)
			return
		}
		// "if a session with the same key already exists, replace it
		// (discard partial)" — spec.md §4.G.
		r.evict(existing)
	}
	s := &session{
		key:        key,
		nodeID:     body.NodeID,
		dataCount:  int(body.DataPackets),
		payloadLen: int(body.PayloadLen),
		chunks:     make(map[byte][]byte),
		opened:     now,
		lastPacket: now,
		rssiMax:    rssi,
	}
	r.admit(s)
}

func (r *Reassembler) onData(p *wire.Packet, rssi int, now time.Time) {
	if p.Seq > 127 {
		return
	}
	key := r.key(p)
	s, ok := r.sessions[key]
	if !ok {
		// Permissive mode (spec.md §9 Open Question, resolved permissive):
		// create a pending session with unknown data_count rather than
		// drop the chunk.
		s = &session{
			key:                 key,
			dataCount:           unknownDataCount,
			chunks:              make(map[byte][]byte),
			opened:              now,
			rssiMax:             rssi,
			pendingWithoutStart: true,
		}
		r.admit(s)
	}
	s.chunks[p.Seq] = append([]byte(nil), p.Body...)
	s.lastPacket = now
	if rssi > s.rssiMax {
		s.rssiMax = rssi
	}
	r.tryComplete(s, now)
}

func (r *Reassembler) onEnd(p *wire.Packet, rssi int, now time.Time) {
	meta, err := wire.DecodeSpecEndBody(p.Body)
	if err != nil {
		return
	}
	key := r.key(p)
	s, ok := r.sessions[key]
	if !ok {
		// Permissive mode also covers an END that overtakes its START:
		// hold the metadata in a pending session until START arrives.
		s = &session{
			key:                 key,
			dataCount:           unknownDataCount,
			chunks:              make(map[byte][]byte),
			opened:              now,
			rssiMax:             rssi,
			pendingWithoutStart: true,
		}
		r.admit(s)
	}
	s.metadata = &meta
	s.lastPacket = now
	if rssi > s.rssiMax {
		s.rssiMax = rssi
	}
	r.tryComplete(s, now)
}

// tryComplete evaluates the completion rule: START and END present, and
// distinct DATA sequence count equals data_count.
func (r *Reassembler) tryComplete(s *session, now time.Time) {
	if s.pendingWithoutStart || s.dataCount < 0 || s.metadata == nil {
		return
	}
	if len(s.chunks) != s.dataCount {
		return
	}
	r.complete(s, now)
}

func (r *Reassembler) complete(s *session, now time.Time) {
	payload := make([]byte, 0, s.payloadLen)
	truncated := false
	for seq := 0; seq < s.dataCount; seq++ {
		chunk, ok := s.chunks[byte(seq)]
		if !ok {
			truncated = true
			break
		}
		payload = append(payload, chunk...)
	}
	if len(payload) != s.payloadLen {
		truncated = true
	}

	grid, w, h, err := wire.DecodeGrid(payload)
	if err != nil {
		r.sink.OnPartialSpectrogram(PartialSpectrogram{
			NodeID:    s.nodeID,
			RawBytes:  payload,
			SessionID: s.key.sessionID,
			Err:       fgerrors.New(err).Category(fgerrors.CategoryReassembly).Build(),
		})
		r.evict(s)
		return
	}

	r.sink.OnSpectrogramReceived(SpectrogramReceived{
		NodeID:     s.nodeID,
		Grid:       grid,
		GridWidth:  w,
		GridHeight: h,
		Metadata:   *s.metadata,
		RSSIMax:    s.rssiMax,
		SessionID:  s.key.sessionID,
		Truncated:  truncated,
	})
	r.evict(s)
}

// Sweep evicts sessions that have gone AbandonTimeout without a packet.
// The hub calls this once per second from the reassembler task's timeout
// tick (spec.md §5).
func (r *Reassembler) Sweep(now time.Time) {
	for _, s := range r.sessions {
		if now.Sub(s.lastPacket) > r.sessionTimeout {
			expected := s.dataCount
			r.sink.OnSessionAbandoned(SessionAbandoned{
				NodeHash:  s.key.nodeHash,
				SessionID: s.key.sessionID,
				Received:  len(s.chunks),
				Expected:  expected,
			})
			r.evict(s)
		}
	}
}

// admit inserts a new session, evicting the oldest by opened_at if the
// table is at capacity.
func (r *Reassembler) admit(s *session) {
	if len(r.sessions) >= r.maxSessions {
		if oldest := r.order.peek(); oldest != nil {
			r.sink.OnSessionAbandoned(SessionAbandoned{
				NodeHash:  oldest.key.nodeHash,
				SessionID: oldest.key.sessionID,
				Received:  len(oldest.chunks),
				Expected:  oldest.dataCount,
			})
			r.evict(oldest)
		}
	}
	r.sessions[s.key] = s
	heap.Push(r.order, s)
}

func (r *Reassembler) evict(s *session) {
	delete(r.sessions, s.key)
	r.order.remove(s)
}

// Len reports the number of in-flight sessions, for metrics.
func (r *Reassembler) Len() int {
	return len(r.sessions)
}
