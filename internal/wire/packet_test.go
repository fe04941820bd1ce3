package wire

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

func TestParseSerializeRoundTrip(t *testing.T) {
	t.Parallel()
	p := &Packet{
		Header: Header{
			NodeHash:  NodeHash("GUARDIAN_001"),
			Type:      TypeSpecData,
			SessionID: 42,
			Seq:       3,
		},
		Body: []byte{1, 2, 3, 4, 5},
	}
	raw, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := ParsePacket(raw)
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if got.NodeHash != p.NodeHash || got.Type != p.Type || got.SessionID != p.SessionID || got.Seq != p.Seq {
		t.Fatalf("header mismatch: got %+v want %+v", got.Header, p.Header)
	}
	if !bytes.Equal(got.Body, p.Body) {
		t.Fatalf("body mismatch: got %v want %v", got.Body, p.Body)
	}
}

func TestParseSerializeRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.SliceOfN(rapid.Byte(), 0, MaxBodyLen).Draw(t, "body")
		p := &Packet{
			Header: Header{
				NodeHash:  rapid.Uint16().Draw(t, "hash"),
				Type:      TypeSpecData,
				SessionID: rapid.Uint16().Draw(t, "session"),
				Seq:       rapid.Byte().Draw(t, "seq"),
			},
			Body: body,
		}
		raw, err := p.Serialize()
		if err != nil {
			t.Fatalf("Serialize: %v", err)
		}
		got, err := ParsePacket(raw)
		if err != nil {
			t.Fatalf("ParsePacket: %v", err)
		}
		if got.Header != p.Header {
			t.Fatalf("header mismatch: got %+v want %+v", got.Header, p.Header)
		}
		if !bytes.Equal(got.Body, p.Body) {
			t.Fatalf("body mismatch")
		}
	})
}

func TestParsePacketRejectsBadMagic(t *testing.T) {
	t.Parallel()
	raw := []byte{0x00, 0x00, 0, 0, byte(TypeJSON), 0, 0, 0}
	if _, err := ParsePacket(raw); err == nil {
		t.Fatal("expected error on magic mismatch")
	}
}

func TestParsePacketRejectsUnknownType(t *testing.T) {
	t.Parallel()
	raw := []byte{Magic[0], Magic[1], 0, 0, 0xEE, 0, 0, 0}
	if _, err := ParsePacket(raw); err == nil {
		t.Fatal("expected error on unknown type")
	}
}

func TestParsePacketRejectsShortHeader(t *testing.T) {
	t.Parallel()
	if _, err := ParsePacket([]byte{Magic[0], Magic[1]}); err == nil {
		t.Fatal("expected error on short header")
	}
}

func TestSpecStartBodyRoundTrip(t *testing.T) {
	t.Parallel()
	b := SpecStartBody{DataPackets: 3, PayloadLen: 500, NodeID: "GUARDIAN_001"}
	got, err := DecodeSpecStartBody(b.Encode())
	if err != nil {
		t.Fatalf("DecodeSpecStartBody: %v", err)
	}
	if got != b {
		t.Fatalf("got %+v want %+v", got, b)
	}
}

func TestSpecEndBodyRoundTrip(t *testing.T) {
	t.Parallel()
	b := SpecEndBody{Confidence: 84, Lat: 27.7172, Lon: 85.3240, Battery: 78}
	got, err := DecodeSpecEndBody(b.Encode())
	if err != nil {
		t.Fatalf("DecodeSpecEndBody: %v", err)
	}
	if got != b {
		t.Fatalf("got %+v want %+v", got, b)
	}
}

func TestSplitPayloadNoTrailingZeroLengthChunk(t *testing.T) {
	t.Parallel()
	payload := make([]byte, LORAPacketData*2)
	chunks := SplitPayload(payload)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks for an exact multiple, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) != LORAPacketData {
			t.Fatalf("expected full chunk of %d bytes, got %d", LORAPacketData, len(c))
		}
	}
}

func TestSplitPayloadLastChunkShort(t *testing.T) {
	t.Parallel()
	payload := make([]byte, LORAPacketData+10)
	chunks := SplitPayload(payload)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[1]) != 10 {
		t.Fatalf("expected 10-byte trailing chunk, got %d", len(chunks[1]))
	}
}

func TestDecodeJSONMessageRequiresNodeID(t *testing.T) {
	t.Parallel()
	if _, err := DecodeJSONMessage([]byte(`{"type":"boot"}`)); err == nil {
		t.Fatal("expected error on missing node_id")
	}
}
