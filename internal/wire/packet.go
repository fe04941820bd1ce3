// Package wire implements the Forest Guardian binary packet protocol: the
// fixed 8-byte header shared by every on-air packet, the four packet body
// types, and the quantize+RLE codec used to carry a spectrogram grid inside
// a SPEC_DATA stream.
package wire

import (
	"encoding/binary"
	"encoding/json"

	fgerrors "github.com/foresthq/guardian/internal/errors"
)

// Magic identifies a Forest Guardian packet on the wire.
var Magic = [2]byte{0x46, 0x47}

// PacketType enumerates the four body shapes carried after the header.
type PacketType byte

const (
	TypeJSON      PacketType = 0x01
	TypeSpecStart PacketType = 0x10
	TypeSpecData  PacketType = 0x11
	TypeSpecEnd   PacketType = 0x12
)

const (
	// HeaderLen is the size in bytes of the fixed packet header.
	HeaderLen = 8
	// MaxPacketLen is the maximum on-air packet size, header included.
	MaxPacketLen = 200
	// MaxBodyLen is the maximum body size: MaxPacketLen - HeaderLen.
	MaxBodyLen = MaxPacketLen - HeaderLen
	// LORAMaxPayload is the maximum payload carried by a single SPEC_DATA
	// packet body.
	LORAMaxPayload = MaxBodyLen
	// LORAPacketData is the chunk size used to split a Spectrogram Payload
	// across SPEC_DATA packets: byte N of the payload is carried by
	// sequence N/LORAPacketData at offset N%LORAPacketData.
	LORAPacketData = MaxBodyLen
	// maxNodeIDLen is the maximum node id length, including the
	// terminating NUL, inside a SPEC_START body.
	maxNodeIDLen = 21
)

// Header is the fixed 8-byte preamble of every packet.
type Header struct {
	NodeHash  uint16
	Type      PacketType
	SessionID uint16
	Seq       byte
}

// Packet is a fully parsed on-air packet: header plus raw body bytes.
type Packet struct {
	Header
	Body []byte
}

// Serialize writes the packet header and body as an on-air byte slice.
// Returns an error if the body would make the packet exceed MaxPacketLen.
func (p *Packet) Serialize() ([]byte, error) {
	if len(p.Body) > MaxBodyLen {
		return nil, fgerrors.New(fgerrors.NewStd("body exceeds max length")).
			Category(fgerrors.CategoryWireCodec).
			Context("body_len", len(p.Body)).
			Build()
	}
	out := make([]byte, HeaderLen+len(p.Body))
	out[0] = Magic[0]
	out[1] = Magic[1]
	binary.BigEndian.PutUint16(out[2:4], p.NodeHash)
	out[4] = byte(p.Type)
	binary.BigEndian.PutUint16(out[5:7], p.SessionID)
	out[7] = p.Seq
	copy(out[HeaderLen:], p.Body)
	return out, nil
}

// ParsePacket parses a raw on-air byte slice into a Packet. Returns an
// error if the magic is wrong, the type is unknown, or the slice is
// shorter than the fixed header.
func ParsePacket(raw []byte) (*Packet, error) {
	if len(raw) < HeaderLen {
		return nil, fgerrors.New(fgerrors.NewStd("packet shorter than header")).
			Category(fgerrors.CategoryWireCodec).Build()
	}
	if raw[0] != Magic[0] || raw[1] != Magic[1] {
		return nil, fgerrors.New(fgerrors.NewStd("magic mismatch")).
			Category(fgerrors.CategoryWireCodec).Build()
	}
	t := PacketType(raw[4])
	switch t {
	case TypeJSON, TypeSpecStart, TypeSpecData, TypeSpecEnd:
	default:
		return nil, fgerrors.New(fgerrors.NewStd("unknown packet type")).
			Category(fgerrors.CategoryWireCodec).
			Context("type", raw[4]).Build()
	}
	body := make([]byte, len(raw)-HeaderLen)
	copy(body, raw[HeaderLen:])
	return &Packet{
		Header: Header{
			NodeHash:  binary.BigEndian.Uint16(raw[2:4]),
			Type:      t,
			SessionID: binary.BigEndian.Uint16(raw[5:7]),
			Seq:       raw[7],
		},
		Body: body,
	}, nil
}

// NodeHash computes the 16-bit FNV-1a-derived hash of a node id used in
// the packet header.
func NodeHash(nodeID string) uint16 {
	var h uint32 = 2166136261
	for i := 0; i < len(nodeID); i++ {
		h ^= uint32(nodeID[i])
		h *= 16777619
	}
	return uint16(h ^ (h >> 16))
}

// SpecStartBody is the decoded body of a SPEC_START packet.
type SpecStartBody struct {
	DataPackets byte
	PayloadLen  uint16
	NodeID      string
}

// Encode serializes a SpecStartBody.
func (b SpecStartBody) Encode() []byte {
	nodeID := b.NodeID
	if len(nodeID) > maxNodeIDLen-1 {
		nodeID = nodeID[:maxNodeIDLen-1]
	}
	out := make([]byte, 0, 3+len(nodeID)+1)
	out = append(out, b.DataPackets)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], b.PayloadLen)
	out = append(out, lenBuf[:]...)
	out = append(out, []byte(nodeID)...)
	out = append(out, 0x00)
	return out
}

// DecodeSpecStartBody parses a SPEC_START body.
func DecodeSpecStartBody(body []byte) (SpecStartBody, error) {
	if len(body) < 4 {
		return SpecStartBody{}, fgerrors.New(fgerrors.NewStd("spec_start body too short")).
			Category(fgerrors.CategoryWireCodec).Build()
	}
	nul := 3
	for nul < len(body) && body[nul] != 0x00 {
		nul++
	}
	return SpecStartBody{
		DataPackets: body[0],
		PayloadLen:  binary.BigEndian.Uint16(body[1:3]),
		NodeID:      string(body[3:nul]),
	}, nil
}

// SpecEndBody is the decoded body of a SPEC_END packet.
type SpecEndBody struct {
	Confidence int     `json:"conf"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Battery    int     `json:"bat"`
}

// Encode serializes a SpecEndBody as JSON.
func (b SpecEndBody) Encode() []byte {
	out, _ := json.Marshal(b)
	return out
}

// DecodeSpecEndBody parses a SPEC_END JSON body.
func DecodeSpecEndBody(body []byte) (SpecEndBody, error) {
	var b SpecEndBody
	if err := json.Unmarshal(body, &b); err != nil {
		return SpecEndBody{}, fgerrors.New(err).Category(fgerrors.CategoryWireCodec).Build()
	}
	return b, nil
}

// JSONMessageType enumerates the out-of-band JSON message kinds.
type JSONMessageType string

const (
	JSONBoot        JSONMessageType = "boot"
	JSONHeartbeat   JSONMessageType = "heartbeat"
	JSONAlert       JSONMessageType = "alert"
	JSONLowBattery  JSONMessageType = "low_battery"
)

// JSONMessage is the decoded body of a JSON packet.
type JSONMessage struct {
	NodeID     string          `json:"node_id"`
	Type       JSONMessageType `json:"type"`
	Confidence *int            `json:"confidence,omitempty"`
	Lat        *float64        `json:"lat,omitempty"`
	Lon        *float64        `json:"lon,omitempty"`
	Battery    *int            `json:"battery,omitempty"`
	Timestamp  *int64          `json:"timestamp,omitempty"`
}

// Encode serializes a JSONMessage.
func (m JSONMessage) Encode() []byte {
	out, _ := json.Marshal(m)
	return out
}

// DecodeJSONMessage parses a JSON packet body.
func DecodeJSONMessage(body []byte) (JSONMessage, error) {
	var m JSONMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return JSONMessage{}, fgerrors.New(err).Category(fgerrors.CategoryWireCodec).Build()
	}
	if m.NodeID == "" {
		return JSONMessage{}, fgerrors.New(fgerrors.NewStd("missing node_id")).
			Category(fgerrors.CategoryWireCodec).Build()
	}
	switch m.Type {
	case JSONBoot, JSONHeartbeat, JSONAlert, JSONLowBattery:
	default:
		return JSONMessage{}, fgerrors.New(fgerrors.NewStd("unknown json message type")).
			Category(fgerrors.CategoryWireCodec).Context("type", string(m.Type)).Build()
	}
	return m, nil
}

// SplitPayload slices a Spectrogram Payload into LORAPacketData-sized
// chunks suitable for one SPEC_DATA packet each. No trailing zero-length
// chunk is produced when len(payload) is a multiple of LORAPacketData.
func SplitPayload(payload []byte) [][]byte {
	var chunks [][]byte
	for offset := 0; offset < len(payload); offset += LORAPacketData {
		end := offset + LORAPacketData
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[offset:end])
	}
	return chunks
}
