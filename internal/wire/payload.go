package wire

import (
	fgerrors "github.com/foresthq/guardian/internal/errors"
)

// payloadMagic is the 2-byte marker at the start of every Spectrogram
// Payload, followed by width and height bytes.
var payloadMagic = [2]byte{0x53, 0x50}

// EncodeGrid quantizes an 8-bit W×H grid to 4-bit resolution, packs pixel
// pairs into bytes, run-length encodes the packed stream, and prepends the
// payload header. grid is row-major, W*H elements.
func EncodeGrid(grid []byte, w, h int) []byte {
	packed := packNibbles(quantizeGrid(grid))

	out := make([]byte, 0, 4+len(packed))
	out = append(out, payloadMagic[0], payloadMagic[1], byte(w), byte(h))
	out = append(out, rleEncode(packed)...)
	return out
}

// DecodeGrid parses a Spectrogram Payload back into an 8-bit row-major
// grid. Returns the width and height read from the header.
func DecodeGrid(payload []byte) (grid []byte, w, h int, err error) {
	if len(payload) < 4 || payload[0] != payloadMagic[0] || payload[1] != payloadMagic[1] {
		return nil, 0, 0, fgerrors.New(fgerrors.NewStd("payload header mismatch")).
			Category(fgerrors.CategoryWireCodec).Build()
	}
	w = int(payload[2])
	h = int(payload[3])
	wantPacked := (w*h + 1) / 2

	packed, err := rleDecode(payload[4:], wantPacked)
	if err != nil {
		return nil, 0, 0, err
	}
	grid = dequantizeGrid(unpackNibbles(packed, w*h))
	return grid, w, h, nil
}

// quantizeGrid maps each 8-bit pixel down to a 4-bit nibble (0..15) by
// keeping the high nibble of the byte.
func quantizeGrid(grid []byte) []byte {
	out := make([]byte, len(grid))
	for i, v := range grid {
		out[i] = v >> 4
	}
	return out
}

// dequantizeGrid reconstructs 8-bit pixel values from 4-bit nibbles by
// replicating the nibble into both halves of the byte (q*17 maps 0→0,
// 15→255), the inverse step implied by spec invariant 1 ("rounded to
// 4-bit resolution").
func dequantizeGrid(nibbles []byte) []byte {
	out := make([]byte, len(nibbles))
	for i, q := range nibbles {
		out[i] = q * 17
	}
	return out
}

// packNibbles packs pairs of 4-bit values into bytes: high nibble = even
// index, low nibble = odd index. An odd-length input pads the final low
// nibble with zero.
func packNibbles(nibbles []byte) []byte {
	out := make([]byte, (len(nibbles)+1)/2)
	for i := 0; i < len(nibbles); i += 2 {
		high := nibbles[i] & 0x0F
		var low byte
		if i+1 < len(nibbles) {
			low = nibbles[i+1] & 0x0F
		}
		out[i/2] = (high << 4) | low
	}
	return out
}

// unpackNibbles expands packed bytes back into count 4-bit values.
func unpackNibbles(packed []byte, count int) []byte {
	out := make([]byte, count)
	for i := 0; i < count; i++ {
		b := packed[i/2]
		if i%2 == 0 {
			out[i] = b >> 4
		} else {
			out[i] = b & 0x0F
		}
	}
	return out
}

// rleEncode compresses a packed byte stream into run tokens. A run of
// length 1 whose value fits in 7 bits is emitted as the single-byte
// literal form (0x80|v); every other run is emitted as the two-byte
// [len, value] form.
func rleEncode(packed []byte) []byte {
	var out []byte
	i := 0
	for i < len(packed) {
		value := packed[i]
		runLen := 1
		for i+runLen < len(packed) && packed[i+runLen] == value && runLen < 127 {
			runLen++
		}
		if runLen == 1 && value < 0x80 {
			out = append(out, 0x80|value)
		} else {
			out = append(out, byte(runLen), value)
		}
		i += runLen
	}
	return out
}

// rleDecode expands run tokens back into a packed byte stream, stopping
// once wantLen bytes have been produced. Returns an error if the token
// stream is malformed or underflows the expected length.
func rleDecode(tokens []byte, wantLen int) ([]byte, error) {
	out := make([]byte, 0, wantLen)
	i := 0
	for i < len(tokens) && len(out) < wantLen {
		b := tokens[i]
		if b&0x80 != 0 {
			out = append(out, b&0x7F)
			i++
			continue
		}
		if i+1 >= len(tokens) {
			return nil, fgerrors.New(fgerrors.NewStd("truncated run token")).
				Category(fgerrors.CategoryWireCodec).Build()
		}
		runLen := int(b)
		value := tokens[i+1]
		for n := 0; n < runLen; n++ {
			out = append(out, value)
		}
		i += 2
	}
	if len(out) != wantLen {
		return nil, fgerrors.New(fgerrors.NewStd("payload decoded to wrong length")).
			Category(fgerrors.CategoryWireCodec).
			Context("got", len(out)).Context("want", wantLen).Build()
	}
	return out, nil
}
