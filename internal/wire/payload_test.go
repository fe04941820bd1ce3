package wire

import (
	"math/rand"
	"testing"

	"pgregory.net/rapid"
)

func quantizeThenDequantize(grid []byte) []byte {
	return dequantizeGrid(quantizeGrid(grid))
}

func TestEncodeDecodeGridRoundTrip(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(1))
	grid := make([]byte, 32*32)
	for i := range grid {
		grid[i] = byte(r.Intn(256))
	}

	payload := EncodeGrid(grid, 32, 32)
	got, w, h, err := DecodeGrid(payload)
	if err != nil {
		t.Fatalf("DecodeGrid: %v", err)
	}
	if w != 32 || h != 32 {
		t.Fatalf("expected 32x32, got %dx%d", w, h)
	}
	want := quantizeThenDequantize(grid)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pixel %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestEncodeDecodeGridRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := 32
		h := 32
		n := w * h
		grid := rapid.SliceOfN(rapid.Byte(), n, n).Draw(t, "grid")

		payload := EncodeGrid(grid, w, h)
		got, gotW, gotH, err := DecodeGrid(payload)
		if err != nil {
			t.Fatalf("DecodeGrid: %v", err)
		}
		if gotW != w || gotH != h {
			t.Fatalf("dimensions changed: got %dx%d want %dx%d", gotW, gotH, w, h)
		}
		want := quantizeThenDequantize(grid)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("pixel %d mismatch: got %d want %d", i, got[i], want[i])
			}
		}
	})
}

func TestRLERunsCollapseRepeatedBytes(t *testing.T) {
	t.Parallel()
	packed := make([]byte, 200)
	for i := range packed {
		packed[i] = 0xAB
	}
	encoded := rleEncode(packed)
	// 200 repeats of the same value split into runs of at most 127 -> 2
	// two-byte tokens, far smaller than the 200-byte input.
	if len(encoded) >= len(packed) {
		t.Fatalf("expected compression, got %d bytes for %d input bytes", len(encoded), len(packed))
	}
	decoded, err := rleDecode(encoded, len(packed))
	if err != nil {
		t.Fatalf("rleDecode: %v", err)
	}
	for i := range packed {
		if decoded[i] != packed[i] {
			t.Fatalf("byte %d: got %d want %d", i, decoded[i], packed[i])
		}
	}
}

func TestPackUnpackNibblesRoundTrip(t *testing.T) {
	t.Parallel()
	nibbles := make([]byte, 64)
	for i := range nibbles {
		nibbles[i] = byte(i % 16)
	}
	packed := packNibbles(nibbles)
	unpacked := unpackNibbles(packed, len(nibbles))
	for i := range nibbles {
		if unpacked[i] != nibbles[i] {
			t.Fatalf("nibble %d: got %d want %d", i, unpacked[i], nibbles[i])
		}
	}
}
