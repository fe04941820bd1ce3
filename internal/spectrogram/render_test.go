package spectrogram

import "testing"

func TestRenderPNGProducesValidHeader(t *testing.T) {
	grid := make([]byte, W*H)
	png, err := RenderPNG(grid, W, H)
	if err != nil {
		t.Fatalf("RenderPNG() error: %v", err)
	}
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	if len(png) < len(pngMagic) {
		t.Fatalf("output too short to contain a PNG header")
	}
	for i, b := range pngMagic {
		if png[i] != b {
			t.Fatalf("missing PNG magic at byte %d", i)
		}
	}
}

func TestRenderPNGRejectsMismatchedLength(t *testing.T) {
	if _, err := RenderPNG(make([]byte, 10), W, H); err == nil {
		t.Fatal("expected an error for mismatched grid length")
	}
}
