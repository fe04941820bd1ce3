package audiocapture

import "testing"

func TestSoftClipPassesThroughBelowKnee(t *testing.T) {
	if got := softClip(19999); got != 19999 {
		t.Fatalf("expected value below knee to pass through unchanged, got %d", got)
	}
	if got := softClip(-19999); got != -19999 {
		t.Fatalf("expected negative value below knee to pass through unchanged, got %d", got)
	}
}

func TestSoftClipCompressesAboveKnee(t *testing.T) {
	// 20000 + (21000-20000)/8 = 20125
	if got := softClip(21000); got != 20125 {
		t.Fatalf("expected compressed value 20125, got %d", got)
	}
	if got := softClip(-21000); got != -20125 {
		t.Fatalf("expected compressed value -20125, got %d", got)
	}
}

func TestSoftClipHardClampsAtLimit(t *testing.T) {
	if got := softClip(1000000); got != hardClampLimit {
		t.Fatalf("expected hard clamp at %d, got %d", hardClampLimit, got)
	}
	if got := softClip(-1000000); got != -hardClampLimit {
		t.Fatalf("expected hard clamp at %d, got %d", -hardClampLimit, got)
	}
}

func TestSoftClipZeroIsZero(t *testing.T) {
	if got := softClip(0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestDownmixShiftsRawSampleBy15Bits(t *testing.T) {
	raw := int32(1000) << 15
	if got := downmix(raw); got != 1000 {
		t.Fatalf("expected downmix to recover shifted value 1000, got %d", got)
	}
}

func TestDownmixAppliesSoftClipAfterShift(t *testing.T) {
	raw := int32(21000) << 15
	if got := downmix(raw); got != 20125 {
		t.Fatalf("expected downmix to apply soft clip, got %d", got)
	}
}

func TestAbs32(t *testing.T) {
	if abs32(-5) != 5 {
		t.Fatalf("expected abs32(-5) == 5")
	}
	if abs32(5) != 5 {
		t.Fatalf("expected abs32(5) == 5")
	}
	if abs32(0) != 0 {
		t.Fatalf("expected abs32(0) == 0")
	}
}

func TestReadOnUnopenedSourceReturnsUnavailable(t *testing.T) {
	s := &Source{}
	buf := make([]int16, 4)
	if err := s.Read(buf); err == nil {
		t.Fatal("expected an error reading from an unopened source")
	}
}
