package geo

import "testing"

func TestValidateLatLngRejectsOutOfRange(t *testing.T) {
	if err := ValidateLatLng(91, 0); err == nil {
		t.Fatal("expected error for latitude > 90")
	}
	if err := ValidateLatLng(0, -181); err == nil {
		t.Fatal("expected error for longitude < -180")
	}
	if err := ValidateLatLng(45, -122); err != nil {
		t.Fatalf("expected valid coordinates to pass, got %v", err)
	}
}

func TestDistanceMetersBetweenIdenticalPointsIsZero(t *testing.T) {
	d := DistanceMeters(45, -122, 45, -122)
	if d != 0 {
		t.Fatalf("expected 0 distance between identical points, got %f", d)
	}
}

func TestDistanceMetersKnownPair(t *testing.T) {
	// San Francisco to Los Angeles, roughly 559km great-circle.
	d := DistanceMeters(37.7749, -122.4194, 34.0522, -118.2437)
	if d < 550000 || d > 570000 {
		t.Fatalf("expected distance near 559km, got %fm", d)
	}
}

func TestFormatDMSNorthVsSouth(t *testing.T) {
	north := FormatDMS(12.5, "N", "S")
	south := FormatDMS(-12.5, "N", "S")
	if north[len(north)-1] != 'N' {
		t.Fatalf("expected N suffix, got %s", north)
	}
	if south[len(south)-1] != 'S' {
		t.Fatalf("expected S suffix, got %s", south)
	}
}

func TestBearingDegreesDueEast(t *testing.T) {
	b := BearingDegrees(0, 0, 0, 10)
	if b < 89 || b > 91 {
		t.Fatalf("expected bearing near 90 degrees due east, got %f", b)
	}
}
