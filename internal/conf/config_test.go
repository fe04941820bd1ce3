package conf

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsWhenFieldsOmitted(t *testing.T) {
	path := writeTestConfig(t, "debug: true\n")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !s.Debug {
		t.Fatal("expected debug: true to be honored")
	}
	if s.Radio.FrequencyMHz != 915.0 {
		t.Fatalf("expected default radio frequency, got %v", s.Radio.FrequencyMHz)
	}
	if s.Anomaly.Profile != "demo" {
		t.Fatalf("expected default anomaly profile demo, got %q", s.Anomaly.Profile)
	}
	if s.Classifier.Mode != "auto" {
		t.Fatalf("expected default classifier mode auto, got %q", s.Classifier.Mode)
	}
}

func TestEnvironmentOverridesTakePrecedenceOverFile(t *testing.T) {
	path := writeTestConfig(t, "anomaly:\n  profile: demo\n")
	t.Setenv("ANOMALY_PROFILE", "production")
	t.Setenv("CONSECUTIVE_HITS", "7")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Anomaly.Profile != "production" {
		t.Fatalf("expected env override to win, got %q", s.Anomaly.Profile)
	}
	if s.Anomaly.ConsecutiveHits != 7 {
		t.Fatalf("expected CONSECUTIVE_HITS override, got %d", s.Anomaly.ConsecutiveHits)
	}
}

func TestLoadRejectsInvalidAIMode(t *testing.T) {
	path := writeTestConfig(t, "")
	t.Setenv("AI_MODE", "supersonic")

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid AI_MODE")
	}
}

func TestLoadRejectsOutOfRangeAnomalyProfile(t *testing.T) {
	path := writeTestConfig(t, "anomaly:\n  profile: invalid\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid anomaly.profile")
	}
}
