// env.go - environment variable overrides for Forest Guardian
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// envBinding applies one environment variable, if set, onto a field of
// an already-unmarshaled Settings. Bindings run after viper.Unmarshal so
// the flat names spec.md names (RADIO_FREQ_MHZ, not RADIO_FREQUENCYMHZ)
// can differ from the nested YAML keys without fighting viper's env key
// replacer.
type envBinding struct {
	EnvVar string
	Apply  func(s *Settings, value string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"RADIO_FREQ_MHZ", func(s *Settings, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid RADIO_FREQ_MHZ: %w", err)
			}
			s.Radio.FrequencyMHz = f
			return nil
		}},
		{"RADIO_SF", func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid RADIO_SF: %w", err)
			}
			if n < 6 || n > 12 {
				return fmt.Errorf("RADIO_SF must be 6-12, got %d", n)
			}
			s.Radio.SpreadFactor = n
			return nil
		}},
		{"RADIO_SYNC_WORD", func(s *Settings, v string) error {
			n, err := strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 8)
			if err != nil {
				if n2, err2 := strconv.ParseUint(v, 10, 8); err2 == nil {
					s.Radio.SyncWord = uint8(n2)
					return nil
				}
				return fmt.Errorf("invalid RADIO_SYNC_WORD: %w", err)
			}
			s.Radio.SyncWord = uint8(n)
			return nil
		}},
		{"ANOMALY_PROFILE", func(s *Settings, v string) error {
			if v != "demo" && v != "production" {
				return fmt.Errorf("ANOMALY_PROFILE must be demo or production, got %q", v)
			}
			s.Anomaly.Profile = v
			return nil
		}},
		{"CONSECUTIVE_HITS", func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid CONSECUTIVE_HITS: %q", v)
			}
			s.Anomaly.ConsecutiveHits = n
			return nil
		}},
		{"TX_COOLDOWN_MS", func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid TX_COOLDOWN_MS: %q", v)
			}
			s.Anomaly.TxCooldownMs = n
			return nil
		}},
		{"HEARTBEAT_MS", func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1000 {
				return fmt.Errorf("HEARTBEAT_MS must be >= 1000, got %q", v)
			}
			s.Node.HeartbeatMs = n
			return nil
		}},
		{"DEEP_RATE_LIMIT", func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid DEEP_RATE_LIMIT: %q", v)
			}
			s.Classifier.DeepCloud.RateLimit = n
			return nil
		}},
		{"DEEP_RATE_WINDOW_S", func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid DEEP_RATE_WINDOW_S: %q", v)
			}
			s.Classifier.DeepCloud.RateWindowS = n
			return nil
		}},
		{"SESSION_TIMEOUT_S", func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid SESSION_TIMEOUT_S: %q", v)
			}
			s.Session.TimeoutS = n
			return nil
		}},
		{"SESSION_MAX_CONCURRENT", func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid SESSION_MAX_CONCURRENT: %q", v)
			}
			s.Session.MaxConcurrent = n
			return nil
		}},
		{"AI_MODE", func(s *Settings, v string) error {
			switch v {
			case "deep", "fast", "local", "auto":
				s.Classifier.Mode = v
				return nil
			default:
				return fmt.Errorf("AI_MODE must be one of deep|fast|local|auto, got %q", v)
			}
		}},
		{"DEEP_CLOUD_API_KEY", func(s *Settings, v string) error {
			s.Classifier.DeepCloud.APIKey = v
			return nil
		}},
		{"FAST_CLOUD_API_KEY", func(s *Settings, v string) error {
			s.Classifier.FastCloud.APIKey = v
			return nil
		}},
	}
}

// bindEnvVars overrides settings fields with any of the environment
// variables from spec.md §6 that are present, collecting validation
// failures rather than failing on the first one so an operator sees
// every problem at once.
func bindEnvVars(s *Settings) error {
	var problems []string
	for _, b := range getEnvBindings() {
		value, ok := os.LookupEnv(b.EnvVar)
		if !ok || value == "" {
			continue
		}
		if err := b.Apply(s, value); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
