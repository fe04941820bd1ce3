// conf/validate.go
package conf

import "fmt"

// ValidationError collects every problem found in one Settings, so an
// operator sees all of them instead of fixing one field at a time.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", ve.Errors)
}

// validateSettings checks invariants load-time defaults and plain env
// parsing can't catch (cross-field ranges, enum membership) and returns
// a ValidationError if any fail.
func validateSettings(s *Settings) error {
	ve := ValidationError{}

	if s.Radio.FrequencyMHz <= 0 {
		ve.Errors = append(ve.Errors, "radio.frequencymhz must be positive")
	}
	if s.Radio.SpreadFactor < 6 || s.Radio.SpreadFactor > 12 {
		ve.Errors = append(ve.Errors, "radio.spreadfactor must be between 6 and 12")
	}

	switch s.Anomaly.Profile {
	case "demo", "production":
	default:
		ve.Errors = append(ve.Errors, fmt.Sprintf("anomaly.profile must be demo or production, got %q", s.Anomaly.Profile))
	}
	if s.Anomaly.ConsecutiveHits < 1 {
		ve.Errors = append(ve.Errors, "anomaly.consecutivehits must be at least 1")
	}

	switch s.Classifier.Mode {
	case "auto", "fast", "deep", "local":
	default:
		ve.Errors = append(ve.Errors, fmt.Sprintf("classifier.mode must be one of auto|fast|deep|local, got %q", s.Classifier.Mode))
	}
	if s.Classifier.DeepCloud.RateLimit < 1 {
		ve.Errors = append(ve.Errors, "classifier.deepcloud.ratelimit must be at least 1")
	}
	if s.Classifier.DeepCloud.RateWindowS < 1 {
		ve.Errors = append(ve.Errors, "classifier.deepcloud.ratewindows must be at least 1")
	}
	if s.Classifier.Local.ConfidenceMin < 0 || s.Classifier.Local.ConfidenceMin > 100 {
		ve.Errors = append(ve.Errors, "classifier.local.confidencemin must be 0-100")
	}

	if s.Session.TimeoutS < 1 {
		ve.Errors = append(ve.Errors, "session.timeouts must be at least 1")
	}
	if s.Session.MaxConcurrent < 1 {
		ve.Errors = append(ve.Errors, "session.maxconcurrent must be at least 1")
	}

	if s.Node.HeartbeatMs < 1000 {
		ve.Errors = append(ve.Errors, "node.heartbeatms must be at least 1000")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}
