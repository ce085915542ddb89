// Package bell classifies raw detections into semantic bell events by
// timing correlation with the session's previous bell.
package bell

import (
	"github.com/busbell/backend/internal/models"
)

// Double-bell correlation window: a detection whose gap to the previous
// bell falls strictly inside (DoubleWindowMinMs, DoubleWindowMaxMs) is the
// second clang of a double bell.
const (
	DoubleWindowMinMs = 50
	DoubleWindowMaxMs = 1500

	// DoubleConfidenceBoost is added to the raw confidence when the timing
	// correlation confirms a double; the result is clamped to 1.0 so
	// confidence stays a probability.
	DoubleConfidenceBoost = 0.1
)

// Classified is a raw detection annotated with its bell type and final
// confidence.
type Classified struct {
	Type       string
	Timestamp  int64
	Confidence float64
	Frequency  float64
	Duration   int64
}

// Classify decides the bell type for a raw detection. lastBellTime is the
// timestamp of the session's previous accepted bell; hasLast is false for
// a session's first event, which is always a single.
func Classify(raw models.RawDetection, lastBellTime int64, hasLast bool) Classified {
	c := Classified{
		Type:       models.BellTypeSingle,
		Timestamp:  raw.Timestamp,
		Confidence: raw.Confidence,
		Frequency:  raw.Frequency,
		Duration:   raw.Duration,
	}
	if !hasLast {
		return c
	}
	gap := raw.Timestamp - lastBellTime
	if gap > DoubleWindowMinMs && gap < DoubleWindowMaxMs {
		c.Type = models.BellTypeDouble
		c.Confidence = raw.Confidence + DoubleConfidenceBoost
		if c.Confidence > 1.0 {
			c.Confidence = 1.0
		}
	}
	return c
}
