package detector

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestNeverDetectsAtZeroProbability(t *testing.T) {
	d := NewStochastic(0, nil)
	for i := 0; i < 100; i++ {
		raw, err := d.Detect(context.Background(), uuid.New(), nil)
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if raw != nil {
			t.Fatal("detection at probability 0")
		}
	}
}

func TestAlwaysDetectsAtFullProbability(t *testing.T) {
	d := NewStochastic(1, nil)
	for i := 0; i < 100; i++ {
		raw, err := d.Detect(context.Background(), uuid.New(), nil)
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if raw == nil {
			t.Fatal("no detection at probability 1")
		}
		if raw.Confidence < ConfidenceFloor || raw.Confidence > 1 {
			t.Errorf("confidence %v outside [%v, 1]", raw.Confidence, ConfidenceFloor)
		}
		if raw.Frequency < minFrequencyHz || raw.Frequency > maxFrequencyHz {
			t.Errorf("frequency %v outside plausible range", raw.Frequency)
		}
		if raw.Duration < minDurationMs || raw.Duration >= maxDurationMs {
			t.Errorf("duration %v outside plausible range", raw.Duration)
		}
		if raw.Timestamp <= 0 {
			t.Errorf("timestamp %d not set", raw.Timestamp)
		}
	}
}

func TestProbabilityClamped(t *testing.T) {
	if d := NewStochastic(-0.5, nil); d.probability != 0 {
		t.Errorf("probability = %v, want clamped to 0", d.probability)
	}
	if d := NewStochastic(1.5, nil); d.probability != 1 {
		t.Errorf("probability = %v, want clamped to 1", d.probability)
	}
}
