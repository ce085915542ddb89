package detector

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/busbell/backend/internal/models"
)

// Plausible bell signal ranges for synthetic detections.
const (
	minFrequencyHz = 600.0
	maxFrequencyHz = 1400.0
	minDurationMs  = 80
	maxDurationMs  = 400
)

// Stochastic is a random detector stand-in for the acoustic model. Each
// call reports a bell with the configured probability; confidence is drawn
// from [ConfidenceFloor, 1).
type Stochastic struct {
	mu          sync.Mutex
	rng         *rand.Rand
	probability float64
	logger      *zap.Logger
}

// NewStochastic creates a stochastic detector. probability is the chance
// of a detection per call, clamped to [0, 1].
func NewStochastic(probability float64, logger *zap.Logger) *Stochastic {
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stochastic{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		probability: probability,
		logger:      logger,
	}
}

// Detect ignores the payload and rolls the dice. Returns (nil, nil) when
// no bell is heard.
func (d *Stochastic) Detect(_ context.Context, sessionID uuid.UUID, _ []byte) (*models.RawDetection, error) {
	d.mu.Lock()
	hit := d.rng.Float64() < d.probability
	var conf, freq float64
	var dur int64
	if hit {
		conf = ConfidenceFloor + d.rng.Float64()*(1-ConfidenceFloor)
		freq = minFrequencyHz + d.rng.Float64()*(maxFrequencyHz-minFrequencyHz)
		dur = minDurationMs + d.rng.Int63n(maxDurationMs-minDurationMs)
	}
	d.mu.Unlock()

	if !hit {
		return nil, nil
	}
	raw := &models.RawDetection{
		Timestamp:  time.Now().UnixMilli(),
		Confidence: conf,
		Frequency:  freq,
		Duration:   dur,
	}
	d.logger.Debug("synthetic bell detected",
		zap.String("session_id", sessionID.String()),
		zap.Float64("confidence", raw.Confidence),
		zap.Float64("frequency", raw.Frequency),
	)
	return raw, nil
}
