// Package detector defines the raw-detection port and its stochastic
// implementation. The engine only consumes the output contract; a real
// signal-analysis model and the stub are interchangeable.
package detector

import (
	"context"

	"github.com/google/uuid"

	"github.com/busbell/backend/internal/models"
)

// Audio parameters of the detection model. Kept with the port so payload
// validation and any concrete implementation agree on the contract.
const (
	SampleRate = 22050
	// WindowMs is the analysis window length.
	WindowMs = 1000
	// ConfidenceFloor is the minimum confidence for a detection to be
	// reported at all; the model only triggers above it.
	ConfidenceFloor = 0.9
)

// Detector produces, on demand, either no event (nil, nil) or one raw
// detection for the given audio payload. Implementations may be
// long-running; everything downstream is synchronous and fast.
type Detector interface {
	Detect(ctx context.Context, sessionID uuid.UUID, payload []byte) (*models.RawDetection, error)
}
