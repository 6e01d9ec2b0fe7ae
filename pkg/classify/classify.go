// Package classify defines the boundary to the external frame classifier.
// The classifier turns one webcam frame into an observation (face count,
// device flag, attention score); this package also derives the proctoring
// status label from an observation. The model itself lives in a separate
// analyzer service and is called synchronously per submission.
package classify

import (
	"context"
	"time"

	"github.com/proctorwatch/proctor-platform/pkg/session"
)

// Attention score thresholds, matching the analyzer's scoring scale of
// 0-100.
const (
	// FocusedThreshold is the minimum attention score for a Focused label.
	FocusedThreshold = 70.0

	// MaxScore caps the attention score.
	MaxScore = 100.0
)

// Frame is one submitted webcam capture. Data holds the raw image bytes;
// the transport layer handles any base64 framing.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Observation is the classifier's verdict on a single frame.
type Observation struct {
	FaceCount      int     `json:"num_faces"`
	DeviceDetected bool    `json:"device_detected"`
	GazeOffCenter  bool    `json:"gaze_off_center"`
	AttentionScore float64 `json:"attention_score"`
}

// Label derives the proctoring status from the observation. Anomalies take
// precedence over the attention score: a missing or extra face, or a
// detected device, is reported regardless of how attentive the score says
// the student is.
func (o Observation) Label() session.StudentStatus {
	switch {
	case o.FaceCount == 0:
		return session.StatusNoFace
	case o.FaceCount > 1:
		return session.StatusMultipleFaces
	case o.DeviceDetected:
		return session.StatusDeviceDetected
	case o.Score() >= FocusedThreshold && !o.GazeOffCenter:
		return session.StatusFocused
	default:
		return session.StatusDistracted
	}
}

// Score returns the attention score clamped to [0, MaxScore].
func (o Observation) Score() float64 {
	switch {
	case o.AttentionScore < 0:
		return 0
	case o.AttentionScore > MaxScore:
		return MaxScore
	default:
		return o.AttentionScore
	}
}

// Classifier classifies a single frame. Implementations may fail or time
// out; callers degrade to a connection-error outcome rather than counting a
// violation.
type Classifier interface {
	Classify(ctx context.Context, frame Frame) (Observation, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, frame Frame) (Observation, error)

// Classify implements Classifier.
func (f Func) Classify(ctx context.Context, frame Frame) (Observation, error) {
	return f(ctx, frame)
}
