// Package ingest validates frame submissions, runs them through the
// classifier, and applies the resulting state transition to the registry.
// Submissions are bursty, unordered, and best-effort: nothing is rejected
// for arriving early or late, and state is last-write-wins in arrival order
// at the registry's critical section.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/proctorwatch/proctor-platform/pkg/broadcast"
	"github.com/proctorwatch/proctor-platform/pkg/classify"
	"github.com/proctorwatch/proctor-platform/pkg/session"
)

// ErrUnknownViolation indicates a client-reported violation of an
// unrecognized kind.
var ErrUnknownViolation = errors.New("unknown violation kind")

// Notifier receives a signal after every committed state change.
type Notifier interface {
	Publish(kind broadcast.Kind)
}

// SubmitResult is the outcome of one frame submission.
type SubmitResult struct {
	// Status is the proctoring status label for this submission. When the
	// classifier failed it is Connection Error while the stored state stays
	// unchanged.
	Status session.StudentStatus `json:"proctoring_status"`

	// Degraded marks a classifier failure. Not a violation; the client
	// retries on its own cadence.
	Degraded bool `json:"degraded,omitempty"`

	// Finished marks a submission for an already-stopped student. The
	// submission is accepted but has no state effect.
	Finished bool `json:"finished,omitempty"`

	// Results carries the frozen final results when Finished is set.
	Results *session.Results `json:"results,omitempty"`
}

// Pipeline drives submissions into the registry.
type Pipeline struct {
	registry   session.Registry
	classifier classify.Classifier
	notifier   Notifier
	clock      func() time.Time
	log        *slog.Logger
}

// NewPipeline creates an ingestion pipeline. notifier may be nil when no
// observers are wired.
func NewPipeline(registry session.Registry, classifier classify.Classifier, notifier Notifier, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		registry:   registry,
		classifier: classifier,
		notifier:   notifier,
		clock:      time.Now,
		log:        log,
	}
}

// Submit processes one frame for a student. Unknown sessions or students
// return the registry's not-found errors without mutating anything; a frame
// for a finished student is an accepted no-op that can never resurrect
// counters.
func (p *Pipeline) Submit(ctx context.Context, sessionID, studentID string, frame classify.Frame) (SubmitResult, error) {
	snap, err := p.registry.Student(sessionID, studentID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("resolving %s/%s: %w", sessionID, studentID, err)
	}

	if snap.Status.Terminal() {
		return SubmitResult{Status: snap.Status, Finished: true, Results: snap.Results}, nil
	}

	// The classifier is the one genuinely slow step; it runs before any
	// lock is taken.
	obs, err := p.classifier.Classify(ctx, frame)
	if err != nil {
		p.log.Warn("classifier failure",
			"session_id", sessionID, "student_id", studentID, "error", err)
		return SubmitResult{Status: session.StatusConnectionError, Degraded: true}, nil
	}

	label := obs.Label()
	score := obs.Score()
	now := p.clock()

	changed, err := p.registry.WithStudent(sessionID, studentID, func(e *session.StudentEntry) bool {
		return e.ApplySample(label, score, now)
	})
	if err != nil {
		// The session or student vanished between resolve and apply.
		return SubmitResult{}, fmt.Errorf("applying sample %s/%s: %w", sessionID, studentID, err)
	}

	if !changed {
		// Lost the race against a concurrent stop; report the stored state.
		cur, err := p.registry.Student(sessionID, studentID)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("rereading %s/%s: %w", sessionID, studentID, err)
		}
		return SubmitResult{Status: cur.Status, Finished: cur.Status.Terminal(), Results: cur.Results}, nil
	}

	if p.notifier != nil {
		p.notifier.Publish(broadcast.KindStatusUpdate)
	}
	return SubmitResult{Status: label}, nil
}

// ReportViolation records a client-side event (mouse leaving the exam page,
// a tab switch). The current status label is returned; violations move
// counters, not status. Reporting against a finished student is a no-op.
func (p *Pipeline) ReportViolation(sessionID, studentID string, kind session.ViolationKind) (session.StudentStatus, error) {
	if !session.ValidViolation(kind) {
		return "", fmt.Errorf("%w: %q", ErrUnknownViolation, kind)
	}

	now := p.clock()
	changed, err := p.registry.WithStudent(sessionID, studentID, func(e *session.StudentEntry) bool {
		return e.ApplyViolation(kind, now)
	})
	if err != nil {
		return "", fmt.Errorf("recording violation %s/%s: %w", sessionID, studentID, err)
	}

	if changed && p.notifier != nil {
		p.notifier.Publish(broadcast.KindStatusUpdate)
	}

	snap, err := p.registry.Student(sessionID, studentID)
	if err != nil {
		return "", fmt.Errorf("rereading %s/%s: %w", sessionID, studentID, err)
	}
	return snap.Status, nil
}
