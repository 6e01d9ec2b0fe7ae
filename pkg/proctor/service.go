// Package proctor coordinates the lifecycle of exam sessions: starting a
// session with its roster, attaching students, stopping them with frozen
// results, and removing sessions. Ingestion lives in pkg/ingest; this
// package owns the state transitions around it.
package proctor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/proctorwatch/proctor-platform/pkg/broadcast"
	"github.com/proctorwatch/proctor-platform/pkg/results"
	"github.com/proctorwatch/proctor-platform/pkg/session"
)

// Archiver persists frozen per-student results to durable storage. A nil
// archiver disables archival.
type Archiver interface {
	SaveResult(ctx context.Context, sessionID, studentID string, res session.Results) error
}

// Notifier receives a kick whenever observable session state changed.
type Notifier interface {
	Publish(kind broadcast.Kind)
}

// Service coordinates session lifecycle operations.
type Service struct {
	registry session.Registry
	archive  Archiver
	notifier Notifier
	clock    func() time.Time
	log      *slog.Logger
}

// NewService creates a lifecycle service. archive and notifier may be nil.
func NewService(registry session.Registry, archive Archiver, notifier Notifier, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		registry: registry,
		archive:  archive,
		notifier: notifier,
		clock:    time.Now,
		log:      log,
	}
}

// Start creates a session with the given exam details and roster and
// announces it to observers.
func (s *Service) Start(meta session.ExamMeta, studentIDs []string) (session.SessionSnapshot, error) {
	id, err := s.registry.Create(meta, studentIDs)
	if err != nil {
		return session.SessionSnapshot{}, fmt.Errorf("creating session: %w", err)
	}

	snap, err := s.registry.Get(id)
	if err != nil {
		return session.SessionSnapshot{}, fmt.Errorf("reading created session: %w", err)
	}

	s.publish(broadcast.KindStatusUpdate)
	s.log.Info("session started",
		"session_id", id,
		"exam", meta.Title,
		"students", len(snap.Students))
	return snap, nil
}

// Attach registers a student's client against a session, creating the entry
// lazily if the student was not on the roster at creation time.
func (s *Service) Attach(sessionID, studentID string) (session.StudentSnapshot, error) {
	snap, err := s.registry.Attach(sessionID, studentID)
	if err != nil {
		return session.StudentSnapshot{}, fmt.Errorf("attaching student %s: %w", studentID, err)
	}
	s.publish(broadcast.KindStatusUpdate)
	return snap, nil
}

// StopStudent finishes a student's exam and freezes their results. The first
// call computes the results, archives them, and notifies observers; every
// later call returns the same frozen results without side effects.
func (s *Service) StopStudent(ctx context.Context, sessionID, studentID string) (session.Results, error) {
	var frozen session.Results
	changed, err := s.registry.WithStudent(sessionID, studentID, func(e *session.StudentEntry) bool {
		if e.Final != nil {
			frozen = *e.Final
			return false
		}
		e.Finish(s.clock())
		res := results.Compute(e.Snapshot())
		e.Final = &res
		frozen = res
		return true
	})
	if err != nil {
		return session.Results{}, fmt.Errorf("stopping student %s: %w", studentID, err)
	}
	if !changed {
		return frozen, nil
	}

	if s.archive != nil {
		if err := s.archive.SaveResult(ctx, sessionID, studentID, frozen); err != nil {
			// Archival is best effort; the in-memory results stay
			// authoritative for the life of the session.
			s.log.Error("archiving student results",
				"session_id", sessionID,
				"student_id", studentID,
				"error", err)
		}
	}

	s.publish(broadcast.KindStatusUpdate)
	s.log.Info("student stopped",
		"session_id", sessionID,
		"student_id", studentID,
		"average_attention", frozen.AverageAttentionScore,
		"total_events", frozen.TotalEvents)
	return frozen, nil
}

// StopSession stops every student in the session that is not already
// finished. Students that never started are finished with empty results.
func (s *Service) StopSession(ctx context.Context, sessionID string) error {
	snap, err := s.registry.Get(sessionID)
	if err != nil {
		return fmt.Errorf("stopping session %s: %w", sessionID, err)
	}
	for studentID := range snap.Students {
		if _, err := s.StopStudent(ctx, sessionID, studentID); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a session and tells observers it is gone. Removing an
// unknown session is not an error.
func (s *Service) Remove(sessionID string) error {
	if err := s.registry.Delete(sessionID); err != nil {
		return fmt.Errorf("removing session %s: %w", sessionID, err)
	}
	s.publish(broadcast.KindSessionRemoved)
	s.log.Info("session removed", "session_id", sessionID)
	return nil
}

// ExpireIdle is the registry sweep callback. A student whose client went
// silent past the idle deadline is stopped the same way a proctor would
// stop them.
func (s *Service) ExpireIdle(sessionID, studentID string) {
	s.log.Info("expiring idle student", "session_id", sessionID, "student_id", studentID)
	if _, err := s.StopStudent(context.Background(), sessionID, studentID); err != nil {
		s.log.Warn("expiring idle student failed",
			"session_id", sessionID,
			"student_id", studentID,
			"error", err)
	}
}

func (s *Service) publish(kind broadcast.Kind) {
	if s.notifier != nil {
		s.notifier.Publish(kind)
	}
}
