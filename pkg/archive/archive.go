// Package archive persists frozen exam results beyond the life of the
// in-memory session registry. The registry stays authoritative while a
// session exists; the archive is what survives a removal or a restart.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/proctorwatch/proctor-platform/pkg/session"
)

// ErrNotArchived indicates no archived result exists for the student.
var ErrNotArchived = errors.New("result not archived")

// Record is one archived per-student result row.
type Record struct {
	SessionID  string          `json:"session_id"`
	StudentID  string          `json:"student_id"`
	Results    session.Results `json:"results"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// Store persists and retrieves archived results. Saving the same student
// twice replaces the earlier row.
type Store interface {
	SaveResult(ctx context.Context, sessionID, studentID string, res session.Results) error
	StudentResult(ctx context.Context, sessionID, studentID string) (Record, error)
	SessionResults(ctx context.Context, sessionID string) ([]Record, error)
	Close() error
}

// Noop is the archive used when no database is configured. Saves succeed
// and vanish, reads find nothing.
type Noop struct{}

func (Noop) SaveResult(context.Context, string, string, session.Results) error { return nil }

func (Noop) StudentResult(context.Context, string, string) (Record, error) {
	return Record{}, ErrNotArchived
}

func (Noop) SessionResults(context.Context, string) ([]Record, error) { return nil, nil }

func (Noop) Close() error { return nil }

var _ Store = Noop{}
