package session

import "errors"

// Registry errors. Both are returned, never fatal: an unknown session or
// student is an expected outcome for late or misaddressed submissions.
var (
	// ErrNotFound indicates an unknown session identifier.
	ErrNotFound = errors.New("session not found")

	// ErrStudentNotFound indicates an unknown student within a known session.
	ErrStudentNotFound = errors.New("student not found")
)

// Registry owns the mapping of session identifiers to session records. All
// mutation goes through it, and every read it hands out is a copy. Mutation
// is serialized per session; unrelated sessions never block each other.
type Registry interface {
	// Create registers a new session with a generated identifier, seeding a
	// Not Started entry for each pre-registered student.
	Create(meta ExamMeta, studentIDs []string) (string, error)

	// Get returns a snapshot of one session.
	Get(sessionID string) (SessionSnapshot, error)

	// List returns snapshots of all sessions.
	List() []SessionSnapshot

	// Delete removes a session. Deleting an unknown identifier returns
	// ErrNotFound; the call is otherwise idempotent and irreversible.
	Delete(sessionID string) error

	// Attach registers first contact from a student, creating the entry
	// lazily when the session has no roster for it and moving a Not Started
	// entry to Connecting.
	Attach(sessionID, studentID string) (StudentSnapshot, error)

	// Student returns a snapshot of one student entry without mutating it.
	Student(sessionID, studentID string) (StudentSnapshot, error)

	// WithStudent runs fn against the student entry under the session's
	// exclusive section. It is the only mutation path for entries. fn
	// reports whether observable state changed, which is returned so the
	// caller can decide whether a broadcast is required.
	WithStudent(sessionID, studentID string, fn func(*StudentEntry) bool) (bool, error)

	// Close stops background work owned by the registry.
	Close() error
}
