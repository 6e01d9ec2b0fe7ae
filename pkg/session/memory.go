package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// record is the registry-internal session state. Entries are guarded by the
// record's own lock so that load on one session never blocks another.
type record struct {
	mu        sync.Mutex
	id        string
	exam      ExamMeta
	createdAt time.Time
	students  map[string]*StudentEntry
}

// MemoryRegistry implements Registry with an in-memory map. A read-write
// lock guards the session map itself; each session record carries its own
// lock for student mutation.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*record

	clock func() time.Time
	newID func() string
	log   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry(log *slog.Logger) *MemoryRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryRegistry{
		sessions: make(map[string]*record),
		clock:    time.Now,
		newID:    func() string { return uuid.NewString() },
		log:      log,
	}
}

// Create registers a new session with a generated identifier.
func (r *MemoryRegistry) Create(meta ExamMeta, studentIDs []string) (string, error) {
	id := r.newID()
	now := r.clock()

	rec := &record{
		id:        id,
		exam:      meta,
		createdAt: now,
		students:  make(map[string]*StudentEntry, len(studentIDs)),
	}
	for _, sid := range studentIDs {
		if sid == "" {
			continue
		}
		rec.students[sid] = &StudentEntry{StudentID: sid, Status: StatusNotStarted}
	}

	r.mu.Lock()
	r.sessions[id] = rec
	r.mu.Unlock()

	r.log.Info("session created", "session_id", id, "students", len(rec.students))
	return id, nil
}

// Get returns a snapshot of one session.
func (r *MemoryRegistry) Get(sessionID string) (SessionSnapshot, error) {
	rec, err := r.lookup(sessionID)
	if err != nil {
		return SessionSnapshot{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(), nil
}

// List returns snapshots of all sessions.
func (r *MemoryRegistry) List() []SessionSnapshot {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	snaps := make([]SessionSnapshot, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		snaps = append(snaps, rec.snapshot())
		rec.mu.Unlock()
	}
	return snaps
}

// Delete removes a session. Unknown identifiers return ErrNotFound.
func (r *MemoryRegistry) Delete(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, sessionID)
	r.log.Info("session deleted", "session_id", sessionID)
	return nil
}

// Attach registers first contact from a student.
func (r *MemoryRegistry) Attach(sessionID, studentID string) (StudentSnapshot, error) {
	rec, err := r.lookup(sessionID)
	if err != nil {
		return StudentSnapshot{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	entry, ok := rec.students[studentID]
	if !ok {
		entry = &StudentEntry{StudentID: studentID, Status: StatusNotStarted}
		rec.students[studentID] = entry
	}
	if CanTransition(entry.Status, StatusConnecting) {
		entry.Status = StatusConnecting
		entry.LastSeen = r.clock()
	}
	return entry.Snapshot(), nil
}

// Student returns a snapshot of one student entry.
func (r *MemoryRegistry) Student(sessionID, studentID string) (StudentSnapshot, error) {
	rec, err := r.lookup(sessionID)
	if err != nil {
		return StudentSnapshot{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	entry, ok := rec.students[studentID]
	if !ok {
		return StudentSnapshot{}, ErrStudentNotFound
	}
	return entry.Snapshot(), nil
}

// WithStudent runs fn against the student entry under the session's lock.
func (r *MemoryRegistry) WithStudent(sessionID, studentID string, fn func(*StudentEntry) bool) (bool, error) {
	rec, err := r.lookup(sessionID)
	if err != nil {
		return false, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	entry, ok := rec.students[studentID]
	if !ok {
		return false, ErrStudentNotFound
	}
	return fn(entry), nil
}

// StartSweep starts a background goroutine that finds students idle past
// idleAfter and reports them to expire. The callback runs outside all
// registry locks, so it may call back into the registry (typically to stop
// the student). The goroutine is stopped by Close.
func (r *MemoryRegistry) StartSweep(interval, idleAfter time.Duration, expire func(sessionID, studentID string)) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(idleAfter, expire)
			}
		}
	}()
}

// sweep collects idle students under the locks, then expires them outside.
func (r *MemoryRegistry) sweep(idleAfter time.Duration, expire func(sessionID, studentID string)) {
	cutoff := r.clock().Add(-idleAfter)

	type idle struct{ sessionID, studentID string }
	var found []idle

	for _, snap := range r.List() {
		for sid, student := range snap.Students {
			if student.Status.Terminal() || !student.Status.Monitoring() {
				continue
			}
			if student.LastSeen.Before(cutoff) {
				found = append(found, idle{snap.ID, sid})
			}
		}
	}

	for _, f := range found {
		r.log.Info("sweeping idle student", "session_id", f.sessionID, "student_id", f.studentID)
		expire(f.sessionID, f.studentID)
	}
}

// Close stops the sweep goroutine, if one was started.
func (r *MemoryRegistry) Close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	return nil
}

func (r *MemoryRegistry) lookup(sessionID string) (*record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// snapshot copies the record. Caller holds the record lock.
func (rec *record) snapshot() SessionSnapshot {
	students := make(map[string]StudentSnapshot, len(rec.students))
	for id, entry := range rec.students {
		students[id] = entry.Snapshot()
	}
	return SessionSnapshot{
		ID:        rec.id,
		Exam:      rec.exam,
		CreatedAt: rec.createdAt,
		Status:    deriveSessionStatus(students),
		Students:  students,
	}
}

// Verify interface compliance.
var _ Registry = (*MemoryRegistry)(nil)
