// Package session provides the in-memory registry of proctored exam
// sessions. It defines the Registry interface for session coordination and
// the per-student state machine that ingestion drives. All state lives in
// process memory; a restart loses live sessions, and durability is layered
// on by callers that need it (see pkg/archive).
package session

import (
	"time"
)

// StudentStatus is the current proctoring state of a student within a
// session. Monitoring states are mutually exclusive labels that may freely
// replace one another sample to sample; Finished is terminal.
type StudentStatus string

// Student proctoring states.
const (
	StatusNotStarted      StudentStatus = "Not Started"
	StatusConnecting      StudentStatus = "Connecting"
	StatusFocused         StudentStatus = "Focused"
	StatusDistracted      StudentStatus = "Distracted"
	StatusNoFace          StudentStatus = "No Face Detected"
	StatusMultipleFaces   StudentStatus = "Multiple Faces Detected"
	StatusDeviceDetected  StudentStatus = "Device Detected"
	StatusConnectionError StudentStatus = "Connection Error"
	StatusFinished        StudentStatus = "Finished"
)

// Terminal reports whether the status admits no further transitions.
func (s StudentStatus) Terminal() bool {
	return s == StatusFinished
}

// Monitoring reports whether the status is an active classification label,
// i.e. the student is being observed.
func (s StudentStatus) Monitoring() bool {
	switch s {
	case StatusFocused, StatusDistracted, StatusNoFace, StatusMultipleFaces, StatusDeviceDetected:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving from one
// status to another. ConnectionError is a per-submission outcome label, never
// a stored state, so it is not a valid target here.
func CanTransition(from, to StudentStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusFinished:
		return true
	case StatusConnecting:
		return from == StatusNotStarted
	case StatusNotStarted, StatusConnectionError:
		return false
	}
	// Monitoring targets are reachable from anything non-terminal.
	return to.Monitoring()
}

// SessionStatus is the overall state of a session, derived from its
// students.
type SessionStatus string

// Session states.
const (
	SessionScheduled SessionStatus = "Scheduled"
	SessionLive      SessionStatus = "Live"
	SessionFinished  SessionStatus = "Finished"
)

// ViolationKind identifies a client-reported violation event. These arrive
// from the exam page itself rather than from frame analysis.
type ViolationKind string

// Client-reported violation kinds.
const (
	ViolationMouseOut  ViolationKind = "mouse_out"
	ViolationTabSwitch ViolationKind = "tab_switch"
)

// ValidViolation reports whether kind is a known client-reported violation.
func ValidViolation(kind ViolationKind) bool {
	return kind == ViolationMouseOut || kind == ViolationTabSwitch
}

// Counters holds the cumulative violation tallies for one student. Each
// field counts accepted events classified into that state, not time spent
// in it. Counters never decrease.
type Counters struct {
	Distracted     int `json:"distracted_count"`
	NoFace         int `json:"no_face_count"`
	MultipleFaces  int `json:"multiple_faces_count"`
	DeviceDetected int `json:"device_detected_count"`
	MouseOut       int `json:"mouse_out_count"`
	TabSwitch      int `json:"tab_switch_count"`

	// TotalEvents counts every accepted event for the student: classified
	// frame samples and client-reported violations alike.
	TotalEvents int `json:"total_events"`
}

// recordSample bumps the tally matching a classified status and the total.
func (c *Counters) recordSample(status StudentStatus) {
	switch status {
	case StatusDistracted:
		c.Distracted++
	case StatusNoFace:
		c.NoFace++
	case StatusMultipleFaces:
		c.MultipleFaces++
	case StatusDeviceDetected:
		c.DeviceDetected++
	}
	c.TotalEvents++
}

// recordViolation bumps the tally for a client-reported violation and the
// total.
func (c *Counters) recordViolation(kind ViolationKind) {
	switch kind {
	case ViolationMouseOut:
		c.MouseOut++
	case ViolationTabSwitch:
		c.TabSwitch++
	}
	c.TotalEvents++
}

// Violations returns the sum of the individual violation tallies, excluding
// focused samples.
func (c Counters) Violations() int {
	return c.Distracted + c.NoFace + c.MultipleFaces + c.DeviceDetected + c.MouseOut + c.TabSwitch
}

// Results is the aggregated outcome for one student: the rolling attention
// average, the cumulative counters, and the session duration once both
// timestamps are known. Results are computed on demand mid-session and
// frozen onto the student entry when the student is stopped.
type Results struct {
	AverageAttentionScore  float64 `json:"average_attention_score"`
	DistractedCount        int     `json:"distracted_count"`
	NoFaceCount            int     `json:"no_face_count"`
	MultipleFacesCount     int     `json:"multiple_faces_count"`
	DeviceDetectedCount    int     `json:"device_detected_count"`
	MouseOutCount          int     `json:"mouse_out_count"`
	TabSwitchCount         int     `json:"tab_switch_count"`
	TotalEvents            int     `json:"total_events"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

// ExamMeta describes the exam a session is bound to. The form link points at
// the externally rendered test form; this service never fetches it.
type ExamMeta struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	FormLink    string `json:"form_link,omitempty"`
}

// StudentEntry is the mutable per-student record inside a session. It is
// only ever touched under the owning session's lock, via
// Registry.WithStudent; everything handed outside the registry is a
// Snapshot copy.
type StudentEntry struct {
	StudentID string
	Status    StudentStatus
	StartedAt *time.Time
	EndedAt   *time.Time
	Counters  Counters

	// ScoreSum and Samples form the rolling attention accumulator; the
	// average is derived on read.
	ScoreSum float64
	Samples  int

	LastSeen time.Time

	// Final holds the frozen results once the student is stopped.
	Final *Results
}

// ApplySample applies one accepted classification to the entry. It reports
// whether observable state changed. A terminal entry is left untouched, and
// Finished is never a valid sample target.
func (e *StudentEntry) ApplySample(to StudentStatus, score float64, now time.Time) bool {
	if to == StatusFinished || !CanTransition(e.Status, to) {
		return false
	}
	if e.StartedAt == nil && to.Monitoring() {
		started := now
		e.StartedAt = &started
	}
	e.Status = to
	e.Counters.recordSample(to)
	e.ScoreSum += score
	e.Samples++
	e.LastSeen = now
	return true
}

// ApplyViolation records a client-reported violation. The current status is
// unchanged; only counters move. Terminal entries are left untouched.
func (e *StudentEntry) ApplyViolation(kind ViolationKind, now time.Time) bool {
	if e.Status.Terminal() || !ValidViolation(kind) {
		return false
	}
	e.Counters.recordViolation(kind)
	e.LastSeen = now
	return true
}

// Finish transitions the entry to Finished and sets ended_at once. It
// reports whether the entry changed; a second call is a no-op.
func (e *StudentEntry) Finish(now time.Time) bool {
	if e.Status.Terminal() {
		return false
	}
	e.Status = StatusFinished
	ended := now
	e.EndedAt = &ended
	return true
}

// AverageAttention derives the rolling attention average. It is defined for
// zero samples.
func (e *StudentEntry) AverageAttention() float64 {
	if e.Samples == 0 {
		return 0
	}
	return e.ScoreSum / float64(e.Samples)
}

// Snapshot returns a consistent copy of the entry.
func (e *StudentEntry) Snapshot() StudentSnapshot {
	snap := StudentSnapshot{
		StudentID:             e.StudentID,
		Status:                e.Status,
		Counters:              e.Counters,
		ScoreSum:              e.ScoreSum,
		Samples:               e.Samples,
		AverageAttentionScore: e.AverageAttention(),
		LastSeen:              e.LastSeen,
	}
	if e.StartedAt != nil {
		started := *e.StartedAt
		snap.StartedAt = &started
	}
	if e.EndedAt != nil {
		ended := *e.EndedAt
		snap.EndedAt = &ended
	}
	if e.Final != nil {
		final := *e.Final
		snap.Results = &final
	}
	return snap
}

// StudentSnapshot is a point-in-time copy of a student entry, safe to hand
// to observers and API callers while ingestion keeps mutating the original.
type StudentSnapshot struct {
	StudentID             string        `json:"student_id"`
	Status                StudentStatus `json:"status"`
	StartedAt             *time.Time    `json:"started_at,omitempty"`
	EndedAt               *time.Time    `json:"ended_at,omitempty"`
	Counters              Counters      `json:"counters"`
	ScoreSum              float64       `json:"attention_score_sum"`
	Samples               int           `json:"sample_count"`
	AverageAttentionScore float64       `json:"average_attention_score"`
	LastSeen              time.Time     `json:"last_seen,omitzero"`
	Results               *Results      `json:"results,omitempty"`
}

// SessionSnapshot is a point-in-time copy of a session and all its student
// entries.
type SessionSnapshot struct {
	ID        string                     `json:"session_id"`
	Exam      ExamMeta                   `json:"exam"`
	CreatedAt time.Time                  `json:"created_at"`
	Status    SessionStatus              `json:"status"`
	Students  map[string]StudentSnapshot `json:"students"`
}

// deriveSessionStatus rolls student states up into the session state:
// Scheduled until a student starts, Live while any started student is still
// being monitored, Finished once every started student has been stopped.
func deriveSessionStatus(students map[string]StudentSnapshot) SessionStatus {
	started := 0
	unfinished := 0
	for _, s := range students {
		if s.StartedAt == nil {
			continue
		}
		started++
		if !s.Status.Terminal() {
			unfinished++
		}
	}
	switch {
	case started == 0:
		return SessionScheduled
	case unfinished > 0:
		return SessionLive
	default:
		return SessionFinished
	}
}
