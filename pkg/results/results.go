// Package results computes per-student and per-session rollups from
// registry snapshots. Summaries are pure reads: they can be taken
// mid-session for partial results or after a stop for final ones, and they
// never mutate the underlying entry.
package results

import (
	"fmt"

	"github.com/proctorwatch/proctor-platform/pkg/session"
)

// Compute derives the results for one student snapshot. The attention
// average is defined for zero samples, and the duration is only known once
// both timestamps are set.
func Compute(snap session.StudentSnapshot) session.Results {
	res := session.Results{
		AverageAttentionScore: snap.AverageAttentionScore,
		DistractedCount:       snap.Counters.Distracted,
		NoFaceCount:           snap.Counters.NoFace,
		MultipleFacesCount:    snap.Counters.MultipleFaces,
		DeviceDetectedCount:   snap.Counters.DeviceDetected,
		MouseOutCount:         snap.Counters.MouseOut,
		TabSwitchCount:        snap.Counters.TabSwitch,
		TotalEvents:           snap.Counters.TotalEvents,
	}
	if snap.StartedAt != nil && snap.EndedAt != nil {
		res.SessionDurationSeconds = snap.EndedAt.Sub(*snap.StartedAt).Seconds()
	}
	return res
}

// SessionSummary is the rollup across every student in a session.
type SessionSummary struct {
	SessionID             string                     `json:"session_id"`
	Status                session.SessionStatus      `json:"status"`
	Students              int                        `json:"students"`
	AverageAttentionScore float64                    `json:"average_attention_score"`
	TotalViolations       int                        `json:"total_violations"`
	TotalEvents           int                        `json:"total_events"`
	PerStudent            map[string]session.Results `json:"per_student"`
}

// Aggregator reads snapshots from the registry and assembles results.
type Aggregator struct {
	registry session.Registry
}

// NewAggregator creates an aggregator over a registry.
func NewAggregator(registry session.Registry) *Aggregator {
	return &Aggregator{registry: registry}
}

// Summarize returns the results for one student. Once the student has been
// stopped the frozen final results are returned; before that a partial
// summary is computed from the live entry.
func (a *Aggregator) Summarize(sessionID, studentID string) (session.Results, error) {
	snap, err := a.registry.Student(sessionID, studentID)
	if err != nil {
		return session.Results{}, fmt.Errorf("summarize %s/%s: %w", sessionID, studentID, err)
	}
	if snap.Results != nil {
		return *snap.Results, nil
	}
	return Compute(snap), nil
}

// SummarizeSession returns the rollup for every student in a session.
func (a *Aggregator) SummarizeSession(sessionID string) (SessionSummary, error) {
	snap, err := a.registry.Get(sessionID)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("summarize session %s: %w", sessionID, err)
	}

	summary := SessionSummary{
		SessionID:  snap.ID,
		Status:     snap.Status,
		Students:   len(snap.Students),
		PerStudent: make(map[string]session.Results, len(snap.Students)),
	}

	var scoreSum float64
	var samples int
	for id, student := range snap.Students {
		res := Compute(student)
		if student.Results != nil {
			res = *student.Results
		}
		summary.PerStudent[id] = res
		summary.TotalViolations += student.Counters.Violations()
		summary.TotalEvents += res.TotalEvents
		scoreSum += student.ScoreSum
		samples += student.Samples
	}
	if samples > 0 {
		summary.AverageAttentionScore = scoreSum / float64(samples)
	}
	return summary, nil
}
