// Package postgres provides PostgreSQL storage for archived exam results.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/proctorwatch/proctor-platform/pkg/archive"
	"github.com/proctorwatch/proctor-platform/pkg/session"
)

const resultsTable = "student_results"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// resultColumns lists columns in insert and scan order.
var resultColumns = []string{
	"session_id", "student_id",
	"average_attention_score",
	"distracted_count", "no_face_count", "multiple_faces_count",
	"device_detected_count", "mouse_out_count", "tab_switch_count",
	"total_events", "session_duration_seconds",
	"archived_at",
}

// Store implements archive.Store using PostgreSQL.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// New creates a PostgreSQL archive store. The caller owns the *sql.DB and
// runs migrations before handing it over.
func New(db *sql.DB) *Store {
	return &Store{
		db:    db,
		clock: time.Now,
	}
}

// SaveResult upserts the frozen results for one student. Re-stopping a
// student replaces the earlier row.
func (s *Store) SaveResult(ctx context.Context, sessionID, studentID string, res session.Results) error {
	qb := psq.Insert(resultsTable).
		Columns(resultColumns...).
		Values(
			sessionID, studentID,
			res.AverageAttentionScore,
			res.DistractedCount, res.NoFaceCount, res.MultipleFacesCount,
			res.DeviceDetectedCount, res.MouseOutCount, res.TabSwitchCount,
			res.TotalEvents, res.SessionDurationSeconds,
			s.clock().UTC(),
		).
		Suffix(`ON CONFLICT (session_id, student_id) DO UPDATE SET
			average_attention_score = EXCLUDED.average_attention_score,
			distracted_count = EXCLUDED.distracted_count,
			no_face_count = EXCLUDED.no_face_count,
			multiple_faces_count = EXCLUDED.multiple_faces_count,
			device_detected_count = EXCLUDED.device_detected_count,
			mouse_out_count = EXCLUDED.mouse_out_count,
			tab_switch_count = EXCLUDED.tab_switch_count,
			total_events = EXCLUDED.total_events,
			session_duration_seconds = EXCLUDED.session_duration_seconds,
			archived_at = EXCLUDED.archived_at`)

	query, args, err := qb.ToSql()
	if err != nil {
		return fmt.Errorf("building results upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting student results: %w", err)
	}
	return nil
}

// StudentResult retrieves the archived results for one student.
func (s *Store) StudentResult(ctx context.Context, sessionID, studentID string) (archive.Record, error) {
	qb := psq.Select(resultColumns...).
		From(resultsTable).
		Where(sq.Eq{"session_id": sessionID, "student_id": studentID})

	query, args, err := qb.ToSql()
	if err != nil {
		return archive.Record{}, fmt.Errorf("building result query: %w", err)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Record{}, archive.ErrNotArchived
	}
	if err != nil {
		return archive.Record{}, fmt.Errorf("querying student result: %w", err)
	}
	return rec, nil
}

// SessionResults retrieves every archived result for a session, ordered by
// student.
func (s *Store) SessionResults(ctx context.Context, sessionID string) ([]archive.Record, error) {
	qb := psq.Select(resultColumns...).
		From(resultsTable).
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("student_id")

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session results query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying session results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []archive.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return records, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (archive.Record, error) {
	var rec archive.Record
	err := row.Scan(
		&rec.SessionID,
		&rec.StudentID,
		&rec.Results.AverageAttentionScore,
		&rec.Results.DistractedCount,
		&rec.Results.NoFaceCount,
		&rec.Results.MultipleFacesCount,
		&rec.Results.DeviceDetectedCount,
		&rec.Results.MouseOutCount,
		&rec.Results.TabSwitchCount,
		&rec.Results.TotalEvents,
		&rec.Results.SessionDurationSeconds,
		&rec.ArchivedAt,
	)
	return rec, err
}

var _ archive.Store = (*Store)(nil)
