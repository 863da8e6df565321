package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/droneai/review-agent/internal/session"
)

type Repository interface {
	GetOrCreateVideo(ctx context.Context, key session.Key) (*Video, error)

	UpsertSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*session.Session, error)
	LatestSessionByKey(ctx context.Context, key session.Key) (*session.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status session.Status, errorMsg string) error
	UpdateProgress(ctx context.Context, id string, lastFrame int, position float64) error

	SaveSnapshot(ctx context.Context, snap session.Snapshot, status session.Status) error
	LoadSnapshot(ctx context.Context, id string) (*session.Snapshot, error)

	ReplaceReport(ctx context.Context, sessionID string, rows []session.ReportRow) error
	ListReport(ctx context.Context, sessionID string) ([]session.ReportRow, error)

	AddInference(ctx context.Context, inf *Inference) error
	LatestInference(ctx context.Context, videoID string) (*Inference, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SQLiteRepository) stamp() string {
	return r.now().Format(time.RFC3339)
}

func (r *SQLiteRepository) GetOrCreateVideo(ctx context.Context, key session.Key) (*Video, error) {
	v := &Video{ID: uuid.NewString(), Key: key, CreatedAt: r.now()}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO videos (id, subject, scenario, source_ref, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(subject, scenario, source_ref) DO NOTHING
	`, v.ID, key.Subject, key.Scenario, key.SourceRef, v.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}

	var createdAt string
	err = r.db.QueryRowContext(ctx, `
		SELECT id, created_at FROM videos WHERE subject = ? AND scenario = ? AND source_ref = ?
	`, key.Subject, key.Scenario, key.SourceRef).Scan(&v.ID, &createdAt)
	if err != nil {
		return nil, err
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return v, nil
}

// UpsertSession writes the session header row. Events, chunks and the
// snapshot payload are written by SaveSnapshot.
func (r *SQLiteRepository) UpsertSession(ctx context.Context, s *session.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now()
	}
	s.UpdatedAt = r.now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, video_id, subject, scenario, source_ref, video_path, mode, status,
			last_frame, position, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			video_id = excluded.video_id,
			video_path = excluded.video_path,
			status = excluded.status,
			last_frame = excluded.last_frame,
			position = excluded.position,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, s.ID, nullString(s.VideoID), s.Key.Subject, s.Key.Scenario, s.Key.SourceRef, s.VideoPath,
		string(s.Mode), string(s.Status), s.LastFrame, s.Position, nullString(s.Error),
		s.CreatedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339))
	return err
}

const sessionColumns = `id, video_id, subject, scenario, source_ref, video_path, mode, status,
	last_frame, position, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var s session.Session
	var videoID, errMsg sql.NullString
	var mode, status, createdAt, updatedAt string

	err := row.Scan(&s.ID, &videoID, &s.Key.Subject, &s.Key.Scenario, &s.Key.SourceRef, &s.VideoPath,
		&mode, &status, &s.LastFrame, &s.Position, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.VideoID = videoID.String
	s.Error = errMsg.String
	s.Mode = session.Mode(mode)
	s.Status = session.Status(status)
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

// GetSession returns the header row merged with the latest snapshot's
// configuration and the stored events and chunks.
func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, r.hydrate(ctx, s)
}

func (r *SQLiteRepository) hydrate(ctx context.Context, s *session.Session) error {
	snap, err := r.LoadSnapshot(ctx, s.ID)
	if err != nil {
		return err
	}
	if snap != nil {
		s.Labels = snap.Labels
		s.Capture = snap.Capture
		s.Window = snap.Window
		s.DeleteSource = snap.DeleteSource
		s.KeepMetadata = snap.KeepMetadata
		s.ActiveLabel = snap.ActiveLabel
	}
	if s.Events, err = r.listEvents(ctx, s.ID); err != nil {
		return err
	}
	s.Chunks, err = r.listChunks(ctx, s.ID)
	return err
}

func (r *SQLiteRepository) listEvents(ctx context.Context, sessionID string) ([]session.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, type, time_sec FROM events WHERE session_id = ? ORDER BY idx
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []session.Event{}
	for rows.Next() {
		var e session.Event
		if err := rows.Scan(&e.Index, &e.Type, &e.Time); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *SQLiteRepository) listChunks(ctx context.Context, sessionID string) ([]session.LabelChunk, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT start_frame, end_frame, label FROM chunks WHERE session_id = ? ORDER BY start_frame
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []session.LabelChunk{}
	for rows.Next() {
		var c session.LabelChunk
		if err := rows.Scan(&c.Start, &c.End, &c.Label); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ListSessions returns header rows only, newest first. limit <= 0 means 100.
func (r *SQLiteRepository) ListSessions(ctx context.Context, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SQLiteRepository) LatestSessionByKey(ctx context.Context, key session.Key) (*session.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE subject = ? AND scenario = ? AND source_ref = ?
		ORDER BY updated_at DESC, rowid DESC LIMIT 1
	`, key.Subject, key.Scenario, key.SourceRef)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, r.hydrate(ctx, s)
}

func (r *SQLiteRepository) UpdateSessionStatus(ctx context.Context, id string, status session.Status, errorMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(status), nullString(errorMsg), r.stamp(), id)
	return affected(res, err)
}

// UpdateProgress checkpoints the playback position without touching the
// snapshot.
func (r *SQLiteRepository) UpdateProgress(ctx context.Context, id string, lastFrame int, position float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_frame = ?, position = ?, updated_at = ? WHERE id = ?
	`, lastFrame, position, r.stamp(), id)
	return affected(res, err)
}

// SaveSnapshot stores the payload and replaces the session's event and
// chunk rows in one transaction.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, snap session.Snapshot, status session.Status) error {
	payload, err := snap.Marshal()
	if err != nil {
		return err
	}
	now := r.stamp()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, last_frame = ?, position = ?, video_path = ?, updated_at = ?
		WHERE id = ?
	`, string(status), snap.LastFrame, snap.Position, snap.VideoPath, now, snap.SessionID)
	if err := affected(res, err); err != nil {
		return fmt.Errorf("session %s: %w", snap.SessionID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, payload, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at
	`, snap.SessionID, string(payload), now); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, snap.SessionID); err != nil {
		return err
	}
	for _, e := range snap.Events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (session_id, idx, type, time_sec) VALUES (?, ?, ?, ?)
		`, snap.SessionID, e.Index, e.Type, e.Time); err != nil {
			return fmt.Errorf("insert event %d: %w", e.Index, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE session_id = ?`, snap.SessionID); err != nil {
		return err
	}
	for _, c := range snap.Chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (session_id, start_frame, end_frame, label) VALUES (?, ?, ?, ?)
		`, snap.SessionID, c.Start, c.End, c.Label); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Start, err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) LoadSnapshot(ctx context.Context, id string) (*session.Snapshot, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE session_id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session.UnmarshalSnapshot([]byte(payload))
}

func (r *SQLiteRepository) ReplaceReport(ctx context.Context, sessionID string, rows []session.ReportRow) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM report_rows WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	for _, row := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO report_rows (session_id, idx, type, time_sec, start_frame, end_frame, start_sec, end_sec,
				clip_file, model_label, confidence, significant, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sessionID, row.Index, row.Type, row.Time, row.StartFrame, row.EndFrame, row.StartSec, row.EndSec,
			row.ClipFile, nullString(row.ModelLabel), row.Confidence, boolToInt(row.Significant), nullString(row.Error))
		if err != nil {
			return fmt.Errorf("insert report row %d: %w", row.Index, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ListReport(ctx context.Context, sessionID string) ([]session.ReportRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, type, time_sec, start_frame, end_frame, start_sec, end_sec,
			clip_file, model_label, confidence, significant, error
		FROM report_rows WHERE session_id = ? ORDER BY idx
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []session.ReportRow{}
	for rows.Next() {
		row := session.ReportRow{SessionID: sessionID}
		var modelLabel, errMsg sql.NullString
		var confidence sql.NullFloat64
		var significant int
		if err := rows.Scan(&row.Index, &row.Type, &row.Time, &row.StartFrame, &row.EndFrame, &row.StartSec,
			&row.EndSec, &row.ClipFile, &modelLabel, &confidence, &significant, &errMsg); err != nil {
			return nil, err
		}
		row.ModelLabel = modelLabel.String
		row.Confidence = confidence.Float64
		row.Significant = significant == 1
		row.Error = errMsg.String
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) AddInference(ctx context.Context, inf *Inference) error {
	if inf.CreatedAt.IsZero() {
		inf.CreatedAt = r.now()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO inference_results (video_id, event_count, events_per_min, duration_sec, video_path,
			model_weights, sample_fps, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inf.VideoID, inf.EventCount, inf.EventsPerMin, inf.DurationSec, nullString(inf.VideoPath),
		nullString(inf.ModelWeights), inf.SampleFPS, inf.Confidence, inf.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}
	inf.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) LatestInference(ctx context.Context, videoID string) (*Inference, error) {
	var inf Inference
	var eventCount sql.NullInt64
	var perMin, duration, sampleFPS, confidence sql.NullFloat64
	var videoPath, weights sql.NullString
	var createdAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, video_id, event_count, events_per_min, duration_sec, video_path, model_weights,
			sample_fps, confidence, created_at
		FROM inference_results WHERE video_id = ? ORDER BY id DESC LIMIT 1
	`, videoID).Scan(&inf.ID, &inf.VideoID, &eventCount, &perMin, &duration, &videoPath, &weights,
		&sampleFPS, &confidence, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inf.EventCount = int(eventCount.Int64)
	inf.EventsPerMin = perMin.Float64
	inf.DurationSec = duration.Float64
	inf.VideoPath = videoPath.String
	inf.ModelWeights = weights.String
	inf.SampleFPS = sampleFPS.Float64
	inf.Confidence = confidence.Float64
	inf.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &inf, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
