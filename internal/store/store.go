package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/headpose/internal/pose"
	"github.com/andresmejia3/headpose/internal/timeline"
	"github.com/andresmejia3/headpose/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection for recorded pose sessions.
type Store struct {
	conn *pgx.Conn
}

// Session is one run of the pipeline over a source.
type Session struct {
	ID         uuid.UUID
	VideoID    string // empty for live sources
	Source     string
	StartedAt  time.Time // recording start, zero when unknown
	FPS        float64
	FrameCount int
	Thresholds pose.Thresholds
	CreatedAt  time.Time
}

// SessionInfo is a Session with its recorded totals.
type SessionInfo struct {
	Session
	Samples   int
	Intervals int
}

// DirectionCount is how many samples of a session carry a direction.
type DirectionCount struct {
	Direction types.Direction
	Samples   int
	MeanPitch float64
	MeanYaw   float64
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS pose_sessions (
			id UUID PRIMARY KEY,
			video_id TEXT REFERENCES video_metadata(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			started_at TIMESTAMPTZ,
			fps DOUBLE PRECISION NOT NULL,
			frame_count INT NOT NULL,
			thresholds JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS pose_samples (
			session_id UUID REFERENCES pose_sessions(id) ON DELETE CASCADE,
			frame_index INT NOT NULL,
			offset_seconds DOUBLE PRECISION NOT NULL,
			video_time TIMESTAMPTZ,
			pitch DOUBLE PRECISION NOT NULL,
			yaw DOUBLE PRECISION NOT NULL,
			roll DOUBLE PRECISION NOT NULL,
			direction TEXT NOT NULL,
			PRIMARY KEY (session_id, frame_index)
		);
		CREATE TABLE IF NOT EXISTS direction_intervals (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID REFERENCES pose_sessions(id) ON DELETE CASCADE,
			direction TEXT NOT NULL,
			start_frame INT NOT NULL,
			end_frame INT NOT NULL,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			frames INT NOT NULL,
			mean_pitch DOUBLE PRECISION NOT NULL,
			mean_yaw DOUBLE PRECISION NOT NULL
		);
		CREATE INDEX IF NOT EXISTS direction_intervals_session_id_idx ON direction_intervals (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the timestamp.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO video_metadata (id, path, indexed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path
	`, videoID, path)
	return err
}

// CreateSession stores sess, assigning a new id when it has none.
func (s *Store) CreateSession(ctx context.Context, sess Session) (uuid.UUID, error) {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	thresholds, err := json.Marshal(sess.Thresholds)
	if err != nil {
		return uuid.Nil, err
	}

	var videoID *string
	if sess.VideoID != "" {
		videoID = &sess.VideoID
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO pose_sessions (id, video_id, source, started_at, fps, frame_count, thresholds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sess.ID, videoID, sess.Source, timestamptz(sess.StartedAt), sess.FPS, sess.FrameCount, thresholds)
	if err != nil {
		return uuid.Nil, err
	}
	return sess.ID, nil
}

// InsertSamples bulk-loads samples with COPY.
func (s *Store) InsertSamples(ctx context.Context, sessionID uuid.UUID, samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	_, err := s.conn.CopyFrom(ctx,
		pgx.Identifier{"pose_samples"},
		[]string{"session_id", "frame_index", "offset_seconds", "video_time", "pitch", "yaw", "roll", "direction"},
		pgx.CopyFromSlice(len(samples), func(i int) ([]any, error) {
			sm := samples[i]
			return []any{sessionID, sm.FrameIndex, sm.Offset, timestamptz(sm.VideoTime), sm.Pitch, sm.Yaw, sm.Roll, string(sm.Direction)}, nil
		}),
	)
	return err
}

// InsertInterval saves a merged direction interval to the database.
func (s *Store) InsertInterval(ctx context.Context, sessionID uuid.UUID, iv timeline.Interval) error {
	_, err := s.conn.Exec(ctx, insertIntervalSQL, intervalArgs(sessionID, iv)...)
	return err
}

// InsertIntervals saves intervals in a single batch.
func (s *Store) InsertIntervals(ctx context.Context, sessionID uuid.UUID, intervals []timeline.Interval) error {
	if len(intervals) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, iv := range intervals {
		batch.Queue(insertIntervalSQL, intervalArgs(sessionID, iv)...)
	}
	return s.conn.SendBatch(ctx, batch).Close()
}

const insertIntervalSQL = `
	INSERT INTO direction_intervals (session_id, direction, start_frame, end_frame, start_time, end_time, frames, mean_pitch, mean_yaw)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

func intervalArgs(sessionID uuid.UUID, iv timeline.Interval) []any {
	return []any{sessionID, string(iv.Direction), iv.StartFrame, iv.EndFrame, iv.Start, iv.End, iv.Frames, iv.MeanPitch, iv.MeanYaw}
}

const sessionColumns = `s.id, COALESCE(s.video_id, ''), s.source, s.started_at, s.fps, s.frame_count, s.thresholds, s.created_at`

func scanSession(row pgx.Row, extra ...any) (Session, error) {
	var (
		sess       Session
		started    pgtype.Timestamptz
		thresholds []byte
	)
	dest := append([]any{&sess.ID, &sess.VideoID, &sess.Source, &started, &sess.FPS, &sess.FrameCount, &thresholds, &sess.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return sess, err
	}
	if started.Valid {
		sess.StartedAt = started.Time
	}
	if err := json.Unmarshal(thresholds, &sess.Thresholds); err != nil {
		return sess, fmt.Errorf("session %s has unreadable thresholds: %w", sess.ID, err)
	}
	return sess, nil
}

// ListSessions returns every session, newest first, with its sample and interval counts.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+sessionColumns+`,
			(SELECT COUNT(*) FROM pose_samples p WHERE p.session_id = s.id),
			(SELECT COUNT(*) FROM direction_intervals d WHERE d.session_id = s.id)
		FROM pose_sessions s
		ORDER BY s.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		sess, err := scanSession(rows, &info.Samples, &info.Intervals)
		if err != nil {
			return nil, err
		}
		info.Session = sess
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+sessionColumns+` FROM pose_sessions s WHERE s.id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// DirectionSummary counts a session's samples per direction.
func (s *Store) DirectionSummary(ctx context.Context, id uuid.UUID) ([]DirectionCount, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT direction, COUNT(*), AVG(pitch), AVG(yaw)
		FROM pose_samples
		WHERE session_id = $1
		GROUP BY direction
		ORDER BY COUNT(*) DESC, direction
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DirectionCount
	for rows.Next() {
		var dc DirectionCount
		var dir string
		if err := rows.Scan(&dir, &dc.Samples, &dc.MeanPitch, &dc.MeanYaw); err != nil {
			return nil, err
		}
		dc.Direction = types.Direction(dir)
		out = append(out, dc)
	}
	return out, rows.Err()
}

// SessionIntervals returns a session's intervals in stream order.
func (s *Store) SessionIntervals(ctx context.Context, id uuid.UUID) ([]timeline.Interval, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT direction, start_frame, end_frame, start_time, end_time, frames, mean_pitch, mean_yaw
		FROM direction_intervals
		WHERE session_id = $1
		ORDER BY start_frame
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []timeline.Interval
	for rows.Next() {
		var iv timeline.Interval
		var dir string
		if err := rows.Scan(&dir, &iv.StartFrame, &iv.EndFrame, &iv.Start, &iv.End, &iv.Frames, &iv.MeanPitch, &iv.MeanYaw); err != nil {
			return nil, err
		}
		iv.Direction = types.Direction(dir)
		out = append(out, iv)
	}
	return out, rows.Err()
}

// SessionSamples returns a session's samples in frame order.
func (s *Store) SessionSamples(ctx context.Context, id uuid.UUID) ([]types.Sample, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT frame_index, offset_seconds, video_time, pitch, yaw, roll, direction
		FROM pose_samples
		WHERE session_id = $1
		ORDER BY frame_index
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Sample
	for rows.Next() {
		var sm types.Sample
		var vt pgtype.Timestamptz
		var dir string
		if err := rows.Scan(&sm.FrameIndex, &sm.Offset, &vt, &sm.Pitch, &sm.Yaw, &sm.Roll, &dir); err != nil {
			return nil, err
		}
		if vt.Valid {
			sm.VideoTime = vt.Time
		}
		sm.Direction = types.Direction(dir)
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS direction_intervals CASCADE;
		DROP TABLE IF EXISTS pose_samples CASCADE;
		DROP TABLE IF EXISTS pose_sessions CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}
