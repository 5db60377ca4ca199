package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/geo"
)

// Attempt is a journaled outcome.
type Attempt struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Kind       Kind      `json:"kind"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	AttemptAt  time.Time `json:"attempted_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// AttemptFromOutcome flattens an outcome into a journal row.
func AttemptFromOutcome(o Outcome) Attempt {
	a := Attempt{
		ID:         o.AttemptID,
		SessionID:  o.SessionID,
		Kind:       o.Kind,
		Message:    o.Message,
		StatusCode: o.StatusCode,
		AttemptAt:  o.At,
	}
	if o.Kind == KindGeoDenied {
		a.Reason = o.Reason.String()
	}
	if o.Coords != nil {
		lat, lon := o.Coords.Latitude, o.Coords.Longitude
		a.Latitude, a.Longitude = &lat, &lon
	}
	return a
}

// Filter narrows ListAttempts.
type Filter struct {
	SessionID string
	Kind      *Kind
}

// Repository persists the attempt journal. Queries run on both Postgres (pgx) and SQLite.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// EnsureSchema creates the journal table if missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scan_attempts (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL DEFAULT '',
			kind         TEXT NOT NULL,
			reason       TEXT NOT NULL DEFAULT '',
			message      TEXT NOT NULL DEFAULT '',
			status_code  INTEGER NOT NULL DEFAULT 0,
			latitude     DOUBLE PRECISION,
			longitude    DOUBLE PRECISION,
			attempted_at TIMESTAMP NOT NULL,
			created_at   TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create scan_attempts: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS scan_attempts_session_idx ON scan_attempts (session_id, attempted_at)`)
	return err
}

// InsertAttempt writes an attempt. Re-delivered attempts with a known id are ignored.
func (r *Repository) InsertAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AttemptAt.IsZero() {
		a.AttemptAt = r.now().UTC()
	}
	a.CreatedAt = r.now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scan_attempts (id, session_id, kind, reason, message, status_code, latitude, longitude, attempted_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.SessionID, a.Kind.String(), a.Reason, a.Message, a.StatusCode, a.Latitude, a.Longitude, a.AttemptAt.UTC(), a.CreatedAt)
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// GetAttempt returns a single attempt by id, or nil when unknown.
func (r *Repository) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	row := r.db.QueryRowContext(ctx, selectAttempts+` WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// ListAttempts returns attempts newest first.
func (r *Repository) ListAttempts(ctx context.Context, f Filter, limit, offset int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := selectAttempts
	args := []any{}
	clauses := []string{}
	if f.SessionID != "" {
		clauses = append(clauses, fmt.Sprintf("session_id = $%d", len(args)+1))
		args = append(args, f.SessionID)
	}
	if f.Kind != nil {
		clauses = append(clauses, fmt.Sprintf("kind = $%d", len(args)+1))
		args = append(args, f.Kind.String())
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY attempted_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

const selectAttempts = `SELECT id, session_id, kind, reason, message, status_code, latitude, longitude, attempted_at, created_at FROM scan_attempts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var (
		a        Attempt
		kind     string
		lat, lon sql.NullFloat64
	)
	if err := row.Scan(&a.ID, &a.SessionID, &kind, &a.Reason, &a.Message, &a.StatusCode, &lat, &lon, &a.AttemptAt, &a.CreatedAt); err != nil {
		return Attempt{}, err
	}
	if err := a.Kind.UnmarshalText([]byte(kind)); err != nil {
		return Attempt{}, err
	}
	if lat.Valid {
		a.Latitude = &lat.Float64
	}
	if lon.Valid {
		a.Longitude = &lon.Float64
	}
	return a, nil
}

// GeoReason returns the geo reason recorded for a denied attempt.
func (a Attempt) GeoReason() (geo.Reason, bool) {
	if a.Kind != KindGeoDenied {
		return 0, false
	}
	var r geo.Reason
	if err := r.UnmarshalText([]byte(a.Reason)); err != nil {
		return 0, false
	}
	return r, true
}
