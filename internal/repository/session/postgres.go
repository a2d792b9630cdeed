package session

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
)

//go:embed sql/*.sql
var migrationFS embed.FS

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

// PostgresStore persists sessions in PostgreSQL. The single-active-session
// invariant is enforced by a partial unique index on non-terminal rows, so
// concurrent triggers for the same user race on the database, not on a lock
// in this process.
type PostgresStore struct {
	// pool is the underlying connection pool.
	pool *pgxpool.Pool
}

// Open connects to the database, runs migrations and returns a store.
func Open(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err = runMigrations(ctx, pool); err != nil {
		pool.Close()

		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// runMigrations applies the embedded schema files in lexical order.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrationFS.ReadDir("sql")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	for _, name := range names {
		body, err := migrationFS.ReadFile("sql/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err = pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}

	return nil
}

// CreateIfAbsent persists the session unless the user already has an active one.
func (p *PostgresStore) CreateIfAbsent(ctx context.Context, s *alert.AlertSession) (*alert.AlertSession, error) {
	contacts, err := json.Marshal(s.ContactsSnapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal contacts: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
        INSERT INTO alert_sessions
            (id, user_id, state, created_at, confirmed_at, resolved_at, fallback_required, contacts)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
    `, s.SessionID, s.UserID, string(s.State), s.CreatedAt,
		nullableTime(s.ConfirmedAt), nullableTime(s.ResolvedAt), s.FallbackRequired, string(contacts))

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			existing, lookupErr := p.ActiveSessionFor(ctx, s.UserID)
			if lookupErr != nil {
				return nil, fmt.Errorf("load active session after conflict: %w", lookupErr)
			}

			return existing, alert.ErrSessionAlreadyActive
		}

		return nil, fmt.Errorf("insert session: %w", err)
	}

	return s.Clone(), nil
}

// Get returns the session by ID with its samples and attempts.
func (p *PostgresStore) Get(ctx context.Context, sessionID string) (*alert.AlertSession, error) {
	return p.loadSession(ctx, `WHERE id = $1`, sessionID)
}

// ActiveSessionFor returns the user's non-terminal session.
func (p *PostgresStore) ActiveSessionFor(ctx context.Context, userID string) (*alert.AlertSession, error) {
	return p.loadSession(ctx, `WHERE user_id = $1 AND state NOT IN ('resolved', 'cancelled')`, userID)
}

// loadSession fetches one session row matching the filter plus its child rows.
func (p *PostgresStore) loadSession(ctx context.Context, filter, arg string) (*alert.AlertSession, error) {
	var (
		s           alert.AlertSession
		state       string
		confirmedAt *time.Time
		resolvedAt  *time.Time
		contactsRaw []byte
	)

	err := p.pool.QueryRow(ctx, `
        SELECT id, user_id, state, created_at, confirmed_at, resolved_at, fallback_required, contacts
        FROM alert_sessions `+filter,
		arg,
	).Scan(&s.SessionID, &s.UserID, &state, &s.CreatedAt, &confirmedAt, &resolvedAt, &s.FallbackRequired, &contactsRaw)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("query session: %w", err)
	}

	s.State = alert.SessionState(state)

	if confirmedAt != nil {
		s.ConfirmedAt = *confirmedAt
	}

	if resolvedAt != nil {
		s.ResolvedAt = *resolvedAt
	}

	if err = json.Unmarshal(contactsRaw, &s.ContactsSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshal contacts: %w", err)
	}

	if s.LocationHistory, err = p.loadSamples(ctx, s.SessionID); err != nil {
		return nil, err
	}

	if s.Attempts, err = p.loadAttempts(ctx, s.SessionID); err != nil {
		return nil, err
	}

	return &s, nil
}

// loadSamples fetches the session's location history in capture order.
func (p *PostgresStore) loadSamples(ctx context.Context, sessionID string) ([]alert.LocationSample, error) {
	rows, err := p.pool.Query(ctx, `
        SELECT latitude, longitude, accuracy_meters, captured_at
        FROM location_samples
        WHERE session_id = $1
        ORDER BY captured_at ASC
    `, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []alert.LocationSample

	for rows.Next() {
		var sample alert.LocationSample
		if err = rows.Scan(&sample.Latitude, &sample.Longitude, &sample.AccuracyMeters, &sample.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}

		samples = append(samples, sample)
	}

	return samples, rows.Err()
}

// loadAttempts fetches the session's delivery records.
func (p *PostgresStore) loadAttempts(ctx context.Context, sessionID string) ([]alert.NotificationAttempt, error) {
	rows, err := p.pool.Query(ctx, `
        SELECT contact_id, channel, attempt_number, status, next_retry_at, updated_at
        FROM notification_attempts
        WHERE session_id = $1
        ORDER BY contact_id, channel
    `, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []alert.NotificationAttempt

	for rows.Next() {
		var (
			attempt alert.NotificationAttempt
			channel string
			status  string
		)

		if err = rows.Scan(
			&attempt.ContactID,
			&channel,
			&attempt.AttemptNumber,
			&status,
			&attempt.NextRetryAt,
			&attempt.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}

		attempt.Channel = alert.Channel(channel)
		attempt.Status = alert.AttemptStatus(status)
		attempts = append(attempts, attempt)
	}

	return attempts, rows.Err()
}

// AppendLocation appends a position sample to the session history.
func (p *PostgresStore) AppendLocation(ctx context.Context, sessionID string, sample alert.LocationSample) error {
	tag, err := p.pool.Exec(ctx, `
        INSERT INTO location_samples (session_id, latitude, longitude, accuracy_meters, captured_at)
        SELECT id, $2, $3, $4, $5 FROM alert_sessions WHERE id = $1
    `, sessionID, sample.Latitude, sample.Longitude, sample.AccuracyMeters, sample.CapturedAt)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// UpsertAttempt creates or replaces the record for the attempt's (contact, channel) pair.
func (p *PostgresStore) UpsertAttempt(ctx context.Context, sessionID string, attempt alert.NotificationAttempt) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO notification_attempts
            (session_id, contact_id, channel, attempt_number, status, next_retry_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (session_id, contact_id, channel) DO UPDATE SET
            attempt_number = EXCLUDED.attempt_number,
            status         = EXCLUDED.status,
            next_retry_at  = EXCLUDED.next_retry_at,
            updated_at     = EXCLUDED.updated_at
    `, sessionID, attempt.ContactID, string(attempt.Channel),
		attempt.AttemptNumber, string(attempt.Status), attempt.NextRetryAt, attempt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}

	return nil
}

// CompareAndSetState advances the session state with a guarded UPDATE.
func (p *PostgresStore) CompareAndSetState(
	ctx context.Context,
	sessionID string,
	from, to alert.SessionState,
	at time.Time,
) (*alert.AlertSession, error) {
	// Reject transitions absent from the table before touching the database.
	if !from.CanTransitionTo(to) {
		return nil, alert.ErrInvalidStateTransition
	}

	tag, err := p.pool.Exec(ctx, `
        UPDATE alert_sessions
        SET state = $3,
            confirmed_at = CASE WHEN $3 = 'confirmed' THEN $4 ELSE confirmed_at END,
            resolved_at  = CASE WHEN $3 IN ('resolved', 'cancelled') THEN $4 ELSE resolved_at END
        WHERE id = $1 AND state = $2
    `, sessionID, string(from), string(to), at)
	if err != nil {
		return nil, fmt.Errorf("update state: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish a missing session from a state mismatch.
		if _, getErr := p.Get(ctx, sessionID); getErr != nil {
			return nil, getErr
		}

		return nil, alert.ErrInvalidStateTransition
	}

	return p.Get(ctx, sessionID)
}

// SnapshotContacts fixes the session's contact list.
func (p *PostgresStore) SnapshotContacts(
	ctx context.Context,
	sessionID string,
	contacts []alert.EmergencyContact,
) error {
	raw, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("marshal contacts: %w", err)
	}

	tag, err := p.pool.Exec(ctx, `
        UPDATE alert_sessions SET contacts = $2::jsonb WHERE id = $1
    `, sessionID, string(raw))
	if err != nil {
		return fmt.Errorf("snapshot contacts: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SetFallbackRequired marks the session as needing fallback dispatch.
func (p *PostgresStore) SetFallbackRequired(ctx context.Context, sessionID string) error {
	tag, err := p.pool.Exec(ctx, `
        UPDATE alert_sessions SET fallback_required = TRUE WHERE id = $1
    `, sessionID)
	if err != nil {
		return fmt.Errorf("set fallback flag: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t
}
