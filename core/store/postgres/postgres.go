// Package postgres stores sessions and turns in PostgreSQL and broadcasts new
// turns with LISTEN/NOTIFY.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NotifyChannel is the channel the insert trigger notifies on.
const NotifyChannel = "dialogue_turns"

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var _ store.Backend = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool and checks the connection.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return New(pool), nil
}

func (s *Store) Close() {
	s.pool.Close()
}

type sessionRow struct {
	ID        string
	DateKey   string
	Topic     string
	CreatedAt time.Time
}

type turnRow struct {
	Order     int
	Speaker   string
	Text      string
	CreatedAt time.Time
}

func (s *Store) GetOrCreateSession(ctx context.Context, dateKey, topic string) (string, error) {
	ctx, span := tracer.Start(ctx, "get or create session", trace.WithAttributes(attribute.String("session.date", dateKey)))
	defer span.End()

	query := `
		INSERT INTO dialogue_sessions (id, session_date, topic)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_date) DO UPDATE SET session_date = EXCLUDED.session_date
		RETURNING id::text
	`

	var id string
	if err := s.pool.QueryRow(ctx, query, uuid.New(), dateKey, topic).Scan(&id); err != nil {
		return "", recordError(span, fmt.Errorf("get or create session %s: %w", dateKey, err))
	}
	return id, nil
}

func (s *Store) LoadSession(ctx context.Context, dateKey string) (*dialogue.Session, []dialogue.Turn, error) {
	ctx, span := tracer.Start(ctx, "load session", trace.WithAttributes(attribute.String("session.date", dateKey)))
	defer span.End()

	query := `
		SELECT id::text, session_date, topic, created_at
		FROM dialogue_sessions
		WHERE session_date = $1
	`

	var row sessionRow
	err := s.pool.QueryRow(ctx, query, dateKey).Scan(&row.ID, &row.DateKey, &row.Topic, &row.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("load session %s: %w", dateKey, store.ErrNotFound)
	}
	if err != nil {
		return nil, nil, recordError(span, fmt.Errorf("load session %s: %w", dateKey, err))
	}

	var session dialogue.Session
	if err := copier.Copy(&session, &row); err != nil {
		return nil, nil, recordError(span, fmt.Errorf("map session row: %w", err))
	}

	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, nil, recordError(span, fmt.Errorf("parse session id %q: %w", row.ID, err))
	}
	turns, err := s.turns(ctx, id)
	if err != nil {
		return nil, nil, recordError(span, err)
	}
	span.SetAttributes(attribute.Int("session.turns", len(turns)))

	return &session, turns, nil
}

func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn dialogue.Turn) error {
	ctx, span := tracer.Start(ctx, "append turn", trace.WithAttributes(attribute.Int("turn.order", turn.Order)))
	defer span.End()

	id, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("append turn to %s: %w", sessionID, store.ErrNotFound)
	}

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO dialogue_turns (session_id, turn_order, speaker, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.pool.Exec(ctx, query, id, turn.Order, string(turn.Speaker), turn.Text, createdAt)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation:
		return fmt.Errorf("append turn %d: %w", turn.Order, store.ErrConflict)
	case errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation:
		return fmt.Errorf("append turn to %s: %w", sessionID, store.ErrNotFound)
	default:
		return recordError(span, fmt.Errorf("append turn %d: %w", turn.Order, err))
	}
}

// ListSessions returns every session, most recent day first.
func (s *Store) ListSessions(ctx context.Context) ([]dialogue.Session, error) {
	ctx, span := tracer.Start(ctx, "list sessions")
	defer span.End()

	query := `
		SELECT id::text, session_date, topic, created_at
		FROM dialogue_sessions
		ORDER BY session_date DESC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, recordError(span, fmt.Errorf("query sessions: %w", err))
	}
	defer rows.Close()

	var sessionRows []sessionRow
	for rows.Next() {
		var row sessionRow
		if err := rows.Scan(&row.ID, &row.DateKey, &row.Topic, &row.CreatedAt); err != nil {
			return nil, recordError(span, fmt.Errorf("scan session: %w", err))
		}
		sessionRows = append(sessionRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, recordError(span, fmt.Errorf("iterate sessions: %w", err))
	}

	sessions := []dialogue.Session{}
	if len(sessionRows) == 0 {
		return sessions, nil
	}
	if err := copier.Copy(&sessions, &sessionRows); err != nil {
		return nil, recordError(span, fmt.Errorf("map session rows: %w", err))
	}
	return sessions, nil
}

func (s *Store) SessionTurns(ctx context.Context, sessionID string) ([]dialogue.Turn, error) {
	ctx, span := tracer.Start(ctx, "session turns")
	defer span.End()

	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM dialogue_sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, recordError(span, fmt.Errorf("check session %s: %w", sessionID, err))
	}
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}

	turns, err := s.turns(ctx, id)
	if err != nil {
		return nil, recordError(span, err)
	}
	return turns, nil
}

func (s *Store) turns(ctx context.Context, sessionID uuid.UUID) ([]dialogue.Turn, error) {
	query := `
		SELECT turn_order, speaker, body, created_at
		FROM dialogue_turns
		WHERE session_id = $1
		ORDER BY turn_order ASC
	`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turnRows []turnRow
	for rows.Next() {
		var row turnRow
		if err := rows.Scan(&row.Order, &row.Speaker, &row.Text, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turnRows = append(turnRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	turns := []dialogue.Turn{}
	if len(turnRows) == 0 {
		return turns, nil
	}
	if err := copier.Copy(&turns, &turnRows); err != nil {
		return nil, fmt.Errorf("map turn rows: %w", err)
	}
	return turns, nil
}

// notification is the payload the insert trigger sends.
type notification struct {
	SessionID string           `json:"sessionId"`
	Order     int              `json:"order"`
	Speaker   dialogue.Speaker `json:"speaker"`
	Text      string           `json:"text"`
	CreatedAt time.Time        `json:"createdAt"`
}

func decodeNotification(payload string) (notification, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}

func (n notification) turn() dialogue.Turn {
	return dialogue.Turn{Order: n.Order, Speaker: n.Speaker, Text: n.Text, CreatedAt: n.CreatedAt}
}

// Subscribe dedicates one connection to LISTEN for the lifetime of the
// subscription. A failure of that connection ends the subscription through
// onLost.
func (s *Store) Subscribe(ctx context.Context, sessionID string, onTurn func(dialogue.Turn), onLost func(error)) (func(), error) {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	conn := pooled.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen on %s: %w", NotifyChannel, err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close(context.Background())

		for {
			received, err := conn.WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil {
					logger.ErrorContext(ctx, "listen connection failed", "session", sessionID, "error", err)
					if onLost != nil {
						onLost(fmt.Errorf("listen on %s: %w", NotifyChannel, err))
					}
				}
				return
			}

			n, err := decodeNotification(received.Payload)
			if err != nil {
				logger.WarnContext(ctx, "dropping malformed notification", "error", err)
				continue
			}
			if n.SessionID != sessionID {
				continue
			}
			onTurn(n.turn())
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
