package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/0himera/neraAIchat/pkg/protocol"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists sessions in Postgres via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL, runs pending migrations, and
// returns a ready store.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (p *PostgresStore) ListSessions(ctx context.Context) ([]protocol.Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, title, created_at, updated_at, last_message_preview
		FROM sessions
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []protocol.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (p *PostgresStore) CreateSession(ctx context.Context, title string) (*SessionData, error) {
	data := newSession(title)
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, title, created_at, updated_at, last_message_preview)
		VALUES ($1, $2, $3, $4, $5)
	`, data.Session.ID, data.Session.Title, data.Session.CreatedAt, data.Session.UpdatedAt, data.Session.LastMessagePreview)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	for _, msg := range data.Messages {
		if err := insertMessage(ctx, tx, data.Session.ID, msg); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return data, nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*SessionData, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, title, created_at, updated_at, last_message_preview
		FROM sessions WHERE id = $1
	`, id)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, role, text, created_at
		FROM messages WHERE session_id = $1
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	data := &SessionData{Session: session}
	for rows.Next() {
		var m protocol.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		data.Messages = append(data.Messages, m)
	}
	return data, rows.Err()
}

func (p *PostgresStore) AppendMessage(ctx context.Context, sessionID string, message protocol.Message) (protocol.Session, protocol.Message, error) {
	prepared := prepareMessage(message)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return protocol.Session{}, protocol.Message{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, title, created_at, updated_at, last_message_preview
		FROM sessions WHERE id = $1 FOR UPDATE
	`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.Session{}, protocol.Message{}, ErrSessionNotFound
	}
	if err != nil {
		return protocol.Session{}, protocol.Message{}, err
	}

	var existingRole, existingText string
	var existingAt time.Time
	err = tx.QueryRow(ctx, `
		SELECT role, text, created_at FROM messages WHERE id = $1
	`, prepared.ID).Scan(&existingRole, &existingText, &existingAt)
	if err == nil {
		// Duplicate push from a retried reconciliation; keep the original.
		return session, protocol.Message{ID: prepared.ID, Role: existingRole, Text: existingText, CreatedAt: existingAt}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return protocol.Session{}, protocol.Message{}, fmt.Errorf("lookup message: %w", err)
	}

	if err := insertMessage(ctx, tx, sessionID, prepared); err != nil {
		return protocol.Session{}, protocol.Message{}, err
	}

	if title := autonameTitle(session.Title, prepared); title != "" {
		session.Title = title
	}
	if prepared.Role != "system" {
		session.LastMessagePreview = truncate(prepared.Text, previewMaxLen)
	}
	session.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE sessions SET title = $2, updated_at = $3, last_message_preview = $4 WHERE id = $1
	`, sessionID, session.Title, session.UpdatedAt, session.LastMessagePreview)
	if err != nil {
		return protocol.Session{}, protocol.Message{}, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return protocol.Session{}, protocol.Message{}, fmt.Errorf("commit: %w", err)
	}
	return session, prepared, nil
}

func (p *PostgresStore) RenameSession(ctx context.Context, id, title string) (protocol.Session, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE sessions SET title = $2, updated_at = $3 WHERE id = $1
		RETURNING id, title, created_at, updated_at, last_message_preview
	`, id, truncate(title, titleMaxLen), time.Now().UTC())
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.Session{}, ErrSessionNotFound
	}
	return session, err
}

func (p *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) Close() { p.pool.Close() }

func insertMessage(ctx context.Context, tx pgx.Tx, sessionID string, m protocol.Message) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO messages (id, session_id, role, text, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, sessionID, m.Role, m.Text, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (protocol.Session, error) {
	var s protocol.Session
	if err := row.Scan(&s.ID, &s.Title, &s.CreatedAt, &s.UpdatedAt, &s.LastMessagePreview); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return protocol.Session{}, err
		}
		return protocol.Session{}, fmt.Errorf("scan session: %w", err)
	}
	return s, nil
}
