package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vtt/client/internal/grid"
	"vtt/client/internal/tokens"
)

var ErrTokenNotFound = errors.New("token not found")

// SnapshotStore keeps the last known state of every token in a room so
// that late joiners receive the board as it stands.
type SnapshotStore interface {
	Tokens(ctx context.Context, room string) ([]tokens.Token, error)
	SaveToken(ctx context.Context, room string, token tokens.Token) error
	MoveToken(ctx context.Context, room, tokenID string, position grid.Point) error
	UpdateToken(ctx context.Context, room, tokenID string, update tokens.StateUpdate) error
	RemoveToken(ctx context.Context, room, tokenID string) error
	Close() error
}

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the snapshot database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS room_tokens (
		room TEXT NOT NULL,
		token_id TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (room, token_id)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Tokens(ctx context.Context, room string) ([]tokens.Token, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM room_tokens WHERE room = ? ORDER BY token_id`, room)
	if err != nil {
		return nil, fmt.Errorf("query room %s: %w", room, err)
	}
	defer rows.Close()

	out := []tokens.Token{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		var token tokens.Token
		if err := json.Unmarshal([]byte(body), &token); err != nil {
			return nil, fmt.Errorf("decode token: %w", err)
		}
		out = append(out, token)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveToken(ctx context.Context, room string, token tokens.Token) error {
	body, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token %s: %w", token.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO room_tokens (room, token_id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(room, token_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		room, token.ID, string(body), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save token %s: %w", token.ID, err)
	}
	return nil
}

// MoveToken records a committed position. Moves for tokens the room has
// never seen are ignored.
func (s *SQLiteStore) MoveToken(ctx context.Context, room, tokenID string, position grid.Point) error {
	return s.mutate(ctx, room, tokenID, func(token *tokens.Token) {
		token.Position = position
	})
}

func (s *SQLiteStore) UpdateToken(ctx context.Context, room, tokenID string, update tokens.StateUpdate) error {
	if update.Empty() {
		return nil
	}
	return s.mutate(ctx, room, tokenID, func(token *tokens.Token) {
		update.ApplyTo(&token.State)
		token.State.LastModified = s.now()
	})
}

func (s *SQLiteStore) mutate(ctx context.Context, room, tokenID string, fn func(*tokens.Token)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx, `SELECT body FROM room_tokens WHERE room = ? AND token_id = ?`, room, tokenID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	if err != nil {
		return fmt.Errorf("load token %s: %w", tokenID, err)
	}
	var token tokens.Token
	if err := json.Unmarshal([]byte(body), &token); err != nil {
		return fmt.Errorf("decode token %s: %w", tokenID, err)
	}
	fn(&token)
	updated, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token %s: %w", tokenID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE room_tokens SET body = ?, updated_at = ? WHERE room = ? AND token_id = ?`,
		string(updated), s.now().UnixMilli(), room, tokenID); err != nil {
		return fmt.Errorf("update token %s: %w", tokenID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) RemoveToken(ctx context.Context, room, tokenID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM room_tokens WHERE room = ? AND token_id = ?`, room, tokenID); err != nil {
		return fmt.Errorf("remove token %s: %w", tokenID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
