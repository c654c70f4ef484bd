package transcriptstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/chat"
)

// SQLiteStore persists finalized messages to a single sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

const transcriptSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conv_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	metadata TEXT,
	created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conv_id, created_at_ms, rowid);
`

// SQLiteDSNForFile derives a DSN with WAL and a busy timeout from a plain
// file path.
func SQLiteDSNForFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("sqlite transcript store: path is empty")
	}
	return "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000", nil
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite transcript store: dsn is empty")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: open")
	}
	if _, err := db.Exec(transcriptSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite transcript store: migrate")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, msg chat.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: nil store")
	}
	if msg.ID == "" {
		return errors.New("sqlite transcript store: message id is empty")
	}
	if msg.ConversationID == "" {
		return errors.New("sqlite transcript store: conversation id is empty")
	}
	var meta any
	if len(msg.Metadata) > 0 {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return errors.Wrap(err, "sqlite transcript store: marshal metadata")
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages (id, conv_id, role, content, tokens_used, metadata, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.TokensUsed, meta, msg.CreatedAt.UnixMilli())
	return errors.Wrap(err, "sqlite transcript store: insert")
}

func (s *SQLiteStore) List(ctx context.Context, convID string, limit int) ([]chat.Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: nil store")
	}
	if convID == "" {
		return nil, errors.New("sqlite transcript store: conversation id is empty")
	}
	if limit <= 0 {
		limit = 500
	}
	// keep the newest N but return them oldest-first, matching the
	// in-memory implementation
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conv_id, role, content, tokens_used, metadata, created_at_ms FROM (
			SELECT id, conv_id, role, content, tokens_used, metadata, created_at_ms, rowid AS rid
			FROM messages WHERE conv_id = ?
			ORDER BY created_at_ms DESC, rowid DESC LIMIT ?
		 ) ORDER BY created_at_ms ASC, rid ASC`, convID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: query")
	}
	defer func() { _ = rows.Close() }()

	var out []chat.Message
	for rows.Next() {
		var (
			msg       chat.Message
			role      string
			meta      sql.NullString
			createdMs int64
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.TokensUsed, &meta, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan")
		}
		msg.Role = chat.Role(role)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &msg.Metadata); err != nil {
				return nil, errors.Wrap(err, "sqlite transcript store: unmarshal metadata")
			}
		}
		msg.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, msg)
	}
	return out, errors.Wrap(rows.Err(), "sqlite transcript store: rows")
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
