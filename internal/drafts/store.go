// Package drafts preserves the text of failed sends. The composer is
// cleared the moment a send is issued, so without this buffer a backend
// rejection would lose the operator's words.
package drafts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS failed_drafts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	media_urls TEXT NOT NULL DEFAULT '[]',
	reason TEXT NOT NULL DEFAULT '',
	failed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failed_drafts_conversation
	ON failed_drafts (conversation_id, failed_at);
`

// Draft is one preserved failed send.
type Draft struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text,omitempty"`
	MediaURLs      []string  `json:"media_urls,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	FailedAt       time.Time `json:"failed_at"`
}

// Store is the sqlite-backed draft buffer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the draft database at path. Use
// ":memory:" for an ephemeral store.
func Open(log *slog.Logger, path string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open drafts db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create drafts schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: log.With(slog.String("service", "drafts")),
	}, nil
}

// Save persists one failed draft and returns it with its assigned ID.
func (s *Store) Save(ctx context.Context, draft Draft) (Draft, error) {
	if draft.ConversationID == "" {
		return Draft{}, fmt.Errorf("conversation id is required")
	}
	if draft.FailedAt.IsZero() {
		draft.FailedAt = time.Now().UTC()
	}
	media, err := json.Marshal(draft.MediaURLs)
	if err != nil {
		return Draft{}, fmt.Errorf("marshal media urls: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO failed_drafts (conversation_id, text, media_urls, reason, failed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		draft.ConversationID, draft.Text, string(media), draft.Reason, draft.FailedAt,
	)
	if err != nil {
		return Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	draft.ID, err = result.LastInsertId()
	if err != nil {
		return Draft{}, err
	}
	return draft, nil
}

// ListByConversation returns a conversation's preserved drafts, oldest
// first.
func (s *Store) ListByConversation(ctx context.Context, conversationID string) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, text, media_urls, reason, failed_at
		 FROM failed_drafts WHERE conversation_id = ? ORDER BY failed_at, id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	drafts := []Draft{}
	for rows.Next() {
		var d Draft
		var media string
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Text, &media, &d.Reason, &d.FailedAt); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		if err := json.Unmarshal([]byte(media), &d.MediaURLs); err != nil {
			s.logger.Warn("draft media urls corrupted", slog.Int64("id", d.ID), slog.Any("error", err))
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// Delete removes one draft, e.g. after the operator re-sent or discarded it.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM failed_drafts WHERE id = ?`, id)
	return err
}

// DeleteByConversation clears all drafts for a conversation, used when the
// conversation itself is deleted.
func (s *Store) DeleteByConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM failed_drafts WHERE conversation_id = ?`, conversationID)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
