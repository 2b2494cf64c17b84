// Package messages queues messages pushed to users outside a dialogue
// turn. Clients poll the queue and confirm what they have shown; confirmed
// messages move to the history table.
package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/snakeclub/chat-robot/internal/db"
)

var (
	// ErrNotFound is returned when confirming a message that is not queued.
	ErrNotFound = errors.New("message not found")
	// ErrInvalid is returned for a message that is neither a list of texts
	// nor a JSON object.
	ErrInvalid = errors.New("message must be a list of texts or an object")
)

// Kind is the message format.
type Kind string

const (
	KindText Kind = "text"
	KindJSON Kind = "json"
)

// DefaultSender is the sender name used when none is given.
const DefaultSender = "系统"

// Message is one queued message. Msg is a []string for text messages and a
// map[string]any for json messages.
type Message struct {
	ID           int64     `json:"id"`
	FromUserID   int64     `json:"from_user_id"`
	FromUserName string    `json:"from_user_name"`
	UserID       int64     `json:"user_id"`
	Kind         Kind      `json:"msg_type"`
	Msg          any       `json:"msg"`
	CreatedAt    time.Time `json:"create_time"`
}

// Queue manages the send_message_queue table.
type Queue struct {
	db    *db.DB
	limit int
}

// NewQueue returns a Queue whose Query returns at most limit messages.
func NewQueue(database *db.DB, limit int) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{db: database, limit: limit}
}

// Add queues msg for userID.
func (q *Queue) Add(ctx context.Context, userID int64, msg any, fromUserID int64, fromUserName string) (*Message, error) {
	kind, normalized, err := classify(msg)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	if fromUserName == "" {
		fromUserName = DefaultSender
	}

	m := &Message{
		FromUserID:   fromUserID,
		FromUserName: fromUserName,
		UserID:       userID,
		Kind:         kind,
		Msg:          normalized,
		CreatedAt:    time.Now().UTC(),
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO send_message_queue (from_user_id, from_user_name, user_id, msg_type, msg, create_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.FromUserID, m.FromUserName, m.UserID, m.Kind, string(raw), m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("queueing message: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading message id: %w", err)
	}
	return m, nil
}

func classify(msg any) (Kind, any, error) {
	switch v := msg.(type) {
	case []string:
		return KindText, v, nil
	case []any:
		texts := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return "", nil, fmt.Errorf("%w: item %d is %T", ErrInvalid, i, item)
			}
			texts[i] = s
		}
		return KindText, texts, nil
	case map[string]any:
		return KindJSON, v, nil
	default:
		return "", nil, fmt.Errorf("%w: got %T", ErrInvalid, msg)
	}
}

// Count returns the number of messages waiting for userID.
func (q *Queue) Count(ctx context.Context, userID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM send_message_queue WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// Query returns the oldest waiting messages of userID. Messages stay queued
// until confirmed.
func (q *Queue) Query(ctx context.Context, userID int64) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, from_user_id, from_user_name, user_id, msg_type, msg, create_time
		 FROM send_message_queue WHERE user_id = ? ORDER BY create_time, id LIMIT ?`,
		userID, q.limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m   Message
			raw string
		)
		if err := rows.Scan(&m.ID, &m.FromUserID, &m.FromUserName, &m.UserID, &m.Kind, &raw, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg, err := decode(m.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", m.ID, err)
		}
		m.Msg = msg
		out = append(out, m)
	}
	return out, rows.Err()
}

func decode(kind Kind, raw string) (any, error) {
	if kind == KindText {
		var texts []string
		err := json.Unmarshal([]byte(raw), &texts)
		return texts, err
	}
	var obj map[string]any
	err := json.Unmarshal([]byte(raw), &obj)
	return obj, err
}

// Confirm moves a delivered message to the history table.
func (q *Queue) Confirm(ctx context.Context, id int64) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO send_message_his (id, from_user_id, from_user_name, user_id, msg_type, msg, create_time, confirm_time)
		 SELECT id, from_user_id, from_user_name, user_id, msg_type, msg, create_time, ?
		 FROM send_message_queue WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("archiving message %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM send_message_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("dequeueing message %d: %w", id, err)
	}
	return tx.Commit()
}

// History returns the confirmed messages of userID, newest first.
func (q *Queue) History(ctx context.Context, userID int64, limit int) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, from_user_id, from_user_name, user_id, msg_type, msg, create_time
		 FROM send_message_his WHERE user_id = ? ORDER BY confirm_time DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying message history: %w", err)
	}
	return scanMessages(rows)
}
