package messages

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/snakeclub/chat-robot/internal/db"
)

func setupTestQueue(t *testing.T, limit int) *Queue {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewQueue(database, limit)
}

func TestAddAndQuery(t *testing.T) {
	q := setupTestQueue(t, 2)
	ctx := context.Background()

	first, err := q.Add(ctx, 7, []string{"您的转账已到账"}, 0, "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if first.Kind != KindText || first.FromUserName != DefaultSender {
		t.Errorf("first = %+v", first)
	}
	if _, err := q.Add(ctx, 7, map[string]any{"card": "1234"}, 3, "客服"); err != nil {
		t.Fatalf("Add json: %v", err)
	}
	q.Add(ctx, 7, []any{"third"}, 0, "")
	q.Add(ctx, 8, []string{"other user"}, 0, "")

	n, err := q.Count(ctx, 7)
	if err != nil || n != 3 {
		t.Errorf("Count = %d, %v, want 3", n, err)
	}

	msgs, err := q.Query(ctx, 7)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Query returned %d messages, want the limit of 2", len(msgs))
	}
	if !reflect.DeepEqual(msgs[0].Msg, []string{"您的转账已到账"}) {
		t.Errorf("text message = %#v", msgs[0].Msg)
	}
	if msgs[1].Kind != KindJSON || !reflect.DeepEqual(msgs[1].Msg, map[string]any{"card": "1234"}) || msgs[1].FromUserName != "客服" {
		t.Errorf("json message = %+v", msgs[1])
	}
}

func TestAddRejectsOtherShapes(t *testing.T) {
	q := setupTestQueue(t, 2)
	for _, msg := range []any{"plain", 42, []any{"ok", 1}} {
		if _, err := q.Add(context.Background(), 1, msg, 0, ""); !errors.Is(err, ErrInvalid) {
			t.Errorf("Add(%v) err = %v, want ErrInvalid", msg, err)
		}
	}
}

func TestConfirmMovesToHistory(t *testing.T) {
	q := setupTestQueue(t, 5)
	ctx := context.Background()
	m, _ := q.Add(ctx, 7, []string{"hello"}, 0, "")
	q.Add(ctx, 7, []string{"next"}, 0, "")

	if err := q.Confirm(ctx, m.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if n, _ := q.Count(ctx, 7); n != 1 {
		t.Errorf("Count after confirm = %d, want 1", n)
	}
	his, err := q.History(ctx, 7, 10)
	if err != nil || len(his) != 1 || his[0].ID != m.ID {
		t.Errorf("History = %+v, %v", his, err)
	}
	if err := q.Confirm(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Confirm err = %v, want ErrNotFound", err)
	}
}
