package storage

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewBadgerStore(db, zaptest.NewLogger(t))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time {
		at = at.Add(time.Second)
		return at
	}
	return store
}

func Test_Insert_Assigns_ID_And_Timestamp(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)

	stored, err := store.Insert(context.Background(), Message{PostID: "42", SenderID: "alice", Content: "hi"})
	req.NoError(err)
	req.NotEqual(uuid.Nil, stored.ID)
	req.False(stored.CreatedAt.IsZero())
	req.Equal("42", stored.PostID)

	messages, err := store.ListByPost(context.Background(), "42", 0)
	req.NoError(err)
	req.Equal([]Message{stored}, messages)
}

func Test_Insert_Rejects_Incomplete_Message(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name    string
		message Message
	}{
		{"missing post", Message{SenderID: "alice", Content: "hi"}},
		{"missing sender", Message{PostID: "42", Content: "hi"}},
		{"missing content", Message{PostID: "42", SenderID: "alice"}},
		{"post with separator", Message{PostID: "4:2", SenderID: "alice", Content: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Insert(context.Background(), tt.message)
			require.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func Test_ListByPost_Chronological_And_Isolated(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	for _, m := range []Message{
		{PostID: "1", SenderID: "alice", Content: "first"},
		{PostID: "10", SenderID: "carol", Content: "other thread"},
		{PostID: "1", SenderID: "bob", Content: "second"},
		{PostID: "1", SenderID: "alice", Content: "third"},
	} {
		_, err := store.Insert(ctx, m)
		req.NoError(err)
	}

	messages, err := store.ListByPost(ctx, "1", 0)
	req.NoError(err)
	req.Len(messages, 3)
	req.Equal("first", messages[0].Content)
	req.Equal("second", messages[1].Content)
	req.Equal("third", messages[2].Content)

	limited, err := store.ListByPost(ctx, "1", 2)
	req.NoError(err)
	req.Len(limited, 2)
	req.Equal("second", limited[0].Content)
	req.Equal("third", limited[1].Content)

	empty, err := store.ListByPost(ctx, "missing", 0)
	req.NoError(err)
	req.Empty(empty)
}

func Test_Canceled_Context(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Insert(ctx, Message{PostID: "1", SenderID: "a", Content: "b"})
	req.ErrorIs(err, context.Canceled)
	_, err = store.ListByPost(ctx, "1", 0)
	req.ErrorIs(err, context.Canceled)
}
