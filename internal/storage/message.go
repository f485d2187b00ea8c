//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_store.go -package=mocks

// Package storage persists chat messages posted in thread rooms.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidMessage is returned when a message misses a required field.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one persisted chat utterance. ID and CreatedAt are assigned by
// the store on insert.
type Message struct {
	ID        uuid.UUID `json:"id"`
	PostID    string    `json:"postId" validate:"required,max=128,excludesall=:"`
	SenderID  string    `json:"senderId" validate:"required"`
	Content   string    `json:"content" validate:"required"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageStore is the persistence gateway used by the chat relay and the
// history endpoint.
type MessageStore interface {
	Insert(ctx context.Context, message Message) (Message, error)
	ListByPost(ctx context.Context, postID string, limit int) ([]Message, error)
}
