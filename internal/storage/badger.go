package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var validate = validator.New()

// BadgerStore keeps messages in BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	log *zap.Logger
	now func() time.Time
}

// NewBadgerStore wraps an already opened database. The caller owns db and
// closes it.
func NewBadgerStore(db *badger.DB, log *zap.Logger) *BadgerStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &BadgerStore{db: db, log: log, now: time.Now}
}

// Open opens (or creates) a database at path.
func Open(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return db, nil
}

func postPrefix(postID string) []byte {
	return []byte("msg:" + postID + ":")
}

// messageKey is "msg:{post}:{unix nanos, 19 digits}:{uuid}". The zero padding
// keeps lexicographic order chronological and the uuid separates messages
// stored within the same nanosecond.
func messageKey(m Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", m.PostID, m.CreatedAt.UnixNano(), m.ID))
}

// Insert validates and stores message, assigning its ID and creation time.
func (s *BadgerStore) Insert(ctx context.Context, message Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if err := validate.Struct(message); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	message.ID = uuid.New()
	message.CreatedAt = s.now().UTC()

	value, err := json.Marshal(message)
	if err != nil {
		return Message{}, fmt.Errorf("encode message: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), value)
	})
	if err != nil {
		return Message{}, fmt.Errorf("store message for post %s: %w", message.PostID, err)
	}

	s.log.Debug("message stored",
		zap.String("post_id", message.PostID),
		zap.String("message_id", message.ID.String()))
	return message, nil
}

// ListByPost returns the most recent messages of a thread, oldest first.
// A non-positive limit returns every message.
func (s *BadgerStore) ListByPost(ctx context.Context, postID string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := postPrefix(postID)
	var messages []Message

	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		// Reverse iteration starts from the largest possible timestamp.
		seek := append(append([]byte(nil), prefix...), []byte("9999999999999999999")...)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			var m Message
			if err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &m)
			}); err != nil {
				return fmt.Errorf("decode message %s: %w", it.Item().Key(), err)
			}
			messages = append(messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(messages)
	return messages, nil
}
