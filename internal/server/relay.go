//go:generate go run go.uber.org/mock/mockgen -source=relay.go -destination=../mocks/mock_token_verifier.go -package=mocks

package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yujin2003/swimpro-sub001/internal/auth"
	"github.com/yujin2003/swimpro-sub001/internal/storage"
)

// TokenVerifier validates the bearer token presented in an auth frame.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Relay processes inbound frames for every connection: the auth handshake,
// room joins and chat fan-out. Frames of one connection are handled one at
// a time on that connection's read pump.
type Relay struct {
	hub            *Hub
	verifier       TokenVerifier
	store          storage.MessageStore
	persistTimeout time.Duration
	log            *zap.Logger

	inflight sync.WaitGroup
}

// NewRelay wires a relay to its collaborators.
func NewRelay(hub *Hub, verifier TokenVerifier, store storage.MessageStore, log *zap.Logger, persistTimeout time.Duration) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	return &Relay{
		hub:            hub,
		verifier:       verifier,
		store:          store,
		persistTimeout: persistTimeout,
		log:            log,
	}
}

// HandleFrame decodes one raw frame from c and applies it. Malformed frames
// and unknown frame types are logged and dropped without a reply.
func (r *Relay) HandleFrame(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.log.Warn("invalid frame", zap.Error(err))
		return
	}

	switch frame.Type {
	case FrameAuth:
		r.handleAuth(c, frame)
	case FrameJoin:
		r.handleJoin(c, frame)
	case FrameChat:
		r.handleChat(c, frame)
	default:
		c.log.Warn("unknown frame type", zap.String("type", frame.Type))
	}
}

func (r *Relay) handleAuth(c *Client, frame Frame) {
	if frame.Token == "" {
		r.replyError(c, errTokenRequired)
		return
	}
	if c.identity != nil {
		r.replyError(c, errAlreadyAuthenticated)
		return
	}

	identity, err := r.verifier.Verify(frame.Token)
	if err != nil {
		c.log.Debug("token rejected", zap.Error(err))
		r.replyError(c, errInvalidToken)
		return
	}

	c.identity = &identity
	c.log.Info("client authenticated", zap.String("user_id", identity.UserID))
	r.reply(c, Reply{Message: msgAuthSucceeded})
}

func (r *Relay) handleJoin(c *Client, frame Frame) {
	if c.identity == nil {
		r.replyError(c, errAuthRequired)
		return
	}

	key, err := frame.postKey()
	if err != nil {
		c.log.Debug("join without usable postId", zap.Error(err))
		r.replyError(c, errPostIDRequired)
		return
	}

	roomID := RoomID(key)
	if !r.hub.Join(roomID, c) {
		c.log.Debug("join refused; client no longer registered", zap.String("room", roomID))
		return
	}
	c.log.Info("client joined room", zap.String("room", roomID), zap.String("user_id", c.identity.UserID))
	r.reply(c, Reply{Message: msgJoinSucceeded, Room: roomID})
}

func (r *Relay) handleChat(c *Client, frame Frame) {
	roomID, inRoom := r.hub.RoomOf(c)
	if c.identity == nil || !inRoom {
		r.replyError(c, errRoomJoinRequired)
		return
	}
	if frame.Text == "" {
		r.replyError(c, errTextRequired)
		return
	}

	payload, err := json.Marshal(ChatDelivery{SenderID: c.identity.UserID, Text: frame.Text})
	if err != nil {
		c.log.Error("error encoding chat delivery", zap.Error(err))
		return
	}

	r.persist(storage.Message{
		PostID:   PostKey(roomID),
		SenderID: c.identity.UserID,
		Content:  frame.Text,
	})
	r.hub.Broadcast(roomID, payload)
}

// persist stores the message on its own goroutine so delivery never waits
// on storage. Failures are logged.
func (r *Relay) persist(message storage.Message) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
		defer cancel()

		stored, err := r.store.Insert(ctx, message)
		if err != nil {
			r.log.Error("failed to persist chat message",
				zap.String("post_id", message.PostID),
				zap.String("sender_id", message.SenderID),
				zap.Error(err))
			return
		}
		r.log.Debug("chat message persisted",
			zap.String("post_id", stored.PostID),
			zap.String("message_id", stored.ID.String()))
	}()
}

func (r *Relay) reply(c *Client, reply Reply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		c.log.Error("error encoding reply", zap.Error(err))
		return
	}
	if !r.hub.safeSend(c, payload) {
		c.log.Debug("reply dropped; client queue unavailable")
	}
}

func (r *Relay) replyError(c *Client, text string) {
	r.reply(c, Reply{Error: text})
}

// Shutdown waits for in-flight message inserts, or until timeout.
func (r *Relay) Shutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("pending chat messages flushed")
		return nil
	case <-time.After(timeout):
		r.log.Warn("timed out waiting for pending chat messages")
		return context.DeadlineExceeded
	}
}
