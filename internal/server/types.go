// Package server defines the JSON frames exchanged over chat connections and
// utility helpers that are reused across client, hub and relay logic.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Inbound frame types.
const (
	FrameAuth = "auth"
	FrameJoin = "join"
	FrameChat = "chat"
)

// Reply texts sent back to the originating client.
const (
	msgAuthSucceeded = "인증에 성공했습니다."
	msgJoinSucceeded = "채팅방에 입장했습니다."

	errTokenRequired        = "token required"
	errInvalidToken         = "invalid token"
	errAlreadyAuthenticated = "already authenticated"
	errAuthRequired         = "auth required"
	errPostIDRequired       = "postId required"
	errRoomJoinRequired     = "auth and room join required"
	errTextRequired         = "text required"
)

// roomPrefix is prepended to the thread key to form a room identifier.
const roomPrefix = "post-"

var errMissingPostID = errors.New("postId missing")

// Frame is an inbound client frame. Only the fields relevant to Type are set.
type Frame struct {
	Type   string          `json:"type"`
	Token  string          `json:"token,omitempty"`
	PostID json.RawMessage `json:"postId,omitempty"`
	Text   string          `json:"text,omitempty"`
}

// postKey renders the postId field, which clients send either as a JSON
// string or a JSON number, as the textual thread key.
func (f Frame) postKey() (string, error) {
	raw := bytes.TrimSpace(f.PostID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errMissingPostID
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		if s == "" {
			return "", errMissingPostID
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// RoomID derives the room identifier for a thread key.
func RoomID(postKey string) string {
	return roomPrefix + postKey
}

// PostKey recovers the thread key from a room identifier.
func PostKey(roomID string) string {
	return strings.TrimPrefix(roomID, roomPrefix)
}

// Reply is a server acknowledgement or protocol error sent to one client.
type Reply struct {
	Message string `json:"message,omitempty"`
	Room    string `json:"room,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ChatDelivery is fanned out to every member of a room.
type ChatDelivery struct {
	SenderID string `json:"senderId"`
	Text     string `json:"text"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
