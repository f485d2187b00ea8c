// Package auth verifies the bearer tokens presented by chat clients and by
// callers of the HTTP API. Tokens are issued elsewhere; this package only
// needs the shared HMAC secret.
package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenRequired is returned when no token was presented at all.
	ErrTokenRequired = errors.New("token required")
	// ErrInvalidToken is returned for malformed, expired or badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated user behind a token.
type Identity struct {
	UserID string
}

// userID accepts the userId claim as either a JSON string or a JSON number.
type userID string

func (u *userID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*u = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = userID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("userId must be a string or a number: %w", err)
	}
	*u = userID(n.String())
	return nil
}

func (u userID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(u), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(u) {
		return []byte(u), nil
	}
	return json.Marshal(string(u))
}

// Claims is the payload carried by chat tokens.
type Claims struct {
	UserID userID `json:"userId"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens against a shared secret.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier returns a Verifier bound to secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{
		secret: append([]byte(nil), secret...),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify parses tokenString, checks its signature and time-based claims and
// returns the identity it carries.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrTokenRequired
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.UserID == "" {
		return Identity{}, fmt.Errorf("%w: missing userId claim", ErrInvalidToken)
	}

	return Identity{UserID: string(claims.UserID)}, nil
}

// Issue signs a token for userID. A non-positive ttl produces a token
// without an expiry.
func Issue(secret []byte, id string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID(id),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   "swimpro",
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
