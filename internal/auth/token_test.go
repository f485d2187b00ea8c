package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("a-test-secret-long-enough-for-hs256")

func TestVerifier_Verify(t *testing.T) {
	verifier := NewVerifier(testSecret)

	valid, err := Issue(testSecret, "alice", time.Hour)
	require.NoError(t, err)
	wrongSecret, err := Issue([]byte("another-secret-entirely-0123456"), "alice", time.Hour)
	require.NoError(t, err)
	noExpiry, err := Issue(testSecret, "alice", 0)
	require.NoError(t, err)
	expiredClaims := &Claims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	expiredToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expiredClaims).SignedString(testSecret)
	require.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString(testSecret)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"userId": "alice"}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		want    Identity
		wantErr error
	}{
		{"valid token", valid, Identity{UserID: "alice"}, nil},
		{"token without expiry", noExpiry, Identity{UserID: "alice"}, nil},
		{"empty token", "", Identity{}, ErrTokenRequired},
		{"malformed token", "not.a.jwt", Identity{}, ErrInvalidToken},
		{"wrong secret", wrongSecret, Identity{}, ErrInvalidToken},
		{"expired token", expiredToken, Identity{}, ErrInvalidToken},
		{"missing userId claim", noUser, Identity{}, ErrInvalidToken},
		{"unexpected algorithm", hs512, Identity{}, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			got, err := verifier.Verify(tt.token)
			if tt.wantErr != nil {
				req.ErrorIs(err, tt.wantErr)
				req.Equal(Identity{}, got)
				return
			}
			req.NoError(err)
			req.Equal(tt.want, got)
		})
	}
}

func TestVerifier_NumericUserID(t *testing.T) {
	req := require.New(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": 42}).SignedString(testSecret)
	req.NoError(err)

	identity, err := NewVerifier(testSecret).Verify(token)
	req.NoError(err)
	req.Equal("42", identity.UserID)
}

func TestIssue_NumericUserIDRoundTrip(t *testing.T) {
	req := require.New(t)
	token, err := Issue(testSecret, "7", time.Minute)
	req.NoError(err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	req.NoError(err)
	claims := parsed.Claims.(jwt.MapClaims)
	req.EqualValues(7, claims["userId"])
	req.Equal("swimpro", claims["iss"])
}

func TestIssue_LeadingZeroUserIDStaysString(t *testing.T) {
	req := require.New(t)
	token, err := Issue(testSecret, "007", time.Minute)
	req.NoError(err)

	identity, err := NewVerifier(testSecret).Verify(token)
	req.NoError(err)
	req.Equal("007", identity.UserID)
}
