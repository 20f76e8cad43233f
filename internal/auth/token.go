package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("expired token")
)

// now is replaced in tests.
var now = time.Now

// strict rejects non-zero trailing bits so every encoded character is significant.
var strict = base64.RawURLEncoding.Strict()

// SessionClaims is the payload of a session cookie. Exp is epoch milliseconds.
type SessionClaims struct {
	UserID   string  `json:"userId"`
	Email    string  `json:"email"`
	FullName *string `json:"fullName"`
	Exp      int64   `json:"exp"`
}

// StateClaims is the payload of an OAuth state token.
type StateClaims struct {
	Redirect string `json:"redirect"`
	Exp      int64  `json:"exp"`
}

// Sign encodes payload as base64url(JSON) "." base64url(HMAC-SHA256(JSON)).
func Sign(secret []byte, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(body) + "." + base64.RawURLEncoding.EncodeToString(mac(secret, body)), nil
}

// Verify checks the signature and expiry of token and decodes its payload into T.
func Verify[T any](secret []byte, token string) (T, error) {
	var out T

	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return out, ErrMalformed
	}
	body, err := strict.DecodeString(parts[0])
	if err != nil {
		return out, ErrMalformed
	}
	signature, err := strict.DecodeString(parts[1])
	if err != nil {
		return out, ErrInvalidSignature
	}
	// hmac.Equal ORs together every byte difference and fails on length mismatch.
	if !hmac.Equal(signature, mac(secret, body)) {
		return out, ErrInvalidSignature
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return out, ErrMalformed
	}
	var expiry struct {
		Exp *int64 `json:"exp"`
	}
	if err := json.Unmarshal(body, &expiry); err != nil {
		return out, ErrMalformed
	}
	if expiry.Exp != nil && now().UnixMilli() > *expiry.Exp {
		return out, ErrExpired
	}
	return out, nil
}

func IssueSession(secret []byte, userID, email string, fullName *string, ttl time.Duration) (string, SessionClaims, error) {
	claims := SessionClaims{
		UserID:   userID,
		Email:    email,
		FullName: fullName,
		Exp:      now().Add(ttl).UnixMilli(),
	}
	token, err := Sign(secret, claims)
	if err != nil {
		return "", SessionClaims{}, err
	}
	return token, claims, nil
}

func ParseSession(secret []byte, token string) (SessionClaims, error) {
	claims, err := Verify[SessionClaims](secret, token)
	if err != nil {
		return SessionClaims{}, err
	}
	if claims.UserID == "" {
		return SessionClaims{}, ErrMalformed
	}
	return claims, nil
}

func IssueState(secret []byte, redirect string, ttl time.Duration) (string, error) {
	return Sign(secret, StateClaims{Redirect: redirect, Exp: now().Add(ttl).UnixMilli()})
}

func ParseState(secret []byte, token string) (StateClaims, error) {
	return Verify[StateClaims](secret, token)
}

// ExpiresAt converts an epoch-millisecond exp claim to a time.
func ExpiresAt(exp int64) time.Time {
	return time.UnixMilli(exp)
}

func mac(secret, body []byte) []byte {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write(body)
	return sum.Sum(nil)
}

// HashToken is the key under which a token is stored on the revocation list.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
