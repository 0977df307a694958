package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for opaque tokens
	"encoding/hex"  // hex encoding of random bytes and digests
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTypeAccess is the only value of the typ claim accepted by the access
// middleware.
const TokenTypeAccess = "access"

var (
	// ErrTokenExpired means the signature was fine but exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers bad signatures, malformed input and wrong algorithms.
	ErrTokenInvalid = errors.New("token invalid")
)

// AccessClaims is the payload of an access token.  Caps is the flattened
// role/sub-role set resolved at login; authorization checks only this set.
type AccessClaims struct {
	Email         string   `json:"email,omitempty"`
	Role          string   `json:"role"`
	SubRole       string   `json:"sub_role,omitempty"`
	ConsultancyID uint64   `json:"cid,omitempty"`
	Caps          []string `json:"caps"`
	SessionID     string   `json:"sid,omitempty"`
	Type          string   `json:"typ"`
	jwt.RegisteredClaims
}

// UserID parses the subject back into the numeric user id.
func (c *AccessClaims) UserID() (uint64, error) {
	return strconv.ParseUint(c.Subject, 10, 64)
}

// AccessSubject carries what gets embedded in an access token.
type AccessSubject struct {
	UserID        uint64
	Email         string
	Role          string
	SubRole       string
	ConsultancyID uint64
	Caps          []string
	SessionID     string
}

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents a long-lived opaque token.  Only HashToken(Raw)
// is ever persisted.
type RefreshToken struct {
	Raw string    // raw token string returned to the client
	Exp time.Time // UTC expiration time
}

// NewAccessToken builds and signs an HS256 JWT of type "access" for sub,
// valid for ttl from now.
func NewAccessToken(secret string, sub AccessSubject, ttl time.Duration, now time.Time) (AccessToken, error) {
	now = now.UTC()
	exp := now.Add(ttl)
	claims := AccessClaims{
		Email:         sub.Email,
		Role:          sub.Role,
		SubRole:       sub.SubRole,
		ConsultancyID: sub.ConsultancyID,
		Caps:          sub.Caps,
		SessionID:     sub.SessionID,
		Type:          TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(sub.UserID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseToken verifies signature and expiry and returns the claims.  The typ
// claim is left for the caller to check.  Errors are ErrTokenExpired or
// ErrTokenInvalid, wrapping the library error.
func ParseToken(secret, raw string, opts ...jwt.ParserOption) (*AccessClaims, error) {
	claims := &AccessClaims{}
	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}, opts...)
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// NewRefreshToken returns a cryptographically secure random token and its
// expiration time.
func NewRefreshToken(ttl time.Duration, now time.Time) (RefreshToken, error) {
	raw, err := RandomHex(48) // 48 bytes -> 96 hex chars
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: raw, Exp: now.UTC().Add(ttl)}, nil
}

// HashToken returns the SHA-256 hash of an opaque token as a hex string.
// Refresh and reset tokens are stored only in this form.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RandomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
