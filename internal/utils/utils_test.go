package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

const secret = "test-secret"

func TestAccessTokenRoundTrip(t *testing.T) {
	sub := AccessSubject{
		UserID: 42, Email: "a@b.c", Role: model.RoleConsultancyStaff, SubRole: model.SubRoleManager,
		ConsultancyID: 3, Caps: []string{model.RoleConsultancyStaff, model.SubRoleManager}, SessionID: "sess-1",
	}
	tok, err := NewAccessToken(secret, sub, 15*time.Minute, time.Now())
	require.NoError(t, err)

	claims, err := ParseToken(secret, tok.Token)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, TokenTypeAccess, claims.Type)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, []string{model.RoleConsultancyStaff, model.SubRoleManager}, claims.Caps)
	assert.Equal(t, uint64(3), claims.ConsultancyID)
	assert.NotEmpty(t, claims.ID)
}

func TestParseTokenExpired(t *testing.T) {
	tok, err := NewAccessToken(secret, AccessSubject{UserID: 1, Role: model.RoleStudent}, time.Hour, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = ParseToken(secret, tok.Token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestParseTokenWrongSecret(t *testing.T) {
	tok, err := NewAccessToken(secret, AccessSubject{UserID: 1}, time.Hour, time.Now())
	require.NoError(t, err)

	_, err = ParseToken("other", tok.Token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := AccessClaims{Type: TokenTypeAccess, RegisteredClaims: jwt.RegisteredClaims{
		Subject: "1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(secret, raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshTokenIsRandomAndHashed(t *testing.T) {
	now := time.Now().UTC()
	a, err := NewRefreshToken(7*24*time.Hour, now)
	require.NoError(t, err)
	b, err := NewRefreshToken(7*24*time.Hour, now)
	require.NoError(t, err)

	assert.Len(t, a.Raw, 96)
	assert.NotEqual(t, a.Raw, b.Raw)
	assert.Equal(t, now.Add(7*24*time.Hour), a.Exp)
	assert.Len(t, HashToken(a.Raw), 64)
	assert.Equal(t, HashToken(a.Raw), HashToken(a.Raw))
	assert.NotEqual(t, a.Raw, HashToken(a.Raw))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse", 4)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "correct horse"))
	assert.False(t, VerifyPassword(hash, "battery staple"))
	assert.False(t, VerifyPassword("not-a-hash", "correct horse"))
}

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		device  string
		browser string
	}{
		{"desktop chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", model.DeviceDesktop, "Chrome"},
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1", model.DeviceMobile, "Safari"},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1", model.DeviceTablet, "Safari"},
		{"bot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", model.DeviceBot, ""},
		{"empty", "", model.DeviceUnknown, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseUserAgent(tt.ua)
			assert.Equal(t, tt.device, info.DeviceType)
			if tt.browser != "" {
				assert.Equal(t, tt.browser, info.Browser)
			}
		})
	}

	win := ParseUserAgent(tests[0].ua)
	assert.True(t, strings.HasPrefix(win.OS, "Windows"), win.OS)
}
