package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/audit"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/queue"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/repository/repofake"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/utils"
)

func TestLoginIssuesTokensAndSession(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "Student@Example.com", model.RoleStudent, ptr(7))

	res := f.login(t, "  student@example.COM ")
	require.NotNil(t, res.Session)
	assert.Len(t, res.RefreshToken, 96)
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), res.RefreshExpires)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), res.AccessExpires)
	assert.Equal(t, u.ID, res.Session.UserID)
	assert.Equal(t, "Chrome", res.Session.Browser)
	assert.Equal(t, model.DeviceDesktop, res.Session.DeviceType)

	claims, err := utils.ParseToken(testSecret, res.AccessToken, jwtAt(f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, utils.TokenTypeAccess, claims.Type)
	assert.Equal(t, res.Session.ID, claims.SessionID)
	assert.Equal(t, uint64(7), claims.ConsultancyID)
	assert.Equal(t, []string{model.RoleStudent}, claims.Caps)

	tok, ok := f.sessions.Token(res.Session.RefreshTokenID)
	require.True(t, ok)
	assert.Equal(t, utils.HashToken(res.RefreshToken), tok.TokenHash)
	assert.NotEqual(t, res.RefreshToken, tok.TokenHash)

	require.Len(t, f.audit.ByAction(model.ActionLogin), 1)
}

func TestLoginUnknownEmailIsGeneric(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "known@example.com", model.RoleStudent, nil)

	_, err := f.auth.Login(context.Background(), LoginInput{Email: "nobody@example.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.auth.Login(context.Background(), LoginInput{Email: "known@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	failed := f.audit.ByAction(model.ActionLoginFailed)
	require.Len(t, failed, 2)
	assert.Nil(t, failed[0].UserID)
	assert.Equal(t, "nobody@example.com", failed[0].UserEmail)
}

func TestLoginRejectsMissingFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.Login(context.Background(), LoginInput{Email: "a@b.c"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoginInactiveAccount(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "gone@example.com", model.RoleStudent, nil)
	u.IsActive = false
	f.users.Put(u)

	_, err := f.auth.Login(context.Background(), LoginInput{Email: "gone@example.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "lock@example.com", model.RoleStudent, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.auth.Login(ctx, LoginInput{Email: u.Email, Password: "bad-password"})
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
	}

	_, err := f.auth.Login(ctx, LoginInput{Email: u.Email, Password: testPassword})
	require.ErrorIs(t, err, ErrAccountLocked)
	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), locked.Until)
	assert.Equal(t, 15*time.Minute+time.Second, locked.RetryAfter(f.clock.Now()))

	assert.Len(t, f.audit.ByAction(model.ActionAccountLocked), 1)
	events := f.events.ofType(queue.EventAccountLocked)
	require.Len(t, events, 1)
	assert.Equal(t, u.ID, events[0].UserID)

	f.clock.Advance(15*time.Minute + time.Second)
	f.login(t, u.Email)

	stored, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginAttempts)
	assert.Nil(t, stored.LockUntil)
}

func TestSuccessfulLoginResetsFailureCount(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "reset@example.com", model.RoleStudent, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.auth.Login(ctx, LoginInput{Email: u.Email, Password: "bad-password"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	f.login(t, u.Email)

	// The count restarted, so four more failures still do not lock.
	for i := 0; i < 4; i++ {
		_, err := f.auth.Login(ctx, LoginInput{Email: u.Email, Password: "bad-password"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	f.login(t, u.Email)
	assert.Empty(t, f.audit.ByAction(model.ActionAccountLocked))
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "rot@example.com", model.RoleStudent, nil)
	first := f.login(t, "rot@example.com")
	f.clock.Advance(time.Minute)

	second, err := f.auth.Refresh(context.Background(), RefreshInput{Token: first.RefreshToken, Client: Client{IP: "10.0.0.2"}})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)

	old, ok := f.sessions.Token(first.Session.RefreshTokenID)
	require.True(t, ok)
	assert.True(t, old.IsRevoked)
	assert.Equal(t, model.RevokeRotated, old.RevokedReason)
	assert.Equal(t, second.Session.RefreshTokenID, old.ReplacedByToken)

	next, ok := f.sessions.Token(second.Session.RefreshTokenID)
	require.True(t, ok)
	assert.Equal(t, old.FamilyID, next.FamilyID)
	assert.False(t, next.IsRevoked)

	for _, s := range f.sessions.AllSessions() {
		switch s.ID {
		case first.Session.ID:
			assert.False(t, s.IsActive)
			assert.Equal(t, model.EndReplaced, s.EndReason)
		case second.Session.ID:
			assert.True(t, s.IsActive)
		}
	}
	assert.Len(t, f.audit.ByAction(model.ActionTokenRefresh), 1)
}

func TestRefreshSameTokenTwice(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "twice@example.com", model.RoleStudent, nil)
	first := f.login(t, "twice@example.com")
	ctx := context.Background()

	second, err := f.auth.Refresh(ctx, RefreshInput{Token: first.RefreshToken})
	require.NoError(t, err)

	_, err = f.auth.Refresh(ctx, RefreshInput{Token: first.RefreshToken})
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// A replay inside the grace window leaves the new token usable.
	_, err = f.auth.Refresh(ctx, RefreshInput{Token: second.RefreshToken})
	assert.NoError(t, err)
	assert.Empty(t, f.audit.ByAction(model.ActionTokenReuseDetected))
}

func TestConcurrentRefreshOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "race@example.com", model.RoleStudent, nil)
	first := f.login(t, "race@example.com")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		revoked int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.auth.Refresh(context.Background(), RefreshInput{Token: first.RefreshToken})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrTokenRevoked):
				revoked++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, revoked)
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "thief@example.com", model.RoleStudent, nil)
	first := f.login(t, u.Email)
	ctx := context.Background()

	second, err := f.auth.Refresh(ctx, RefreshInput{Token: first.RefreshToken})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.auth.Refresh(ctx, RefreshInput{Token: first.RefreshToken, Client: Client{IP: "203.0.113.9"}})
	require.ErrorIs(t, err, ErrTokenRevoked)

	tok, ok := f.sessions.Token(second.Session.RefreshTokenID)
	require.True(t, ok)
	assert.True(t, tok.IsRevoked)
	assert.Equal(t, model.RevokeReuseDetected, tok.RevokedReason)

	_, err = f.auth.Refresh(ctx, RefreshInput{Token: second.RefreshToken})
	assert.ErrorIs(t, err, ErrTokenRevoked)

	reuse := f.audit.ByAction(model.ActionTokenReuseDetected)
	require.Len(t, reuse, 1)
	assert.Equal(t, model.StatusWarning, reuse[0].Status)
	require.Len(t, f.events.ofType(queue.EventTokenReuseDetected), 1)

	active, err := f.svc.GetActiveSessions(ctx, u.ID, "")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRefreshExpiredAndUnknown(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "exp@example.com", model.RoleStudent, nil)
	res := f.login(t, "exp@example.com")
	ctx := context.Background()

	_, err := f.auth.Refresh(ctx, RefreshInput{Token: "deadbeef"})
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.auth.Refresh(ctx, RefreshInput{Token: "  "})
	assert.ErrorIs(t, err, ErrInvalidToken)

	f.clock.Advance(7 * 24 * time.Hour)
	_, err = f.auth.Refresh(ctx, RefreshInput{Token: res.RefreshToken})
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestLogoutRevokesCurrentSession(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "out@example.com", model.RoleStudent, nil)
	res := f.login(t, u.Email)
	ctx := context.Background()

	require.NoError(t, f.auth.Logout(ctx, LogoutInput{RefreshToken: res.RefreshToken, UserID: u.ID}))

	tok, _ := f.sessions.Token(res.Session.RefreshTokenID)
	assert.True(t, tok.IsRevoked)
	assert.Equal(t, model.RevokeLogout, tok.RevokedReason)
	for _, s := range f.sessions.AllSessions() {
		assert.False(t, s.IsActive)
		assert.Equal(t, model.EndLogout, s.EndReason)
	}

	// Idempotent.
	assert.NoError(t, f.auth.Logout(ctx, LogoutInput{RefreshToken: res.RefreshToken, UserID: u.ID}))
	_, err := f.auth.Refresh(ctx, RefreshInput{Token: res.RefreshToken})
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestLogoutBySessionID(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "sid@example.com", model.RoleStudent, nil)
	other := f.addUser(t, "other@example.com", model.RoleStudent, nil)
	res := f.login(t, u.Email)
	ctx := context.Background()

	err := f.auth.Logout(ctx, LogoutInput{SessionID: res.Session.ID, UserID: other.ID})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, f.auth.Logout(ctx, LogoutInput{SessionID: res.Session.ID, UserID: u.ID}))
	active, err := f.svc.GetActiveSessions(ctx, u.ID, "")
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, f.auth.Logout(ctx, LogoutInput{}), ErrInvalidToken)
}

func TestRevokeChecksOwner(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "rv@example.com", model.RoleStudent, nil)
	other := f.addUser(t, "rv2@example.com", model.RoleStudent, nil)
	res := f.login(t, u.Email)
	ctx := context.Background()

	assert.ErrorIs(t, f.auth.Revoke(ctx, res.RefreshToken, other.ID, Client{}), ErrInvalidToken)
	require.NoError(t, f.auth.Revoke(ctx, res.RefreshToken, u.ID, Client{}))
	assert.ErrorIs(t, f.auth.Revoke(ctx, res.RefreshToken, u.ID, Client{}), ErrTokenRevoked)
	assert.ErrorIs(t, f.auth.Revoke(ctx, "", u.ID, Client{}), ErrInvalidToken)
}

func TestRevokeAllOtherSessions(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "many@example.com", model.RoleStudent, nil)
	current := f.login(t, u.Email)
	f.login(t, u.Email)
	f.login(t, u.Email)
	ctx := context.Background()

	n, err := f.auth.RevokeAllOtherSessions(ctx, u.ID, current.Session.ID, Client{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, err := f.svc.GetActiveSessions(ctx, u.ID, current.Session.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].IsCurrent)

	_, err = f.auth.Refresh(ctx, RefreshInput{Token: current.RefreshToken})
	assert.NoError(t, err)
}

func TestRevokeAllOtherSessionsAfterRefresh(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "stale@example.com", model.RoleStudent, nil)
	ctx := context.Background()
	first := f.login(t, u.Email)
	other := f.login(t, u.Email)

	f.clock.Advance(time.Minute)
	rotated, err := f.auth.Refresh(ctx, RefreshInput{Token: first.RefreshToken})
	require.NoError(t, err)

	// The access token from before the refresh still names the replaced session.
	n, err := f.auth.RevokeAllOtherSessions(ctx, u.ID, first.Session.ID, Client{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := f.svc.GetActiveSessions(ctx, u.ID, rotated.Session.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, rotated.Session.ID, active[0].ID)

	_, err = f.auth.Refresh(ctx, RefreshInput{Token: other.RefreshToken})
	assert.ErrorIs(t, err, ErrTokenRevoked)
	_, err = f.auth.Refresh(ctx, RefreshInput{Token: rotated.RefreshToken})
	assert.NoError(t, err)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.auth.Register(ctx, RegisterInput{Name: "Ana", Email: "Ana@Example.com", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.Equal(t, model.RoleStudent, u.Role)
	assert.NotZero(t, u.ID)

	_, err = f.auth.Register(ctx, RegisterInput{Name: "Ana", Email: "ana@example.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrEmailExists)
	_, err = f.auth.Register(ctx, RegisterInput{Name: "Ana", Email: "b@example.com", Password: "short"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.login(t, "ana@example.com")
}

func TestChangePasswordKeepsCurrentSession(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "chg@example.com", model.RoleStudent, nil)
	current := f.login(t, u.Email)
	other := f.login(t, u.Email)
	ctx := context.Background()

	_, err := f.auth.ChangePassword(ctx, ChangePasswordInput{UserID: u.ID, Current: "nope", Next: "new-password-1"})
	assert.ErrorIs(t, err, ErrWrongPassword)
	_, err = f.auth.ChangePassword(ctx, ChangePasswordInput{UserID: u.ID, Current: testPassword, Next: "short"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	n, err := f.auth.ChangePassword(ctx, ChangePasswordInput{
		UserID: u.ID, Current: testPassword, Next: "new-password-1", CurrentSessionID: current.Session.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tok, _ := f.sessions.Token(other.Session.RefreshTokenID)
	assert.Equal(t, model.RevokePasswordChanged, tok.RevokedReason)

	_, err = f.auth.Login(ctx, LoginInput{Email: u.Email, Password: testPassword})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.auth.Login(ctx, LoginInput{Email: u.Email, Password: "new-password-1"})
	assert.NoError(t, err)
	assert.Len(t, f.events.ofType(queue.EventPasswordChanged), 1)
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "forgot@example.com", model.RoleStudent, nil)
	f.login(t, u.Email)
	ctx := context.Background()

	require.NoError(t, f.auth.ForgotPassword(ctx, "FORGOT@example.com", Client{}))
	events := f.events.ofType(queue.EventPasswordResetRequested)
	require.Len(t, events, 1)
	prefix := testClient + "/resetpassword/"
	require.True(t, strings.HasPrefix(events[0].Link, prefix))
	raw := strings.TrimPrefix(events[0].Link, prefix)
	assert.Len(t, raw, 64)

	stored, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, utils.HashToken(raw), stored.ResetTokenHash)

	require.NoError(t, f.auth.ResetPassword(ctx, raw, "brand-new-pass", Client{}))
	active, err := f.svc.GetActiveSessions(ctx, u.ID, "")
	require.NoError(t, err)
	assert.Empty(t, active)
	changed := f.events.ofType(queue.EventPasswordChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "reset", changed[0].Details["via"])

	assert.ErrorIs(t, f.auth.ResetPassword(ctx, raw, "brand-new-pass", Client{}), ErrInvalidResetToken)
	_, err = f.auth.Login(ctx, LoginInput{Email: u.Email, Password: "brand-new-pass"})
	assert.NoError(t, err)
	assert.Len(t, f.audit.ByAction(model.ActionPasswordResetComplete), 1)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.auth.ForgotPassword(context.Background(), "ghost@example.com", Client{}))
	assert.Empty(t, f.events.ofType(queue.EventPasswordResetRequested))
}

func TestResetTokenExpires(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "slow@example.com", model.RoleStudent, nil)
	ctx := context.Background()

	require.NoError(t, f.auth.ForgotPassword(ctx, u.Email, Client{}))
	raw := strings.TrimPrefix(f.events.ofType(queue.EventPasswordResetRequested)[0].Link, testClient+"/resetpassword/")

	f.clock.Advance(11 * time.Minute)
	assert.ErrorIs(t, f.auth.ResetPassword(ctx, raw, "brand-new-pass", Client{}), ErrInvalidResetToken)
}

func TestUnlockAccountScopedToConsultancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.addUser(t, "locked@example.com", model.RoleStudent, ptr(7))
	stranger := f.addUser(t, "elsewhere@example.com", model.RoleStudent, ptr(8))

	for i := 0; i < 5; i++ {
		_, _ = f.auth.Login(ctx, LoginInput{Email: target.Email, Password: "bad-password"})
	}
	_, err := f.auth.Login(ctx, LoginInput{Email: target.Email, Password: testPassword})
	require.ErrorIs(t, err, ErrAccountLocked)

	admin := Actor{UserID: 99, Role: model.RoleConsultancyAdmin, ConsultancyID: 7}
	assert.ErrorIs(t, f.auth.UnlockAccount(ctx, admin, stranger.ID, Client{}), ErrUserNotFound)
	assert.ErrorIs(t, f.auth.UnlockAccount(ctx, admin, 12345, Client{}), ErrUserNotFound)

	require.NoError(t, f.auth.UnlockAccount(ctx, admin, target.ID, Client{}))
	f.login(t, target.Email)
	assert.Len(t, f.audit.ByAction(model.ActionAccountUnlocked), 1)

	root := Actor{UserID: 1, Role: model.RoleSuperAdmin}
	assert.NoError(t, f.auth.UnlockAccount(ctx, root, stranger.ID, Client{}))
}

func TestAuditFailureDoesNotFailLogin(t *testing.T) {
	users := repofake.NewUsers()
	hash, err := utils.HashPassword(testPassword, 4)
	require.NoError(t, err)
	users.Put(&model.User{Email: "a@example.com", PasswordHash: hash, Role: model.RoleStudent, IsActive: true})

	store := repofake.NewAudit()
	store.Err = errors.New("audit table unavailable")
	rec := audit.NewRecorder(store, zerolog.Nop())
	svc := NewAuthService(users, repofake.NewSessions(), rec, testSecret, WithBcryptCost(4))

	_, err = svc.Login(context.Background(), LoginInput{Email: "a@example.com", Password: testPassword})
	require.NoError(t, err)
	rec.Wait()
	assert.Empty(t, store.Entries())
}

func TestMeUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.Me(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
