package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/ids"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/obs"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/queue"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/repository"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/utils"
)

// AuthService issues, rotates and revokes credentials.
type AuthService struct {
	users    UserStore
	sessions SessionStore
	audit    AuditRecorder
	events   EventPublisher
	log      zerolog.Logger

	secret      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	bcryptCost  int
	maxAttempts int
	lockFor     time.Duration
	resetTTL    time.Duration
	reuseGrace  time.Duration
	clientURL   string
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*AuthService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenTTL sets access and refresh token lifetimes.
func WithTokenTTL(access, refresh time.Duration) Option {
	return func(s *AuthService) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

// WithBcryptCost sets the hashing cost for new passwords.
func WithBcryptCost(cost int) Option {
	return func(s *AuthService) {
		if cost > 0 {
			s.bcryptCost = cost
		}
	}
}

// WithLockout sets the failure threshold and lock duration.
func WithLockout(maxAttempts int, lockFor time.Duration) Option {
	return func(s *AuthService) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if lockFor > 0 {
			s.lockFor = lockFor
		}
	}
}

// WithResetTokenTTL sets the lifetime of password reset tokens.
func WithResetTokenTTL(d time.Duration) Option {
	return func(s *AuthService) {
		if d > 0 {
			s.resetTTL = d
		}
	}
}

// WithReuseGrace sets how long after rotation a replayed token is treated
// as a benign retry instead of theft.
func WithReuseGrace(d time.Duration) Option {
	return func(s *AuthService) {
		if d >= 0 {
			s.reuseGrace = d
		}
	}
}

// WithClientURL sets the front-end origin used to build reset links.
func WithClientURL(u string) Option {
	return func(s *AuthService) { s.clientURL = strings.TrimRight(u, "/") }
}

// WithPublisher enables security event publishing.
func WithPublisher(p EventPublisher) Option {
	return func(s *AuthService) { s.events = p }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *AuthService) { s.log = l.With().Str("component", "auth").Logger() }
}

func NewAuthService(users UserStore, sessions SessionStore, audit AuditRecorder, secret string, opts ...Option) *AuthService {
	s := &AuthService{
		users:       users,
		sessions:    sessions,
		audit:       audit,
		log:         zerolog.Nop(),
		secret:      secret,
		accessTTL:   15 * time.Minute,
		refreshTTL:  7 * 24 * time.Hour,
		bcryptCost:  10,
		maxAttempts: 5,
		lockFor:     15 * time.Minute,
		resetTTL:    10 * time.Minute,
		reuseGrace:  10 * time.Second,
		clientURL:   "http://localhost:3000",
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthResult is what a successful login or refresh hands back.  The
// plaintext refresh token appears here and nowhere else.
type AuthResult struct {
	AccessToken    string
	AccessExpires  time.Time
	RefreshToken   string
	RefreshExpires time.Time
	User           *model.User
	Session        *model.Session
}

type LoginInput struct {
	Email    string
	Password string
	Client   Client
}

// Login verifies credentials and opens a session.  Unknown emails, wrong
// passwords and disabled accounts all yield ErrInvalidCredentials, and an
// unknown email still pays for one bcrypt comparison.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := repository.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, invalid("email and password are required")
	}
	now := s.now()

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		utils.VerifyPassword(s.dummy(), in.Password)
		s.record(in.Client, nil, email, model.ActionLoginFailed, model.StatusFailure, "invalid credentials", nil)
		obs.LoginTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if u.IsLocked(now) {
		s.record(in.Client, &u.ID, u.Email, model.ActionLoginFailed, model.StatusWarning, "account locked",
			map[string]any{"lockUntil": u.LockUntil.UTC().Format(time.RFC3339)})
		obs.LoginTotal.WithLabelValues("locked").Inc()
		return nil, &LockedError{Until: *u.LockUntil}
	}

	if !utils.VerifyPassword(u.PasswordHash, in.Password) {
		s.failLogin(ctx, u, in.Client, now)
		obs.LoginTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		s.record(in.Client, &u.ID, u.Email, model.ActionLoginFailed, model.StatusFailure, "account disabled", nil)
		obs.LoginTotal.WithLabelValues("disabled").Inc()
		return nil, ErrInvalidCredentials
	}

	if u.LoginAttempts > 0 || u.LockUntil != nil {
		if err := s.users.ResetLoginState(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("reset login state: %w", err)
		}
		u.LoginAttempts = 0
		u.LockUntil = nil
	}

	res, err := s.open(ctx, u, in.Client, now)
	if err != nil {
		return nil, err
	}
	s.record(in.Client, &u.ID, u.Email, model.ActionLogin, model.StatusSuccess, "",
		map[string]any{"sessionId": res.Session.ID, "refreshTokenId": res.Session.RefreshTokenID})
	obs.LoginTotal.WithLabelValues("success").Inc()
	return res, nil
}

func (s *AuthService) failLogin(ctx context.Context, u *model.User, c Client, now time.Time) {
	fail, err := s.users.RegisterFailedLogin(ctx, u.ID, now, s.maxAttempts, s.lockFor)
	if err != nil {
		s.log.Error().Err(err).Uint64("user_id", u.ID).Msg("count failed login")
	}
	s.record(c, &u.ID, u.Email, model.ActionLoginFailed, model.StatusFailure, "invalid credentials",
		map[string]any{"attempts": fail.Attempts})
	if !fail.Locked || fail.LockUntil == nil {
		return
	}
	until := fail.LockUntil.UTC().Format(time.RFC3339)
	s.record(c, &u.ID, u.Email, model.ActionAccountLocked, model.StatusWarning, "",
		map[string]any{"attempts": fail.Attempts, "lockUntil": until})
	s.publish(ctx, queue.SecurityEvent{
		Type: queue.EventAccountLocked, UserID: u.ID, Email: u.Email, IP: c.IP, UserAgent: c.UserAgent,
		Details: map[string]string{"lock_until": until, "attempts": strconv.Itoa(fail.Attempts)},
	}, u)
}

// open mints a refresh token and its session in one write, then signs an
// access token bound to the session.
func (s *AuthService) open(ctx context.Context, u *model.User, c Client, now time.Time) (*AuthResult, error) {
	refresh, err := utils.NewRefreshToken(s.refreshTTL, now)
	if err != nil {
		return nil, fmt.Errorf("issue refresh: %w", err)
	}
	tok := &model.RefreshToken{
		ID:          ids.New(),
		UserID:      u.ID,
		FamilyID:    ids.New(),
		TokenHash:   utils.HashToken(refresh.Raw),
		ExpiresAt:   refresh.Exp,
		CreatedByIP: c.IP,
		UserAgent:   c.UserAgent,
		CreatedAt:   now,
	}
	sess := newSession(c, now, refresh.Exp)
	if err := s.sessions.Create(ctx, tok, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return s.result(u, sess, refresh, now)
}

func (s *AuthService) result(u *model.User, sess *model.Session, refresh utils.RefreshToken, now time.Time) (*AuthResult, error) {
	access, err := utils.NewAccessToken(s.secret, subjectFor(u, sess.ID), s.accessTTL, now)
	if err != nil {
		return nil, fmt.Errorf("issue access: %w", err)
	}
	return &AuthResult{
		AccessToken:    access.Token,
		AccessExpires:  access.Exp,
		RefreshToken:   refresh.Raw,
		RefreshExpires: refresh.Exp,
		User:           u,
		Session:        sess,
	}, nil
}

type RefreshInput struct {
	Token  string
	Client Client
}

// Refresh exchanges a refresh token for a new token pair.  The presented
// token is single-use: it is revoked and its session replaced in the same
// transaction that stores the successor.  Replaying a token that was
// rotated longer than the grace window ago revokes the whole family.
func (s *AuthService) Refresh(ctx context.Context, in RefreshInput) (*AuthResult, error) {
	raw := strings.TrimSpace(in.Token)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	hash := utils.HashToken(raw)
	now := s.now()

	tok, err := s.sessions.FindByHash(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		obs.RefreshTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh: %w", err)
	}
	if tok.IsRevoked {
		s.onRevokedPresented(ctx, tok, in.Client, now)
		obs.RefreshTotal.WithLabelValues("revoked").Inc()
		return nil, ErrTokenRevoked
	}
	if tok.IsExpired(now) {
		obs.RefreshTotal.WithLabelValues("expired").Inc()
		return nil, ErrTokenExpired
	}

	u, err := s.users.GetByID(ctx, tok.UserID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !u.IsActive) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	refresh, err := utils.NewRefreshToken(s.refreshTTL, now)
	if err != nil {
		return nil, fmt.Errorf("issue refresh: %w", err)
	}
	next := &model.RefreshToken{
		ID:          ids.New(),
		TokenHash:   utils.HashToken(refresh.Raw),
		ExpiresAt:   refresh.Exp,
		CreatedByIP: in.Client.IP,
		UserAgent:   in.Client.UserAgent,
		CreatedAt:   now,
	}
	sess := newSession(in.Client, now, refresh.Exp)
	rev := repository.Revocation{At: now, IP: in.Client.IP, Reason: model.RevokeRotated, EndReason: model.EndReplaced}

	if _, err := s.sessions.Rotate(ctx, hash, rev, next, sess); err != nil {
		switch {
		case errors.Is(err, repository.ErrTokenRevoked):
			obs.RefreshTotal.WithLabelValues("revoked").Inc()
			return nil, ErrTokenRevoked
		case errors.Is(err, repository.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("rotate refresh: %w", err)
	}

	res, err := s.result(u, sess, refresh, now)
	if err != nil {
		return nil, err
	}
	s.record(in.Client, &u.ID, u.Email, model.ActionTokenRefresh, model.StatusSuccess, "",
		map[string]any{"sessionId": sess.ID, "previousTokenId": tok.ID})
	obs.RefreshTotal.WithLabelValues("success").Inc()
	return res, nil
}

// onRevokedPresented handles a refresh attempt with a revoked token.  Only
// rotated tokens replayed after the grace window count as theft.
func (s *AuthService) onRevokedPresented(ctx context.Context, tok *model.RefreshToken, c Client, now time.Time) {
	if tok.RevokedReason != model.RevokeRotated || tok.RevokedAt == nil || now.Sub(*tok.RevokedAt) <= s.reuseGrace {
		return
	}
	n, err := s.sessions.RevokeFamily(ctx, tok.FamilyID, repository.Revocation{
		At: now, IP: c.IP, Reason: model.RevokeReuseDetected, EndReason: model.EndRevoked,
	})
	if err != nil {
		s.log.Error().Err(err).Str("family_id", tok.FamilyID).Msg("revoke token family")
	}

	var email string
	u, uerr := s.users.GetByID(ctx, tok.UserID)
	if uerr == nil {
		email = u.Email
	}
	s.record(c, &tok.UserID, email, model.ActionTokenReuseDetected, model.StatusWarning, "rotated refresh token replayed",
		map[string]any{"familyId": tok.FamilyID, "tokenId": tok.ID, "revokedTokens": n})
	s.publish(ctx, queue.SecurityEvent{
		Type: queue.EventTokenReuseDetected, UserID: tok.UserID, Email: email, IP: c.IP, UserAgent: c.UserAgent,
		Details: map[string]string{"family_id": tok.FamilyID, "revoked_tokens": strconv.FormatInt(n, 10)},
	}, u)
}

type LogoutInput struct {
	RefreshToken string
	SessionID    string
	UserID       uint64
	Client       Client
}

// Logout ends the caller's current session, identified by its refresh
// token or, when that is gone, by the session id of the access token.
// Logging out a token that is already revoked succeeds.
func (s *AuthService) Logout(ctx context.Context, in LogoutInput) error {
	now := s.now()
	rev := repository.Revocation{At: now, IP: in.Client.IP, Reason: model.RevokeLogout, EndReason: model.EndLogout}

	userID := in.UserID
	details := map[string]any{}
	switch raw := strings.TrimSpace(in.RefreshToken); {
	case raw != "":
		tok, err := s.sessions.RevokeByHash(ctx, utils.HashToken(raw), in.UserID, rev)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return ErrInvalidToken
		case errors.Is(err, repository.ErrTokenRevoked):
			return nil
		case err != nil:
			return fmt.Errorf("revoke refresh: %w", err)
		}
		userID = tok.UserID
		details["refreshTokenId"] = tok.ID
	case in.SessionID != "" && in.UserID != 0:
		err := s.sessions.RevokeSession(ctx, in.UserID, in.SessionID, rev)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
		details["sessionId"] = in.SessionID
	default:
		return ErrInvalidToken
	}

	s.record(in.Client, &userID, "", model.ActionLogout, model.StatusSuccess, "", details)
	return nil
}

// Revoke invalidates one refresh token and its session.  When userID is
// non zero the token must belong to that user.
func (s *AuthService) Revoke(ctx context.Context, token string, userID uint64, c Client) error {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return ErrInvalidToken
	}
	now := s.now()
	tok, err := s.sessions.RevokeByHash(ctx, utils.HashToken(raw), userID, repository.Revocation{
		At: now, IP: c.IP, Reason: model.RevokeLogout, EndReason: model.EndRevoked,
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrInvalidToken
	case errors.Is(err, repository.ErrTokenRevoked):
		return ErrTokenRevoked
	case err != nil:
		return fmt.Errorf("revoke refresh: %w", err)
	}
	s.record(c, &tok.UserID, "", model.ActionSessionRevoke, model.StatusSuccess, "",
		map[string]any{"refreshTokenId": tok.ID})
	return nil
}

// RevokeAllOtherSessions logs the user out everywhere except the session
// identified by currentSessionID and returns how many sessions ended.
func (s *AuthService) RevokeAllOtherSessions(ctx context.Context, userID uint64, currentSessionID string, c Client) (int64, error) {
	n, err := s.sessions.RevokeAllForUser(ctx, userID, currentSessionID, repository.Revocation{
		At: s.now(), IP: c.IP, Reason: model.RevokeLogoutAllDevices, EndReason: model.EndRevokedAllDevices,
	})
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	s.record(c, &userID, "", model.ActionLogoutAllDevices, model.StatusSuccess, "",
		map[string]any{"count": n, "keptSessionId": currentSessionID})
	return n, nil
}

// Me returns the user behind an authenticated request.
func (s *AuthService) Me(ctx context.Context, userID uint64) (*model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = utils.HashPassword("timing-equalizer-"+ids.New(), s.bcryptCost)
	})
	return s.dummyHash
}

func (s *AuthService) record(c Client, userID *uint64, email, action, status, errMsg string, details map[string]any) {
	if s.audit == nil {
		return
	}
	if len(details) == 0 {
		details = nil
	}
	s.audit.Record(model.AuditLog{
		UserID:       userID,
		UserEmail:    email,
		Action:       action,
		Resource:     "auth",
		Method:       c.Method,
		Endpoint:     c.Endpoint,
		IP:           c.IP,
		UserAgent:    c.UserAgent,
		Status:       status,
		Details:      details,
		ErrorMessage: errMsg,
	})
}

// publish sends ev with a bounded context detached from the request.
// Failures are logged by the publisher and otherwise ignored.
func (s *AuthService) publish(ctx context.Context, ev queue.SecurityEvent, u *model.User) {
	if s.events == nil {
		s.log.Warn().Str("type", ev.Type).Uint64("user_id", ev.UserID).Msg("no event publisher configured")
		return
	}
	if u != nil && u.ConsultancyID != nil {
		ev.ConsultancyID = *u.ConsultancyID
	}
	if ev.OccurredAt == "" {
		ev.OccurredAt = s.now().Format(time.RFC3339)
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	_ = s.events.Publish(pctx, ev)
}

func subjectFor(u *model.User, sessionID string) utils.AccessSubject {
	sub := utils.AccessSubject{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      u.Role,
		SubRole:   u.SubRole,
		Caps:      u.Capabilities(),
		SessionID: sessionID,
	}
	if u.ConsultancyID != nil {
		sub.ConsultancyID = *u.ConsultancyID
	}
	return sub
}

func newSession(c Client, now, expires time.Time) *model.Session {
	info := utils.ParseUserAgent(c.UserAgent)
	return &model.Session{
		ID:           ids.New(),
		IP:           c.IP,
		UserAgent:    c.UserAgent,
		Browser:      info.Browser,
		OS:           info.OS,
		DeviceType:   info.DeviceType,
		LastActivity: now,
		ExpiresAt:    expires,
		CreatedAt:    now,
	}
}
