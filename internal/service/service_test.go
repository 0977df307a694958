package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/queue"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/repository/repofake"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/utils"
)

const (
	testSecret   = "test-secret"
	testPassword = "correct-horse"
	testClient   = "http://client.test"
	chromeUA     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// syncAudit writes straight to the store so tests can assert immediately.
type syncAudit struct{ store *repofake.Audit }

func (a syncAudit) Record(e model.AuditLog) {
	_ = a.store.Create(context.Background(), &e)
}

type publisher struct {
	mu     sync.Mutex
	events []queue.SecurityEvent
}

func (p *publisher) Publish(_ context.Context, ev queue.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *publisher) ofType(typ string) []queue.SecurityEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []queue.SecurityEvent
	for _, ev := range p.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	users    *repofake.Users
	sessions *repofake.Sessions
	audit    *repofake.Audit
	events   *publisher
	clock    *clock
	auth     *AuthService
	svc      *SessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:    repofake.NewUsers(),
		sessions: repofake.NewSessions(),
		audit:    repofake.NewAudit(),
		events:   &publisher{},
		clock:    newClock(),
	}
	rec := syncAudit{store: f.audit}
	f.auth = NewAuthService(f.users, f.sessions, rec, testSecret,
		WithClock(f.clock.Now),
		WithBcryptCost(4),
		WithClientURL(testClient),
		WithPublisher(f.events),
	)
	f.svc = NewSessionService(f.sessions, rec, zerolog.Nop(), f.clock.Now)
	return f
}

// addUser stores an active account with testPassword.
func (f *fixture) addUser(t *testing.T, email, role string, consultancy *uint64) *model.User {
	t.Helper()
	hash, err := utils.HashPassword(testPassword, 4)
	require.NoError(t, err)
	u := &model.User{
		Email:         email,
		Name:          "Test User",
		PasswordHash:  hash,
		Role:          role,
		ConsultancyID: consultancy,
		IsActive:      true,
		CreatedAt:     f.clock.Now(),
	}
	f.users.Put(u)
	return u
}

func (f *fixture) login(t *testing.T, email string) *AuthResult {
	t.Helper()
	res, err := f.auth.Login(context.Background(), LoginInput{
		Email: email, Password: testPassword, Client: Client{IP: "10.0.0.1", UserAgent: chromeUA},
	})
	require.NoError(t, err)
	return res
}

func ptr(v uint64) *uint64 { return &v }

// jwtAt validates token times against the fixture clock.
func jwtAt(now time.Time) jwt.ParserOption {
	return jwt.WithTimeFunc(func() time.Time { return now })
}
