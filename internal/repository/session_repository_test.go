package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

var tokenCols = []string{"id", "user_id", "family_id", "token_hash", "expires_at", "created_by_ip", "user_agent",
	"is_revoked", "revoked_at", "revoked_by_ip", "revoked_reason", "replaced_by_token", "created_at"}

var sessionCols = []string{"id", "user_id", "refresh_token_id", "ip", "user_agent", "browser", "os", "device_type",
	"last_activity", "is_active", "expires_at", "ended_at", "end_reason", "created_at"}

func activeTokenRow(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(tokenCols).AddRow(
		"tok-old", 7, "fam-1", "hash-old", now.Add(24*time.Hour), "10.0.0.1", "ua",
		false, nil, nil, nil, nil, now.Add(-time.Hour))
}

func TestSessionRepoCreateIsOneTransaction(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	now := time.Now().UTC()

	tok := &model.RefreshToken{ID: "tok-1", UserID: 7, FamilyID: "fam-1", TokenHash: "h", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	sess := &model.Session{ID: "sess-1", DeviceType: model.DeviceDesktop, LastActivity: now, ExpiresAt: tok.ExpiresAt, CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WithArgs("sess-1", uint64(7), "tok-1", "", "", "", "", model.DeviceDesktop, now, tok.ExpiresAt, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), tok, sess))
	assert.True(t, sess.IsActive)
	assert.Equal(t, "tok-1", sess.RefreshTokenID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepoCreateRollsBackWhenSessionFails(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &model.RefreshToken{ID: "t"}, &model.Session{ID: "s"})
	require.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateReplacesTokenAndSession(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	now := time.Now().UTC()
	rev := Revocation{At: now, IP: "10.0.0.2", Reason: model.RevokeRotated, EndReason: model.EndReplaced}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token_hash=? FOR UPDATE")).
		WithArgs("hash-old").WillReturnRows(activeTokenRow(now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET is_revoked=1")).
		WithArgs(now, "10.0.0.2", model.RevokeRotated, "tok-new", "tok-old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET is_active=0")).
		WithArgs(now, model.EndReplaced, "tok-old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next := &model.RefreshToken{ID: "tok-new", TokenHash: "hash-new", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	sess := &model.Session{ID: "sess-new", LastActivity: now, ExpiresAt: next.ExpiresAt, CreatedAt: now}
	old, err := repo.Rotate(context.Background(), "hash-old", rev, next, sess)
	require.NoError(t, err)
	assert.Equal(t, "tok-old", old.ID)
	assert.Equal(t, uint64(7), next.UserID)
	assert.Equal(t, "fam-1", next.FamilyID)
	assert.Equal(t, "tok-new", sess.RefreshTokenID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRevokedTokenWritesNothing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WillReturnRows(sqlmock.NewRows(tokenCols).AddRow(
		"tok-old", 7, "fam-1", "hash-old", now.Add(time.Hour), "", "",
		true, now.Add(-time.Minute), "10.0.0.1", model.RevokeRotated, "tok-next", now.Add(-time.Hour)))
	mock.ExpectRollback()

	old, err := repo.Rotate(context.Background(), "hash-old", Revocation{At: now}, &model.RefreshToken{ID: "x"}, &model.Session{ID: "y"})
	require.ErrorIs(t, err, ErrTokenRevoked)
	require.NotNil(t, old)
	assert.Equal(t, model.RevokeRotated, old.RevokedReason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateExpiredToken(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WillReturnRows(sqlmock.NewRows(tokenCols).AddRow(
		"tok-old", 7, "fam-1", "hash-old", now.Add(-time.Second), "", "",
		false, nil, nil, nil, nil, now.Add(-time.Hour)))
	mock.ExpectRollback()

	_, err := repo.Rotate(context.Background(), "hash-old", Revocation{At: now}, &model.RefreshToken{}, &model.Session{})
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestRotateUnknownToken(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WillReturnRows(sqlmock.NewRows(tokenCols))
	mock.ExpectRollback()

	_, err := repo.Rotate(context.Background(), "nope", Revocation{At: time.Now()}, &model.RefreshToken{}, &model.Session{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeByHashForeignOwner(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WillReturnRows(activeTokenRow(now))
	mock.ExpectRollback()

	_, err := repo.RevokeByHash(context.Background(), "hash-old", 8, Revocation{At: now})
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeSessionNotOwned(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT refresh_token_id FROM sessions WHERE id=? AND user_id=?")).
		WithArgs("sess-9", uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"refresh_token_id"}))
	mock.ExpectRollback()

	err := repo.RevokeSession(context.Background(), 7, "sess-9", Revocation{At: time.Now()})
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeSessionRevokesToken(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	now := time.Now().UTC()
	rev := Revocation{At: now, IP: "1.1.1.1", Reason: model.RevokeSessionRevoked, EndReason: model.EndRevoked}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT refresh_token_id FROM sessions")).
		WillReturnRows(sqlmock.NewRows([]string{"refresh_token_id"}).AddRow("tok-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET is_revoked=1")).
		WithArgs(now, "1.1.1.1", model.RevokeSessionRevoked, nil, "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET is_active=0")).
		WithArgs(now, model.EndRevoked, "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.RevokeSession(context.Background(), 7, "sess-1", rev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeAllForUserCountsSessions(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	now := time.Now().UTC()
	rev := Revocation{At: now, Reason: model.RevokeLogoutAllDevices, EndReason: model.EndRevokedAllDevices}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT t.family_id FROM sessions s JOIN refresh_tokens t")).
		WithArgs("sess-current", uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"family_id"}).AddRow("fam-keep"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens t JOIN sessions s")).
		WithArgs(now, nil, model.RevokeLogoutAllDevices, uint64(7), "fam-keep").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions s JOIN refresh_tokens t")).
		WithArgs(now, model.EndRevokedAllDevices, uint64(7), "fam-keep").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := repo.RevokeAllForUser(context.Background(), 7, "sess-current", rev)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveFiltersByExpiry(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id=? AND is_active=1 AND expires_at > ? ORDER BY last_activity DESC")).
		WithArgs(uint64(7), now).
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("s2", 7, "t2", "1.1.1.1", "ua", "Chrome", "Linux", "desktop", now, true, now.Add(time.Hour), nil, nil, now).
			AddRow("s1", 7, "t1", "1.1.1.2", "ua", "Safari", "iOS", "mobile", now.Add(-time.Hour), true, now.Add(time.Hour), nil, nil, now))

	got, err := repo.ListActive(context.Background(), 7, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[0].ID)
	assert.Equal(t, "mobile", got[1].DeviceType)
}

func TestStats(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COUNT(DISTINCT user_id) FROM sessions")).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b"}).AddRow(5, 3))
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY device_type")).
		WillReturnRows(sqlmock.NewRows([]string{"device_type", "n"}).AddRow("desktop", 4).AddRow("mobile", 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens")).
		WillReturnRows(sqlmock.NewRows([]string{"a", "r", "e"}).AddRow(5, 10, 2))

	st, err := repo.Stats(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.ActiveSessions)
	assert.Equal(t, int64(3), st.ActiveUsers)
	assert.Equal(t, int64(4), st.SessionsByDevice["desktop"])
	assert.Equal(t, int64(10), st.RevokedTokens)
	assert.Equal(t, int64(2), st.ExpiredTokens)
}

func TestDeleteInactiveSessions(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE is_active=0 AND ended_at < ?")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteInactiveSessions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEndExpiredSessions(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET is_active=0, ended_at=?, end_reason=? WHERE is_active=1 AND expires_at <= ?")).
		WithArgs(now, model.EndExpired, now).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.EndExpiredSessions(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
