package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/tasktracker/internal/db/memorystorage"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

var testSigningKey = []byte("credentials-test-signing-key-32b")

func fastHasher() *Argon2Hasher {
	return NewArgon2Hasher(Argon2Params{
		Memory:      64,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
}

func newTestService(t *testing.T, options ...InitOption) (*Service, *memorystorage.MemoryStorage) {
	t.Helper()
	theStorage, err := memorystorage.New()
	require.NoError(t, err)

	options = append([]InitOption{WithPasswordHasher(fastHasher())}, options...)
	service := New(theStorage, theStorage, testSigningKey, time.Hour, options...)

	_, err = service.Register(context.Background(), "Alice@Example.com", "secret123")
	require.NoError(t, err)

	return service, theStorage
}

func TestArgon2Hasher(t *testing.T) {
	hasher := fastHasher()

	encoded, err := hasher.Hash("secret")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$")

	assert.True(t, hasher.Verify("secret", encoded))
	assert.False(t, hasher.Verify("Secret", encoded))
	assert.False(t, hasher.Verify("secret", "not-a-hash"))
}

func TestLoginAndResolve(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	_, err := service.Login(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.Login(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	response, err := service.Login(ctx, " ALICE@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", response.User.Email)
	assert.NotEmpty(t, response.Token)

	principal, err := service.ResolveToken(ctx, response.Token)
	require.NoError(t, err)
	assert.Equal(t, response.User.ID, principal.UserID)
	assert.NotEmpty(t, principal.TokenID)

	me, err := service.Me(ctx, principal)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", me.Email)

	_, err = service.ResolveToken(ctx, "garbage")
	assert.Error(t, err)

	forged, err := NewJWTIssuer([]byte("another-key")).Issue(principal.UserID, principal.TokenID, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = service.ResolveToken(ctx, forged)
	assert.Error(t, err)
}

func TestRegisterDuplicate(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Register(context.Background(), "alice@example.com", "other")
	assert.ErrorIs(t, err, models.ErrUserExists)

	_, err = service.Register(context.Background(), "bob@example.com", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestLogoutRevokesThroughTheCache(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t, WithTokenCache(16, time.Minute))

	first, err := service.Login(ctx, "alice@example.com", "secret123")
	require.NoError(t, err)
	second, err := service.Login(ctx, "alice@example.com", "secret123")
	require.NoError(t, err)

	principal, err := service.ResolveToken(ctx, first.Token)
	require.NoError(t, err)
	_, err = service.ResolveToken(ctx, second.Token)
	require.NoError(t, err)

	require.NoError(t, service.Logout(ctx, principal))

	_, err = service.ResolveToken(ctx, first.Token)
	assert.ErrorIs(t, err, models.ErrTokenNotFound)

	_, err = service.ResolveToken(ctx, second.Token)
	require.NoError(t, err)

	require.NoError(t, service.LogoutAll(ctx, principal))
	_, err = service.ResolveToken(ctx, second.Token)
	assert.ErrorIs(t, err, models.ErrTokenNotFound)
}

func TestExpiredRecordIsRejected(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }
	service, _ := newTestService(t, WithClock(clock))

	response, err := service.Login(ctx, "alice@example.com", "secret123")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = service.ResolveToken(ctx, response.Token)
	assert.Error(t, err)
}
