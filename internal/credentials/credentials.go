// Package credentials issues, resolves and revokes bearer tokens. A token is
// a signed JWT whose jti points at a stored token record; the token is active
// only while that record exists and is unexpired, so logout takes effect
// immediately.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tasktracker/internal/auth"
	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/user"
)

// ErrInvalidCredentials is returned by Login for an unknown email or a wrong
// password. The two cases are not told apart.
var ErrInvalidCredentials = errors.New("unable to login")

type userKeeper interface {
	CreateUser(ctx context.Context, usr *user.User) (string, error)
	GetUserByID(ctx context.Context, userID string) (*user.User, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
}

type tokenKeeper interface {
	SaveToken(ctx context.Context, token *models.AuthToken) error
	GetToken(ctx context.Context, tokenID string) (*models.AuthToken, error)
	DeleteToken(ctx context.Context, userID string, tokenID string) error
	DeleteUserTokens(ctx context.Context, userID string) ([]string, error)
}

type passwordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) bool
}

// Service implements auth.TokenResolver and the session operations.
type Service struct {
	users  userKeeper
	tokens tokenKeeper
	hasher passwordHasher
	issuer *JWTIssuer
	ttl    time.Duration
	cache  *expirable.LRU[string, auth.Principal]
	now    func() time.Time
}

type initOptions struct {
	cacheSize int
	cacheTTL  time.Duration
	hasher    passwordHasher
	now       func() time.Time
}

// InitOption configures a Service.
type InitOption func(*initOptions)

// WithTokenCache caches resolved tokens in an LRU of size entries for ttl.
// A size of 0 disables caching.
func WithTokenCache(size int, ttl time.Duration) InitOption {
	return func(options *initOptions) {
		options.cacheSize = size
		options.cacheTTL = ttl
	}
}

func WithPasswordHasher(hasher passwordHasher) InitOption {
	return func(options *initOptions) {
		options.hasher = hasher
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) InitOption {
	return func(options *initOptions) {
		options.now = now
	}
}

// New builds a Service. signingKey signs the JWTs; ttl is the lifetime of an
// issued token.
func New(
	users userKeeper,
	tokens tokenKeeper,
	signingKey []byte,
	ttl time.Duration,
	optionsProto ...InitOption,
) *Service {
	options := &initOptions{
		cacheSize: 0,
		hasher:    NewArgon2Hasher(DefaultArgon2Params()),
		now:       time.Now,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	result := &Service{
		users:  users,
		tokens: tokens,
		hasher: options.hasher,
		issuer: NewJWTIssuer(signingKey),
		ttl:    ttl,
		now:    options.now,
	}
	if options.cacheSize > 0 {
		result.cache = expirable.NewLRU[string, auth.Principal](options.cacheSize, nil, options.cacheTTL)
	}

	return result
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user with a hashed password.
func (s *Service) Register(ctx context.Context, email, password string) (*user.User, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", models.ErrValidation)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/credentials/credentials.go/Register(): error while `s.hasher.Hash()` calling: %w",
			err,
		)
	}

	usr := &user.User{
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
	}
	usr.ID, err = s.users.CreateUser(ctx, usr)
	if err != nil {
		return nil, err
	}

	return usr, nil
}

// Login checks the password and issues a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	usr, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(password, usr.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	record := &models.AuthToken{
		ID:        uuid.NewString(),
		UserID:    usr.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.tokens.SaveToken(ctx, record); err != nil {
		return nil, err
	}

	signed, err := s.issuer.Issue(record.UserID, record.ID, record.CreatedAt, record.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/credentials/credentials.go/Login(): error while `s.issuer.Issue()` calling: %w",
			err,
		)
	}

	return &models.LoginResponse{
		User:  models.UserResponse{ID: usr.ID, Email: usr.Email},
		Token: signed,
	}, nil
}

// ResolveToken implements auth.TokenResolver.
func (s *Service) ResolveToken(ctx context.Context, rawToken string) (auth.Principal, error) {
	claims, err := s.issuer.Parse(rawToken)
	if err != nil {
		return auth.Principal{}, err
	}

	if s.cache != nil {
		if principal, ok := s.cache.Get(claims.ID); ok {
			return principal, nil
		}
	}

	record, err := s.tokens.GetToken(ctx, claims.ID)
	if err != nil {
		return auth.Principal{}, err
	}
	if record.UserID != claims.UserID || record.IsExpired(s.now()) {
		return auth.Principal{}, models.ErrTokenNotFound
	}

	principal := auth.Principal{UserID: record.UserID, TokenID: record.ID}
	if s.cache != nil {
		s.cache.Add(claims.ID, principal)
	}

	return principal, nil
}

func (s *Service) evict(tokenIDs ...string) {
	if s.cache == nil {
		return
	}
	for _, id := range tokenIDs {
		s.cache.Remove(id)
	}
}

// Logout revokes the token the principal authenticated with.
func (s *Service) Logout(ctx context.Context, principal auth.Principal) error {
	s.evict(principal.TokenID)

	err := s.tokens.DeleteToken(ctx, principal.UserID, principal.TokenID)
	if err != nil && !errors.Is(err, models.ErrTokenNotFound) {
		return err
	}

	return nil
}

// LogoutAll revokes every token of the principal's user.
func (s *Service) LogoutAll(ctx context.Context, principal auth.Principal) error {
	s.evict(principal.TokenID)

	removed, err := s.tokens.DeleteUserTokens(ctx, principal.UserID)
	if err != nil {
		return err
	}
	s.evict(removed...)
	logger.Log.Debugw("revoked all tokens", "user_id", principal.UserID, "count", len(removed))

	return nil
}

// Me returns the public profile of the principal's user.
func (s *Service) Me(ctx context.Context, principal auth.Principal) (*models.UserResponse, error) {
	usr, err := s.users.GetUserByID(ctx, principal.UserID)
	if err != nil {
		logger.Log.Debugln("Error calling the `s.users.GetUserByID()`: ", zap.Error(err))
		return nil, err
	}

	return &models.UserResponse{ID: usr.ID, Email: usr.Email}, nil
}
