package stubauth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quizwell/authbridge/pkg/cryptox"
	"github.com/quizwell/authbridge/pkg/idx"
	"github.com/quizwell/authbridge/pkg/slogx"
	"github.com/quizwell/authbridge/pkg/tokenx"
)

var (
	// ErrInvalidToken reports an access token that failed verification.
	ErrInvalidToken = errors.New("stubauth: invalid token")
	// ErrInvalidGrant reports a refresh token that could not be exchanged.
	ErrInvalidGrant = errors.New("stubauth: invalid grant")
)

// TokenPair is a freshly minted access/refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Service mints and verifies tokens. The signing key is generated at
// startup and lives only in memory; every restart invalidates all
// previously issued tokens, which is the right behaviour for a dev stub.
type Service struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	store      *Store
	issuer     string
	guestTTL   time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
	log        *slog.Logger
}

// NewService constructs a Service with a fresh ed25519 signing key.
func NewService(store *Store, cfg Config, log *slog.Logger) (*Service, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	return &Service{
		priv:       priv,
		pub:        pub,
		store:      store,
		issuer:     cfg.Issuer,
		guestTTL:   cfg.GuestTTL,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		log:        slogx.Component(log, "stubauth"),
	}, nil
}

// IssueGuest mints an anonymous access token. Guests get no refresh
// token; expiry means a new guest identity.
func (s *Service) IssueGuest(ctx context.Context) (string, error) {
	subject := "guest-" + idx.New().String()
	token, err := s.sign(subject, true, s.guestTTL)
	if err != nil {
		return "", err
	}

	s.log.Debug("issued guest token", "sub", subject)
	return token, nil
}

// IssuePair mints an authenticated access token plus a single-use refresh
// token for the given subject.
func (s *Service) IssuePair(ctx context.Context, subject string) (TokenPair, error) {
	access, err := s.sign(subject, false, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}

	expiresAt := time.Now().Add(s.refreshTTL)
	if err := s.store.CreateRefreshToken(ctx, cryptox.FingerprintToken(refresh), subject, expiresAt); err != nil {
		return TokenPair{}, err
	}

	s.log.Debug("issued token pair", "sub", subject)
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token
// is consumed whether or not the exchange succeeds past the lookup; a
// replayed token always gets ErrInvalidGrant.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	subject, err := s.store.ConsumeRefreshToken(ctx, cryptox.FingerprintToken(refreshToken))
	if errors.Is(err, ErrTokenNotFound) {
		return TokenPair{}, ErrInvalidGrant
	}
	if err != nil {
		return TokenPair{}, err
	}

	return s.IssuePair(ctx, subject)
}

// Verify checks an access token's signature and expiry.
func (s *Service) Verify(token string) error {
	_, err := jwt.ParseWithClaims(token, &tokenx.Claims{},
		func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != jwt.SigningMethodEdDSA.Alg() {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return s.pub, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return nil
}

// SweepExpired removes expired refresh tokens; run it periodically.
func (s *Service) SweepExpired(ctx context.Context) {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		s.log.Warn("refresh token sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.log.Info("swept expired refresh tokens", "count", n)
	}
}

func (s *Service) sign(subject string, guest bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        idx.New().String(),
		},
		Guest: guest,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
