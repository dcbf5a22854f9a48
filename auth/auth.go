// Package auth implements the session gate: a placeholder single-user
// authenticator issuing signed tokens, and the explicit session state that
// views consult before granting access.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned by Login for a wrong username or
	// password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInvalidToken is returned by Verify for unsigned, tampered or (when
	// expiry is enforced) expired tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// DefaultTokenTTL is the lifetime embedded in issued tokens.
const DefaultTokenTTL = 24 * time.Hour

// Credentials is a username/password pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

//go:generate mockgen -source=auth.go -destination=mock_authenticator.go -package=auth

// Authenticator exchanges credentials for a token and revokes tokens.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (string, error)
	Logout(ctx context.Context, token string) error
}

// Config configures a StaticAuthenticator.
type Config struct {
	AdminUser string
	// AdminPass is either the plain password or a bcrypt hash.
	AdminPass string
	Secret    string
	TTL       time.Duration
	// EnforceExpiry makes Verify reject tokens past their exp claim.
	EnforceExpiry bool
}

// StaticAuthenticator accepts exactly one configured credential pair and
// issues HS256 tokens.
type StaticAuthenticator struct {
	cfg    Config
	secret []byte
	now    func() time.Time
}

var _ Authenticator = (*StaticAuthenticator)(nil)

// NewStatic creates a StaticAuthenticator. An empty secret is replaced by a
// random one, so tokens do not survive a restart.
func NewStatic(cfg Config) *StaticAuthenticator {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	secret := cfg.Secret
	if secret == "" {
		secret = generateSecret()
	}
	return &StaticAuthenticator{cfg: cfg, secret: []byte(secret), now: time.Now}
}

// Login checks creds and returns a signed token carrying sub, iat, exp and
// jti claims.
func (a *StaticAuthenticator) Login(_ context.Context, creds Credentials) (string, error) {
	if !a.checkUser(creds.Username) || !a.checkPassword(creds.Password) {
		return "", ErrInvalidCredentials
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   creds.Username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TTL)),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return token, nil
}

// Logout is a no-op: tokens are not tracked server side.
func (a *StaticAuthenticator) Logout(_ context.Context, _ string) error { return nil }

// Verify checks the token signature and returns its subject. The exp claim is
// only checked when EnforceExpiry is set.
func (a *StaticAuthenticator) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.cfg.EnforceExpiry {
		opts = append(opts, jwt.WithExpirationRequired(), jwt.WithTimeFunc(a.now))
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidToken, "%v", err)
	}
	if claims.Subject == "" {
		return "", errors.Wrap(ErrInvalidToken, "missing subject")
	}
	return claims.Subject, nil
}

func (a *StaticAuthenticator) checkUser(user string) bool {
	return subtle.ConstantTimeCompare([]byte(user), []byte(a.cfg.AdminUser)) == 1
}

func (a *StaticAuthenticator) checkPassword(pass string) bool {
	if isBcryptHash(a.cfg.AdminPass) {
		return bcrypt.CompareHashAndPassword([]byte(a.cfg.AdminPass), []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(a.cfg.AdminPass)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func generateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
