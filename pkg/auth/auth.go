// Package auth guards the proctor-facing API surface. Proctors log in with
// a username and bcrypt-hashed password and receive a signed JWT; automation
// authenticates with static API keys. Student submission endpoints are
// session-scoped and bypass this package entirely.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultIssuer   = "proctor-platform"
	defaultTokenTTL = 12 * time.Hour
)

var (
	// ErrInvalidCredentials indicates a failed username/password login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken indicates a missing, malformed, or expired JWT.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidKey indicates an unknown API key.
	ErrInvalidKey = errors.New("invalid API key")
)

// APIKey is a static key entry for non-interactive clients.
type APIKey struct {
	Key  string
	Name string
}

// Config holds authentication configuration. A zero Config disables
// authentication entirely.
type Config struct {
	// SigningKey signs issued JWTs. Required when AdminUsername is set.
	SigningKey string
	// Issuer is stamped into and checked against the iss claim.
	Issuer string
	// TokenTTL bounds the lifetime of issued tokens.
	TokenTTL time.Duration

	// AdminUsername and AdminPasswordHash are the proctor login. The hash
	// is a bcrypt hash, never a plaintext password.
	AdminUsername     string
	AdminPasswordHash string

	APIKeys []APIKey
}

// Identity describes an authenticated caller.
type Identity struct {
	Subject  string
	AuthType string
}

// Manager issues and validates credentials per Config.
type Manager struct {
	cfg  Config
	keys map[string]APIKey
}

// NewManager creates an auth manager. Defaults are applied for issuer and
// token lifetime.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AdminUsername != "" && cfg.SigningKey == "" {
		return nil, fmt.Errorf("auth: admin login requires a signing key")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaultTokenTTL
	}

	keys := make(map[string]APIKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys[k.Key] = k
	}
	return &Manager{cfg: cfg, keys: keys}, nil
}

// Enabled reports whether any credential source is configured. A disabled
// manager lets everything through.
func (m *Manager) Enabled() bool {
	return m.cfg.AdminUsername != "" || len(m.keys) > 0
}

// Login validates the proctor credentials and returns a signed JWT.
func (m *Manager) Login(username, password string) (string, error) {
	if m.cfg.AdminUsername == "" {
		return "", ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.cfg.AdminUsername)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(m.cfg.AdminPasswordHash), []byte(password))
	if !userOK || passErr != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    m.cfg.Issuer,
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.SigningKey))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a JWT issued by Login.
func (m *Manager) ValidateToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.cfg.SigningKey), nil
	}, jwt.WithIssuer(m.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Subject: subject, AuthType: "jwt"}, nil
}

// AuthenticateKey validates a static API key with a constant-time
// comparison.
func (m *Manager) AuthenticateKey(key string) (Identity, error) {
	for k, v := range m.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return Identity{Subject: "apikey:" + v.Name, AuthType: "apikey"}, nil
		}
	}
	return Identity{}, ErrInvalidKey
}

// HashPassword produces a bcrypt hash for storing in configuration.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
