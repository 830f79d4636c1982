// Package opauth guards the operator-only HTTP endpoints (kill-switch
// reset, walk-forward replay trigger) with a bearer JWT issued against a
// single bcrypt-hashed operator password.
package opauth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost matches the teacher's default operator-password cost.
	DefaultBcryptCost = 12

	// DefaultTokenDuration is how long an operator bearer token stays valid.
	DefaultTokenDuration = 12 * time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid operator credentials")
	ErrInvalidToken       = errors.New("invalid or expired operator token")
)

// Claims identifies the operator session a bearer token authorizes; there
// is exactly one operator role, so no per-user fields are carried.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and validates operator bearer tokens and hashes the
// single operator password.
type Manager struct {
	secret       []byte
	tokenTTL     time.Duration
	passwordHash string
	bcryptCost   int
}

// Config configures a Manager.
type Config struct {
	JWTSecret        string
	TokenDuration    time.Duration
	OperatorPassword string // plaintext, hashed once at startup
	BcryptCost       int
}

// NewManager hashes cfg.OperatorPassword and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost {
		cost = DefaultBcryptCost
	}
	ttl := cfg.TokenDuration
	if ttl <= 0 {
		ttl = DefaultTokenDuration
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(cfg.OperatorPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash operator password: %w", err)
	}

	return &Manager{
		secret:       []byte(cfg.JWTSecret),
		tokenTTL:     ttl,
		passwordHash: string(hashed),
		bcryptCost:   cost,
	}, nil
}

// Login verifies password against the stored operator hash and, on
// success, issues a signed bearer token.
func (m *Manager) Login(password string) (string, error) {
	if bcrypt.CompareHashAndPassword([]byte(m.passwordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return m.issueToken()
}

func (m *Manager) issueToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			Issuer:    "decision-core",
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign operator token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a bearer token, returning ErrInvalidToken
// on any failure (expiry, bad signature, wrong signing method).
func (m *Manager) Validate(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Role != "operator" {
		return ErrInvalidToken
	}
	return nil
}

// GenerateBootstrapPassword produces a random password for first-run
// operator provisioning, printed once to the startup log.
func GenerateBootstrapPassword() (string, error) {
	bytes := make([]byte, 18)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
