// Package auth guards the admin HTTP surface's one mutating endpoint
// (POST /api/v1/reload) with a single configured admin credential and
// short-lived bearer tokens.
//
// Trimmed down to the slice a single-operator admin surface needs: no user
// store, no roles, no refresh tokens — one admin credential, hashed with
// golang.org/x/crypto/argon2 in the same id-variant encoding a
// users.HashPassword/VerifyPassword pair would produce, and access tokens
// issued and verified with github.com/golang-jwt/jwt/v5.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

const (
	argon2Memory      = 64 * 1024
	argon2Iterations  = 3
	argon2Parallelism = 2
	argon2SaltLength  = 16
	argon2KeyLength   = 32
	argon2PartsCount  = 6

	jwtSecretLength = 32
	accessTokenTTL  = 30 * time.Minute
	generatedPwLen  = 18
)

var (
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrInvalidToken            = errors.New("invalid token")
	ErrUnexpectedSigningMethod = errors.New("unexpected signing method")
	ErrInvalidHashFormat       = errors.New("invalid hash format")
)

// Claims is the JWT payload for admin bearer tokens. There is exactly one
// admin principal, so no role/permission set is carried.
type Claims struct {
	jwt.RegisteredClaims
}

// Service authenticates the single admin credential and issues/validates
// bearer tokens for the admin HTTP reload endpoint.
type Service struct {
	passwordHash string
	jwtSecret    []byte
}

// NewService builds a Service for the given plaintext admin password. If
// password is empty, a random one is generated and returned alongside the
// Service so the caller can log it once at startup; there is no persisted
// config for it to round-trip through.
func NewService(password string) (svc *Service, generatedPassword string, err error) {
	if password == "" {
		password, err = generatePassword()
		if err != nil {
			return nil, "", fmt.Errorf("generate admin password: %w", err)
		}

		generatedPassword = password
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("hash admin password: %w", err)
	}

	secret, err := generateSecret(jwtSecretLength)
	if err != nil {
		return nil, "", fmt.Errorf("generate jwt secret: %w", err)
	}

	return &Service{passwordHash: hash, jwtSecret: secret}, generatedPassword, nil
}

// Login verifies password against the configured admin credential and, on
// success, issues a signed access token.
func (s *Service) Login(password string) (string, error) {
	ok, err := verifyPassword(password, s.passwordHash)
	if err != nil {
		return "", fmt.Errorf("verify password: %w", err)
	}

	if !ok {
		return "", ErrInvalidCredentials
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "polyresolver",
			Subject:   "admin",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(s.jwtSecret)
}

// ValidateToken parses and verifies a bearer token issued by Login.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedSigningMethod, t.Header["alg"])
		}

		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func generatePassword() (string, error) {
	raw := make([]byte, generatedPwLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func generateSecret(length int) ([]byte, error) {
	secret := make([]byte, length)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	return secret, nil
}

// hashPassword and verifyPassword implement the standard argon2id encoding
// ($argon2id$v=..$m=..,t=..,p=..$salt$hash) byte-for-byte, so a hash
// produced here is interchangeable with any other implementation of it.
func hashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Iterations, argon2Memory, argon2Parallelism, argon2KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Iterations, argon2Parallelism, b64Salt, b64Hash), nil
}

func verifyPassword(password, hash string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != argon2PartsCount {
		return false, ErrInvalidHashFormat
	}

	var (
		version            int
		memory, iterations uint32
		parallelism        uint8
	)

	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parse version: %w", err)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("parse params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	actual := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected))) //nolint:gosec

	return subtle.ConstantTimeCompare(expected, actual) == 1, nil
}
