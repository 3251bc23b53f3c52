package http

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/resource-reservations/internal/application"
)

var (
	ErrInvalidKeyHash         = errors.New("invalid api key hash format")
	ErrIncompatibleKeyVersion = errors.New("incompatible api key hash version")
	ErrInvalidToken           = errors.New("invalid credentials")
)

// Argon2idParams tunes API key hashing.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// Claims is the bearer token payload. Subject carries the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// APIKey is a configured device or service credential.
type APIKey struct {
	Name string
	Role application.Role
	Hash string
}

// Authenticator resolves request credentials to principals.
type Authenticator struct {
	secret []byte
	keys   map[string]APIKey
	now    func() time.Time
	// verified maps a digest of the presented key to its principal.
	verified *expirable.LRU[string, application.Principal]
}

// NewAuthenticator builds an authenticator for HMAC signed tokens and the given keys.
func NewAuthenticator(secret string, keys []APIKey) *Authenticator {
	byName := make(map[string]APIKey, len(keys))
	for _, key := range keys {
		byName[key.Name] = key
	}
	return &Authenticator{
		secret:   []byte(secret),
		keys:     byName,
		now:      time.Now,
		verified: expirable.NewLRU[string, application.Principal](1024, nil, 5*time.Minute),
	}
}

// ParseToken validates an HS256 token and returns its principal.
func (a *Authenticator) ParseToken(raw string) (application.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return application.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	role, ok := parseRole(claims.Role)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return application.Principal{}, ErrInvalidToken
	}
	return application.Principal{UserID: claims.Subject, Role: role}, nil
}

// IssueToken signs a token for the principal. It is used by tests and tooling.
func (a *Authenticator) IssueToken(principal application.Principal, ttl time.Duration) (string, error) {
	now := a.now()
	claims := &Claims{
		Role: string(principal.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// VerifyAPIKey checks a "<name>.<secret>" key against the configured hashes.
func (a *Authenticator) VerifyAPIKey(presented string) (application.Principal, error) {
	digest := sha256.Sum256([]byte(presented))
	cacheKey := hex.EncodeToString(digest[:])
	if principal, ok := a.verified.Get(cacheKey); ok {
		return principal, nil
	}

	name, secret, ok := strings.Cut(presented, ".")
	if !ok || name == "" || secret == "" {
		return application.Principal{}, ErrInvalidToken
	}
	key, ok := a.keys[name]
	if !ok {
		return application.Principal{}, ErrInvalidToken
	}
	if err := VerifyKeyHash(key.Hash, secret); err != nil {
		return application.Principal{}, err
	}

	principal := application.Principal{UserID: key.Name, Role: key.Role}
	a.verified.Add(cacheKey, principal)
	return principal, nil
}

// CreateKeyHash hashes an API key secret with argon2id.
func CreateKeyHash(secret string, params Argon2idParams) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(secret), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	// Format is $argon2id$v=19$m=...,t=...,p=...$salt$hash
	format := "$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s"
	return fmt.Sprintf(format, argon2.Version, params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash), nil
}

// VerifyKeyHash compares secret with an argon2id or bcrypt hash.
func VerifyKeyHash(hashed, secret string) error {
	if strings.HasPrefix(hashed, "$2a$") || strings.HasPrefix(hashed, "$2b$") || strings.HasPrefix(hashed, "$2y$") {
		if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret)); err != nil {
			return ErrInvalidToken
		}
		return nil
	}

	parts := strings.Split(hashed, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ErrInvalidKeyHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return ErrInvalidKeyHash
	}
	if version != argon2.Version {
		return ErrIncompatibleKeyVersion
	}

	var params Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return ErrInvalidKeyHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrInvalidKeyHash
	}
	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrInvalidKeyHash
	}

	comparisonHash := argon2.IDKey([]byte(secret), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(decodedHash)))
	if subtle.ConstantTimeCompare(decodedHash, comparisonHash) == 1 {
		return nil
	}
	return ErrInvalidToken
}

func parseRole(value string) (application.Role, bool) {
	switch application.Role(value) {
	case application.RoleUser, application.RoleAdmin, application.RoleDevice:
		return application.Role(value), true
	case "":
		return application.RoleUser, true
	}
	return "", false
}
