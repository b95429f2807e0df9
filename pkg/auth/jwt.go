package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
)

// Claims identify the API client a token was issued to.
type Claims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies API tokens and checks API keys.
type Issuer struct {
	secret  []byte
	keyHash []byte
	expire  time.Duration
}

// NewIssuer hashes apiKey once so requests only ever compare against the
// hash.
func NewIssuer(secret, apiKey string, expire time.Duration) (*Issuer, error) {
	if apiKey == "" {
		return nil, errors.New("API key must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing api key: %w", err)
	}
	return &Issuer{secret: []byte(secret), keyHash: hash, expire: expire}, nil
}

// Exchange returns a signed token for client when key matches the API key.
func (i *Issuer) Exchange(client, key string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(i.keyHash, []byte(key)); err != nil {
		return "", ErrInvalidKey
	}
	return i.GenerateToken(client)
}

func (i *Issuer) GenerateToken(client string) (string, error) {
	now := time.Now()
	claims := Claims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   client,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expire)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *Issuer) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
