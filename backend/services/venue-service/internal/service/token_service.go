package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "cuehall-venue"

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("token: invalid")

// Claims identifies the operator behind a request.
type Claims struct {
	OperatorID string `json:"operator_id"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	jwt.RegisteredClaims
}

// TokenService issues and checks HS256 operator tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenService returns a token service. A non-positive ttl means 12h.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// GenerateToken issues a token for an operator session.
func (t *TokenService) GenerateToken(operatorID, username, name string) (string, error) {
	if operatorID == "" {
		return "", errors.New("token: operator id is required")
	}
	now := t.now().UTC()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		OperatorID: operatorID,
		Username:   username,
		Name:       name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}).SignedString(t.secret)
}

// ValidateToken verifies a token and returns its claims. Every failure wraps ErrInvalidToken.
func (t *TokenService) ValidateToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := t.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.OperatorID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
