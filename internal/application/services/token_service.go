package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/infrastructure/config"
)

// ErrInvalidToken is returned for any bearer token that cannot be trusted.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims. The subject carries the actor id.
type Claims struct {
	Role entities.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the bearer tokens that identify actors.
// Issuing credentials to people happens elsewhere; this only maps a token
// to an Actor.
type TokenService struct {
	jwtConfig config.JWTConfig
	clock     lifecycle.Clock
}

// NewTokenService creates a new token service
func NewTokenService(jwtConfig config.JWTConfig, clock lifecycle.Clock) *TokenService {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	return &TokenService{jwtConfig: jwtConfig, clock: clock}
}

// Issue signs a token for actor. A zero ttl uses the configured expiry.
func (s *TokenService) Issue(actor entities.Actor, ttl time.Duration) (string, error) {
	if actor.ID == uuid.Nil {
		return "", fmt.Errorf("issue token: actor id is required")
	}
	if !actor.Role.IsValid() {
		return "", fmt.Errorf("issue token: unknown role %q", actor.Role)
	}
	if ttl <= 0 {
		ttl = s.jwtConfig.ExpiresIn
	}

	now := s.clock.Now()
	claims := &Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.jwtConfig.Issuer,
			Subject:   actor.ID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtConfig.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the actor it names
func (s *TokenService) ValidateToken(tokenString string) (entities.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	}
	if s.jwtConfig.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.jwtConfig.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtConfig.Secret), nil
	}, opts...)
	if err != nil {
		return entities.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return entities.Actor{}, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return entities.Actor{}, fmt.Errorf("%w: subject is not an actor id", ErrInvalidToken)
	}
	if !claims.Role.IsValid() {
		return entities.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return entities.Actor{ID: id, Role: claims.Role}, nil
}
