package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pong-server/internal/match"
)

var (
	ErrMissingToken = errors.New("token is required")
	ErrInvalidToken = errors.New("token is invalid")
	ErrExpiredToken = errors.New("token is expired")
	ErrInvalidUser  = errors.New("token carries no usable user_id")
)

// Claims is the session token payload issued by the account service.
type Claims struct {
	jwt.RegisteredClaims
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Map         int    `json:"map"`
	Difficulty  int    `json:"difficulty"`
}

// JWTResolver verifies HS256 session tokens and turns them into identities.
type JWTResolver struct {
	secret []byte
	now    func() time.Time
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), now: time.Now}
}

// ResolveIdentity implements match.IdentityResolver.
func (r *JWTResolver) ResolveIdentity(_ context.Context, token string) (match.Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return match.Identity{}, ErrMissingToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return match.Identity{}, mapJWTError(err)
	}
	if claims.UserID <= 0 || claims.UserID > 1<<31-1 {
		return match.Identity{}, ErrInvalidUser
	}
	if claims.Map < 0 || claims.Difficulty < 0 {
		return match.Identity{}, fmt.Errorf("%w: negative preference", ErrInvalidToken)
	}

	name := claims.DisplayName
	if name == "" {
		name = fmt.Sprintf("player-%d", claims.UserID)
	}
	return match.Identity{
		ID:          claims.UserID,
		DisplayName: name,
		Map:         claims.Map,
		Difficulty:  claims.Difficulty,
	}, nil
}

// Issue signs a token for id, valid for ttl. Used by tooling and tests.
func (r *JWTResolver) Issue(id match.Identity, ttl time.Duration) (string, error) {
	now := r.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(id.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:      id.ID,
		DisplayName: id.DisplayName,
		Map:         id.Map,
		Difficulty:  id.Difficulty,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpiredToken
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
