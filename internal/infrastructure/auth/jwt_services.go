package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/honeynil/paisa-tracker/internal/models"
)

const DefaultSessionTTL = time.Hour

type sessionClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies session tokens with HS256.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

func (s *TokenService) Generate(userID int64) (string, models.SessionClaims, error) {
	if len(s.secret) == 0 {
		return "", models.SessionClaims{}, fmt.Errorf("JWT secret not set")
	}
	now := s.now().UTC().Truncate(time.Second)
	claims := sessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", models.SessionClaims{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, models.SessionClaims{UserID: userID, IssuedAt: now, ExpiresAt: now.Add(s.ttl)}, nil
}

func (s *TokenService) Parse(tokenStr string) (models.SessionClaims, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return models.SessionClaims{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.UserID <= 0 {
		return models.SessionClaims{}, fmt.Errorf("invalid user_id in token")
	}
	out := models.SessionClaims{UserID: claims.UserID}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
