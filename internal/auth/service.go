package auth

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidToken is returned when a token cannot be verified.
var ErrInvalidToken = errors.New("invalid token")

// Service verifies and issues access tokens. Login and registration live in
// the REST services; the realtime server only needs to trust their tokens.
type Service struct {
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(jwtConfig *JWTConfig) *Service {
	return &Service{
		jwtConfig: jwtConfig,
	}
}

// IssueToken returns a signed token for the user.
func (s *Service) IssueToken(userID int64, username string) (string, error) {
	token, err := GenerateToken(s.jwtConfig, userID, username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// VerifyToken resolves a token to the user it was issued for.
func (s *Service) VerifyToken(ctx context.Context, token string) (int64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.UserID, claims.Username, nil
}
