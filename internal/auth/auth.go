package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Directory resolves identities. The exchange satisfies it.
type Directory interface {
	Register(name string) (string, error)
	SignIn(name string) (string, error)
}

// AuthService issues and verifies API tokens bound to exchange identities
type AuthService struct {
	Users  Directory
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(users Directory, secret string) *AuthService {
	return &AuthService{
		Users:  users,
		secret: []byte(secret),
		ttl:    24 * time.Hour,
		now:    time.Now,
	}
}

// Register creates a new identity and returns it with a token for it.
func (s *AuthService) Register(name string) (string, string, error) {
	userID, err := s.Users.Register(name)
	if err != nil {
		return "", "", err
	}
	token, err := s.IssueToken(userID)
	if err != nil {
		return "", "", err
	}
	return userID, token, nil
}

// Login resolves name like the SignIn request does and issues a token for
// the resulting identity.
func (s *AuthService) Login(name string) (string, string, error) {
	userID, err := s.Users.SignIn(name)
	if err != nil {
		return "", "", err
	}
	token, err := s.IssueToken(userID)
	if err != nil {
		return "", "", err
	}
	return userID, token, nil
}

// IssueToken signs a token for userID.
func (s *AuthService) IssueToken(userID string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

// GetUserFromToken extracts the user ID from a token
func (s *AuthService) GetUserFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return userID, nil
}
