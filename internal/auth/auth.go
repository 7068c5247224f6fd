package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"projectchat/pkg/types"
)

var (
	ErrMissingToken = errors.New("token is required")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries the chat identity inside a bearer token.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service issues and verifies HS256 bearer tokens.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewService(secret, issuer string, ttl time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for userID valid for the configured TTL.
func (s *Service) Issue(userID, username string) (string, error) {
	if !types.IsValidUserID(userID) {
		return "", types.ErrInvalidUserID
	}
	if username == "" {
		username = userID
	}

	now := s.now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString and returns the identity it carries.
func (s *Service) Verify(tokenString string) (*types.Identity, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if !types.IsValidUserID(userID) {
		return nil, fmt.Errorf("%w: invalid user ID in token", ErrInvalidToken)
	}

	username := claims.Username
	if username == "" {
		username = userID
	}
	return &types.Identity{UserID: userID, Username: username}, nil
}

// ExtractToken reads the bearer token from the Authorization header, falling
// back to the token query parameter used by browser socket clients.
func ExtractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	token := r.URL.Query().Get("token")
	return strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
}
