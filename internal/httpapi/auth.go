package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"clothpos/backend/internal/domain"
)

// CredentialValidator checks a username/password pair against the user
// store. A nil user with a nil error means the credentials are wrong.
type CredentialValidator interface {
	ValidateUser(ctx context.Context, username, password string) (*domain.User, error)
}

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	validator CredentialValidator
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role   string `json:"role"`
	UserID int64  `json:"user_id"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, validator CredentialValidator) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		validator: validator,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	user, err := a.validator.ValidateUser(ctx, username, req.Password)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if user == nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		UserID:      user.ID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{UserID: claims.UserID, Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user *domain.User, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "clothpos",
		},
		Role:   user.Role,
		UserID: user.ID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
