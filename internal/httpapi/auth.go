package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"sith/backend/internal/domain"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserStore is the part of the repository the AuthManager reads credentials
// from.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error
}

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
}

type sithClaims struct {
	jwtlib.RegisteredClaims
	UserID int64  `json:"uid"`
	Role   string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
	}
}

// Login checks the credentials of a portal user and issues an access token.
// A password stored in clear is accepted once and replaced by its bcrypt hash.
func (a *AuthManager) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || strings.TrimSpace(req.Password) == "" {
		return LoginResponse{}, errInvalidCredentials
	}
	user, err := a.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		return LoginResponse{}, errInvalidCredentials
	}

	if isPasswordHash(user.PasswordHash) {
		if !verifyPassword(user.PasswordHash, req.Password) {
			return LoginResponse{}, errInvalidCredentials
		}
	} else {
		if user.PasswordHash == "" || subtle.ConstantTimeCompare([]byte(user.PasswordHash), []byte(req.Password)) != 1 {
			return LoginResponse{}, errInvalidCredentials
		}
		if hashed, err := hashPassword(req.Password); err == nil {
			_ = a.userStore.UpdateUserPassword(ctx, user.Username, hashed)
		}
	}
	if !user.Active {
		return LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{
		AccessToken: token,
		UserID:      user.ID,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &sithClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer("sith"))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.UserID <= 0 {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{UserID: claims.UserID, Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user domain.User, expiresAt time.Time) (string, error) {
	claims := sithClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "sith",
		},
		UserID: user.ID,
		Role:   user.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
