package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/expenses-system/internal/model"
)

// ErrTokenExpired возвращается при проверке просроченного токена.
var (
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid возвращается при неверной подписи или повреждённом токене.
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims описывает полезную нагрузку токена доступа: идентификатор
// пользователя в Subject и его роль.
type Claims struct {
	jwt.RegisteredClaims
	Role model.Role `json:"role"`
}

// TokenService выпускает и проверяет подписанные токены доступа.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService создаёт сервис токенов с указанным секретом и временем жизни.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Generate выпускает токен HS256 для указанного пользователя.
func (ts *TokenService) Generate(userID int64, role model.Role) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Validate проверяет подпись и срок действия токена и возвращает
// идентификатор пользователя и роль из полезной нагрузки.
func (ts *TokenService) Validate(tokenString string) (int64, model.Role, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, "", ErrTokenExpired
		}
		return 0, "", ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return 0, "", ErrTokenInvalid
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, "", ErrTokenInvalid
	}

	if !claims.Role.Valid() {
		return 0, "", ErrTokenInvalid
	}

	return userID, claims.Role, nil
}
