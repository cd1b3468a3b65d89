// Package middleware содержит HTTP middleware сервиса возмещения расходов.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mmeshcher/expenses-system/internal/auth"
	"github.com/mmeshcher/expenses-system/internal/model"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	roleKey   contextKey = "role"
)

const bearerPrefix = "Bearer "

// AuthMiddleware выполняет проверку аутентификации пользователя по
// bearer-токену из заголовка Authorization.
type AuthMiddleware struct {
	tokens *auth.TokenService
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным сервисом токенов.
func NewAuthMiddleware(tokens *auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Middleware проверяет токен доступа и добавляет идентификатор пользователя
// и его роль в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, bearerPrefix)
		if !ok || token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		userID, role, err := a.tokens.Validate(token)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, roleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole пропускает запрос дальше только для пользователей с указанной ролью.
// Ставится после Middleware: аутентификация первична, авторизация вторична.
func RequireRole(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actual, ok := GetRoleFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if actual != role {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// GetRoleFromContext извлекает роль пользователя из контекста запроса.
func GetRoleFromContext(ctx context.Context) (model.Role, bool) {
	role, ok := ctx.Value(roleKey).(model.Role)
	return role, ok
}
