package service

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials возвращается при неверном логине или пароле.
// Ошибка одинакова для несуществующего логина и неверного пароля.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotAuthorized возвращается, если роль пользователя не допускает операцию.
	ErrNotAuthorized = errors.New("operation not allowed for this role")
)

// ValidationError описывает некорректное входное значение. Исправляется
// вызывающей стороной и отображается в ответ 400.
type ValidationError struct {
	Field  string
	Reason string
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
