// Package auth содержит работу с паролями и токенами доступа.
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch возвращается, если пароль не соответствует сохранённому хэшу.
var ErrPasswordMismatch = errors.New("password does not match")

// HashPassword вычисляет bcrypt-хэш пароля.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// ComparePasswordAndHash проверяет соответствие пароля сохранённому хэшу.
func ComparePasswordAndHash(password string, hash []byte) error {
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	}
	return nil
}
