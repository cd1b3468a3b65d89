// Package model содержит доменные сущности сервиса возмещения расходов.
package model

import "time"

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleManager  Role = "MANAGER"
)

// Valid возвращает true, если роль входит в допустимый набор.
func (r Role) Valid() bool {
	return r == RoleEmployee || r == RoleManager
}

// User представляет зарегистрированного пользователя системы.
// PasswordHash никогда не сериализуется наружу.
type User struct {
	ID           int64
	Username     string
	FullName     string
	Email        string
	Role         Role
	PasswordHash []byte
	CreatedAt    time.Time
}

// Currency описывает валюту заявки на возмещение.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyINR Currency = "INR"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

// Valid возвращает true, если валюта входит в допустимый набор.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyINR, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

// ClaimStatus описывает статус заявки на возмещение.
type ClaimStatus string

const (
	ClaimStatusPending  ClaimStatus = "PENDING"
	ClaimStatusApproved ClaimStatus = "APPROVED"
	ClaimStatusRejected ClaimStatus = "REJECTED"
)

// Terminal возвращает true, если из статуса недопустим дальнейший переход.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimStatusApproved || s == ClaimStatusRejected
}

// Ограничения на длину текстовых полей заявки.
const (
	MaxDescriptionLen = 500
	MaxCommentsLen    = 1000
)

// Claim представляет одну заявку на возмещение расходов.
// ReviewedAt, ReviewedBy и Comments заполняются атомарно при рассмотрении
// и не равны nil тогда и только тогда, когда Status != PENDING.
type Claim struct {
	ID          string
	OwnerID     int64
	AmountCents int64
	Currency    Currency
	Description string
	ExpenseDate time.Time
	Status      ClaimStatus
	SubmittedAt time.Time
	ReviewedAt  *time.Time
	ReviewedBy  *int64
	Comments    *string

	// ReviewerName заполняется из профиля рассмотревшего менеджера,
	// когда он известен. В хранилище не пишется.
	ReviewerName *string
}

// ClaimOwner содержит минимальные данные владельца заявки для списков менеджера.
type ClaimOwner struct {
	ID       int64
	FullName string
	Email    string
}

// PendingClaim объединяет заявку и данные её владельца.
type PendingClaim struct {
	Claim
	Owner ClaimOwner
}
