// Package service реализует жизненный цикл заявок на возмещение расходов
// и правила доступа к операциям над ними.
package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mmeshcher/expenses-system/internal/auth"
	"github.com/mmeshcher/expenses-system/internal/model"
	"github.com/mmeshcher/expenses-system/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, u *model.User) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	CreateClaim(ctx context.Context, c *model.Claim) error
	GetClaimsByOwner(ctx context.Context, ownerID int64) ([]model.Claim, error)
	GetPendingClaims(ctx context.Context, ownerID *int64) ([]model.PendingClaim, error)
	ReviewClaim(ctx context.Context, claimID string, status model.ClaimStatus, reviewerID int64, comments string) (*model.Claim, error)
}

// Metrics описывает счётчики доменных событий.
type Metrics interface {
	RecordClaimSubmitted()
	RecordClaimReviewed(decision string)
}

// Комментарий по умолчанию, если менеджер не указал свой.
const (
	defaultApproveComment = "Approved"
	defaultRejectComment  = "Rejected"
)

const minPasswordLen = 6

// Service реализует операции жизненного цикла заявок и учётных записей.
type Service struct {
	repo    Repository
	metrics Metrics
}

// NewService создаёт новый сервис с указанным репозиторием и сборщиком метрик.
func NewService(repo Repository, metrics Metrics) *Service {
	return &Service{
		repo:    repo,
		metrics: metrics,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя. Пустая роль означает EMPLOYEE.
func (s *Service) RegisterUser(ctx context.Context, username, password, fullName, email string, role model.Role) (*model.User, error) {
	username = strings.TrimSpace(username)
	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(email)

	if username == "" {
		return nil, invalidField("username", "must not be empty")
	}
	if fullName == "" {
		return nil, invalidField("fullName", "must not be empty")
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, invalidField("email", "must be a valid email address")
	}
	if len(password) < minPasswordLen {
		return nil, invalidField("password", "must be at least 6 characters long")
	}

	if role == "" {
		role = model.RoleEmployee
	}
	if !role.Valid() {
		return nil, invalidField("role", "must be EMPLOYEE or MANAGER")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		Username:     username,
		FullName:     fullName,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
	}

	id, err := s.repo.CreateUser(ctx, u)
	if err != nil {
		return nil, err
	}
	u.ID = id
	return u, nil
}

// AuthenticateUser проверяет логин и пароль и возвращает пользователя.
// Несуществующий логин и неверный пароль дают одинаковую ошибку.
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (*model.User, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := auth.ComparePasswordAndHash(password, u.PasswordHash); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// Submit создаёт новую заявку на возмещение от имени сотрудника.
func (s *Service) Submit(ctx context.Context, actor *model.User, amount float64, currency, description, expenseDate string) (*model.Claim, error) {
	if actor.Role != model.RoleEmployee {
		return nil, ErrNotAuthorized
	}

	amountCents := int64(math.Round(amount * 100))
	if amountCents <= 0 {
		return nil, invalidField("amount", "must be greater than 0")
	}

	if currency == "" {
		currency = string(model.CurrencyUSD)
	}
	cur := model.Currency(currency)
	if !cur.Valid() {
		return nil, invalidField("currency", "must be one of USD, INR, EUR, GBP")
	}

	description = strings.TrimSpace(description)
	if description == "" {
		return nil, invalidField("description", "must not be empty")
	}
	if utf8.RuneCountInString(description) > model.MaxDescriptionLen {
		return nil, invalidField("description", "must be at most 500 characters")
	}

	date, err := parseExpenseDate(expenseDate)
	if err != nil {
		return nil, invalidField("expenseDate", "must be a date in YYYY-MM-DD or RFC 3339 format")
	}

	claim := &model.Claim{
		ID:          uuid.NewString(),
		OwnerID:     actor.ID,
		AmountCents: amountCents,
		Currency:    cur,
		Description: description,
		ExpenseDate: date,
		Status:      model.ClaimStatusPending,
		SubmittedAt: time.Now(),
	}

	if err := s.repo.CreateClaim(ctx, claim); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordClaimSubmitted()
	}

	return claim, nil
}

func parseExpenseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	if d, err := time.Parse("2006-01-02", value); err == nil {
		return d, nil
	}
	return time.Parse(time.RFC3339, value)
}

// Review переводит заявку в терминальный статус от имени менеджера.
// Проверка того, что заявка всё ещё PENDING, выполняется репозиторием в момент
// записи, а не по ранее прочитанной копии.
func (s *Service) Review(ctx context.Context, actor *model.User, claimID string, decision model.ClaimStatus, comments *string) (*model.Claim, error) {
	if actor.Role != model.RoleManager {
		return nil, ErrNotAuthorized
	}

	if !decision.Terminal() {
		return nil, invalidField("decision", "must be APPROVED or REJECTED")
	}

	if _, err := uuid.Parse(claimID); err != nil {
		return nil, repository.ErrClaimNotFound
	}

	text := ""
	if comments != nil {
		text = strings.TrimSpace(*comments)
	}
	if utf8.RuneCountInString(text) > model.MaxCommentsLen {
		return nil, invalidField("comments", "must be at most 1000 characters")
	}
	if text == "" {
		if decision == model.ClaimStatusApproved {
			text = defaultApproveComment
		} else {
			text = defaultRejectComment
		}
	}

	claim, err := s.repo.ReviewClaim(ctx, claimID, decision, actor.ID, text)
	if err != nil {
		return nil, err
	}
	claim.ReviewerName = &actor.FullName

	if s.metrics != nil {
		s.metrics.RecordClaimReviewed(string(decision))
	}

	return claim, nil
}

// ListOwn возвращает заявки пользователя, новые первыми.
func (s *Service) ListOwn(ctx context.Context, actor *model.User) ([]model.Claim, error) {
	return s.repo.GetClaimsByOwner(ctx, actor.ID)
}

// ListPending возвращает нерассмотренные заявки для менеджера,
// по желанию ограниченные одним владельцем.
func (s *Service) ListPending(ctx context.Context, actor *model.User, ownerID *int64) ([]model.PendingClaim, error) {
	if actor.Role != model.RoleManager {
		return nil, ErrNotAuthorized
	}
	return s.repo.GetPendingClaims(ctx, ownerID)
}
