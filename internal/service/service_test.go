package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmeshcher/expenses-system/internal/auth"
	"github.com/mmeshcher/expenses-system/internal/model"
	"github.com/mmeshcher/expenses-system/internal/repository"
)

type stubRepo struct {
	createUserID  int64
	createUserErr error

	getUser    *model.User
	getUserErr error

	createClaimErr error
	createdClaim   *model.Claim

	ownClaims    []model.Claim
	ownClaimsErr error

	pendingClaims    []model.PendingClaim
	pendingOwnerID   *int64
	pendingClaimsErr error

	reviewClaim    *model.Claim
	reviewErr      error
	reviewComments string
	reviewStatus   model.ClaimStatus
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) CreateClaim(ctx context.Context, c *model.Claim) error {
	s.createdClaim = c
	return s.createClaimErr
}

func (s *stubRepo) GetClaimsByOwner(ctx context.Context, ownerID int64) ([]model.Claim, error) {
	return s.ownClaims, s.ownClaimsErr
}

func (s *stubRepo) GetPendingClaims(ctx context.Context, ownerID *int64) ([]model.PendingClaim, error) {
	s.pendingOwnerID = ownerID
	return s.pendingClaims, s.pendingClaimsErr
}

func (s *stubRepo) ReviewClaim(ctx context.Context, claimID string, status model.ClaimStatus, reviewerID int64, comments string) (*model.Claim, error) {
	s.reviewStatus = status
	s.reviewComments = comments
	return s.reviewClaim, s.reviewErr
}

func employee() *model.User {
	return &model.User{ID: 1, Username: "e1", FullName: "Employee One", Email: "e1@example.com", Role: model.RoleEmployee}
}

func manager() *model.User {
	return &model.User{ID: 2, Username: "m1", FullName: "Manager One", Email: "m1@example.com", Role: model.RoleManager}
}

func TestRegisterUser_Validation(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	tests := []struct {
		name     string
		username string
		password string
		fullName string
		email    string
		role     model.Role
		field    string
	}{
		{"empty username", "", "password123", "Name", "a@b.c", "", "username"},
		{"short password", "user", "12345", "Name", "a@b.c", "", "password"},
		{"empty full name", "user", "password123", "", "a@b.c", "", "fullName"},
		{"bad email", "user", "password123", "Name", "not-an-email", "", "email"},
		{"unknown role", "user", "password123", "Name", "a@b.c", model.Role("ADMIN"), "role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RegisterUser(context.Background(), tt.username, tt.password, tt.fullName, tt.email, tt.role)

			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestRegisterUser_DefaultRole(t *testing.T) {
	repo := &stubRepo{createUserID: 42}
	svc := NewService(repo, nil)

	u, err := svc.RegisterUser(context.Background(), "user", "password123", "Test User", "user@example.com", "")
	if err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}
	if u.Role != model.RoleEmployee {
		t.Fatalf("role = %q, want %q", u.Role, model.RoleEmployee)
	}
	if u.ID != 42 {
		t.Fatalf("id = %d, want 42", u.ID)
	}
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{createUserErr: repository.ErrUsernameTaken}
	svc := NewService(repo, nil)

	_, err := svc.RegisterUser(context.Background(), "user", "password123", "Test User", "user@example.com", "")
	if !errors.Is(err, repository.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestAuthenticateUser_UniformError(t *testing.T) {
	hash, err := auth.HashPassword("correct")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}

	unknownLogin := &stubRepo{getUserErr: repository.ErrUserNotFound}
	wrongPassword := &stubRepo{getUser: &model.User{ID: 1, Username: "user", PasswordHash: hash}}

	for name, repo := range map[string]*stubRepo{"unknown login": unknownLogin, "wrong password": wrongPassword} {
		t.Run(name, func(t *testing.T) {
			svc := NewService(repo, nil)
			_, err := svc.AuthenticateUser(context.Background(), "user", "wrong")
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestSubmit_Validation(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	tests := []struct {
		name        string
		amount      float64
		currency    string
		description string
		date        string
		field       string
	}{
		{"zero amount", 0, "USD", "desc", "2024-01-15", "amount"},
		{"negative amount", -5, "USD", "desc", "2024-01-15", "amount"},
		{"unsupported currency", 10, "RUB", "desc", "2024-01-15", "currency"},
		{"empty description", 10, "USD", "   ", "2024-01-15", "description"},
		{"oversized description", 10, "USD", strings.Repeat("a", model.MaxDescriptionLen+1), "2024-01-15", "description"},
		{"bad date", 10, "USD", "desc", "15.01.2024", "expenseDate"},
		{"empty date", 10, "USD", "desc", "", "expenseDate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), employee(), tt.amount, tt.currency, tt.description, tt.date)

			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestSubmit_ManagerForbidden(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	_, err := svc.Submit(context.Background(), manager(), 100, "USD", "desc", "2024-01-15")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSubmit_CreatesPendingClaim(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	claim, err := svc.Submit(context.Background(), employee(), 150.75, "USD", "Business lunch", "2024-01-15")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	if claim.Status != model.ClaimStatusPending {
		t.Fatalf("status = %q, want PENDING", claim.Status)
	}
	if claim.AmountCents != 15075 {
		t.Fatalf("amount cents = %d, want 15075", claim.AmountCents)
	}
	if claim.OwnerID != 1 {
		t.Fatalf("owner = %d, want 1", claim.OwnerID)
	}
	if claim.ID == "" {
		t.Fatalf("claim id must be set")
	}
	if claim.ReviewedAt != nil || claim.ReviewedBy != nil || claim.Comments != nil {
		t.Fatalf("review fields must be empty for a new claim")
	}
	if time.Since(claim.SubmittedAt) > time.Minute {
		t.Fatalf("submittedAt is not recent: %v", claim.SubmittedAt)
	}
	if repo.createdClaim == nil {
		t.Fatalf("claim was not persisted")
	}
}

func TestSubmit_DescriptionLimitCountsRunes(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	// 500 кириллических символов занимают 1000 байт, но лимит считается в символах.
	description := strings.Repeat("ы", model.MaxDescriptionLen)
	claim, err := svc.Submit(context.Background(), employee(), 10, "USD", description, "2024-01-15")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if claim.Description != description {
		t.Fatalf("description was altered")
	}
}

func TestSubmit_DefaultCurrency(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	claim, err := svc.Submit(context.Background(), employee(), 10, "", "desc", "2024-01-15")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if claim.Currency != model.CurrencyUSD {
		t.Fatalf("currency = %q, want USD", claim.Currency)
	}
}

func TestReview_EmployeeForbidden(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	_, err := svc.Review(context.Background(), employee(), "cdd7fb89-1b63-44bb-b0ea-074e9f9f7c4f", model.ClaimStatusApproved, nil)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestReview_MalformedIDIsNotFound(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	_, err := svc.Review(context.Background(), manager(), "not-a-uuid", model.ClaimStatusApproved, nil)
	if !errors.Is(err, repository.ErrClaimNotFound) {
		t.Fatalf("expected ErrClaimNotFound, got %v", err)
	}
}

func TestReview_DefaultComments(t *testing.T) {
	tests := []struct {
		decision model.ClaimStatus
		want     string
	}{
		{model.ClaimStatusApproved, "Approved"},
		{model.ClaimStatusRejected, "Rejected"},
	}

	for _, tt := range tests {
		t.Run(string(tt.decision), func(t *testing.T) {
			repo := &stubRepo{reviewClaim: &model.Claim{}}
			svc := NewService(repo, nil)

			_, err := svc.Review(context.Background(), manager(), "cdd7fb89-1b63-44bb-b0ea-074e9f9f7c4f", tt.decision, nil)
			if err != nil {
				t.Fatalf("Review error: %v", err)
			}
			if repo.reviewComments != tt.want {
				t.Fatalf("comments = %q, want %q", repo.reviewComments, tt.want)
			}
		})
	}
}

func TestReview_SetsReviewerName(t *testing.T) {
	repo := &stubRepo{reviewClaim: &model.Claim{}}
	svc := NewService(repo, nil)

	claim, err := svc.Review(context.Background(), manager(), "cdd7fb89-1b63-44bb-b0ea-074e9f9f7c4f", model.ClaimStatusApproved, nil)
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if claim.ReviewerName == nil || *claim.ReviewerName != "Manager One" {
		t.Fatalf("reviewerName = %v, want Manager One", claim.ReviewerName)
	}
}

func TestReview_CommentsLimit(t *testing.T) {
	repo := &stubRepo{reviewClaim: &model.Claim{}}
	svc := NewService(repo, nil)

	oversized := strings.Repeat("a", model.MaxCommentsLen+1)
	_, err := svc.Review(context.Background(), manager(), "cdd7fb89-1b63-44bb-b0ea-074e9f9f7c4f", model.ClaimStatusApproved, &oversized)

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "comments" {
		t.Fatalf("field = %q, want %q", ve.Field, "comments")
	}

	// Лимит считается в символах, а не в байтах.
	atLimit := strings.Repeat("ё", model.MaxCommentsLen)
	if _, err := svc.Review(context.Background(), manager(), "cdd7fb89-1b63-44bb-b0ea-074e9f9f7c4f", model.ClaimStatusApproved, &atLimit); err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if repo.reviewComments != atLimit {
		t.Fatalf("comments were altered")
	}
}

func TestReview_PropagatesConflict(t *testing.T) {
	repo := &stubRepo{reviewErr: repository.ErrClaimReviewed}
	svc := NewService(repo, nil)

	_, err := svc.Review(context.Background(), manager(), "cdd7fb89-1b63-44bb-b0ea-074e9f9f7c4f", model.ClaimStatusRejected, nil)
	if !errors.Is(err, repository.ErrClaimReviewed) {
		t.Fatalf("expected ErrClaimReviewed, got %v", err)
	}
}

func TestListPending_EmployeeForbidden(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	_, err := svc.ListPending(context.Background(), employee(), nil)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestListPending_PassesOwnerFilter(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	ownerID := int64(7)
	_, err := svc.ListPending(context.Background(), manager(), &ownerID)
	if err != nil {
		t.Fatalf("ListPending error: %v", err)
	}
	if repo.pendingOwnerID == nil || *repo.pendingOwnerID != 7 {
		t.Fatalf("owner filter was not passed through: %v", repo.pendingOwnerID)
	}
}

// memRepo реализует семантику условного обновления для сценарных тестов.
type memRepo struct {
	stubRepo

	mu     sync.Mutex
	claims map[string]*model.Claim
}

func newMemRepo() *memRepo {
	return &memRepo{claims: make(map[string]*model.Claim)}
}

func (m *memRepo) CreateClaim(ctx context.Context, c *model.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.claims[c.ID] = &cp
	return nil
}

func (m *memRepo) ReviewClaim(ctx context.Context, claimID string, status model.ClaimStatus, reviewerID int64, comments string) (*model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claims[claimID]
	if !ok {
		return nil, repository.ErrClaimNotFound
	}
	if c.Status != model.ClaimStatusPending {
		return nil, repository.ErrClaimReviewed
	}

	now := time.Now()
	c.Status = status
	c.ReviewedAt = &now
	c.ReviewedBy = &reviewerID
	c.Comments = &comments

	cp := *c
	return &cp, nil
}

func TestLifecycle_SubmitApproveThenSecondReviewConflicts(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)

	e1 := employee()
	m1 := manager()
	m2 := &model.User{ID: 3, Username: "m2", Role: model.RoleManager}

	claim, err := svc.Submit(context.Background(), e1, 150.75, "USD", "Business lunch", "2024-01-15")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	comments := "ok"
	approved, err := svc.Review(context.Background(), m1, claim.ID, model.ClaimStatusApproved, &comments)
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if approved.Status != model.ClaimStatusApproved {
		t.Fatalf("status = %q, want APPROVED", approved.Status)
	}
	if approved.ReviewedBy == nil || *approved.ReviewedBy != m1.ID {
		t.Fatalf("reviewedBy = %v, want %d", approved.ReviewedBy, m1.ID)
	}
	if approved.ReviewedAt == nil || approved.Comments == nil || *approved.Comments != "ok" {
		t.Fatalf("review fields not set atomically: %+v", approved)
	}

	_, err = svc.Review(context.Background(), m2, claim.ID, model.ClaimStatusRejected, nil)
	if !errors.Is(err, repository.ErrClaimReviewed) {
		t.Fatalf("expected ErrClaimReviewed, got %v", err)
	}

	// Заявка осталась в состоянии, записанном победителем.
	final := repo.claims[claim.ID]
	if final.Status != model.ClaimStatusApproved {
		t.Fatalf("final status = %q, want APPROVED", final.Status)
	}
	if *final.ReviewedBy != m1.ID {
		t.Fatalf("final reviewedBy = %d, want %d", *final.ReviewedBy, m1.ID)
	}
}

func TestLifecycle_ConcurrentReviews(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)

	claim, err := svc.Submit(context.Background(), employee(), 42, "EUR", "Taxi", "2024-02-01")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	const reviewers = 8
	errs := make(chan error, reviewers)

	var wg sync.WaitGroup
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			m := &model.User{ID: 100 + id, Role: model.RoleManager}
			decision := model.ClaimStatusApproved
			if id%2 == 1 {
				decision = model.ClaimStatusRejected
			}
			_, err := svc.Review(context.Background(), m, claim.ID, decision, nil)
			errs <- err
		}(int64(i))
	}
	wg.Wait()
	close(errs)

	var won, conflicted int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, repository.ErrClaimReviewed):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}
	if conflicted != reviewers-1 {
		t.Fatalf("conflicts = %d, want %d", conflicted, reviewers-1)
	}
}
