// Package handler содержит HTTP-обработчики API сервиса возмещения расходов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/expenses-system/internal/middleware"
	"github.com/mmeshcher/expenses-system/internal/model"
	"github.com/mmeshcher/expenses-system/internal/repository"
	"github.com/mmeshcher/expenses-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, username, password, fullName, email string, role model.Role) (*model.User, error)
	AuthenticateUser(ctx context.Context, username, password string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	Submit(ctx context.Context, actor *model.User, amount float64, currency, description, expenseDate string) (*model.Claim, error)
	Review(ctx context.Context, actor *model.User, claimID string, decision model.ClaimStatus, comments *string) (*model.Claim, error)
	ListOwn(ctx context.Context, actor *model.User) ([]model.Claim, error)
	ListPending(ctx context.Context, actor *model.User, ownerID *int64) ([]model.PendingClaim, error)
}

// TokenIssuer выпускает токены доступа для аутентифицированных пользователей.
type TokenIssuer interface {
	Generate(userID int64, role model.Role) (string, error)
}

// Handler реализует HTTP-обработчики API сервиса возмещения расходов.
type Handler struct {
	service        Service
	tokens         TokenIssuer
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, tokens TokenIssuer, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		tokens:         tokens,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

// handleServiceError транслирует ошибки сервиса в коды ответов:
// 400 валидация, 401 аутентификация, 403 авторизация, 404 нет заявки,
// 409 уже рассмотрена, 500 всё остальное.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error, op string) {
	var ve *service.ValidationError

	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, repository.ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, "Username already taken")
	case errors.Is(err, repository.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "Email already registered")
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, service.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "Access denied. Insufficient permissions.")
	case errors.Is(err, repository.ErrClaimNotFound):
		writeError(w, http.StatusNotFound, "Expense not found")
	case errors.Is(err, repository.ErrClaimReviewed):
		writeError(w, http.StatusConflict, "Expense has already been reviewed")
	default:
		h.logger.Error(op+" error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// actor загружает текущего пользователя по идентификатору из контекста запроса.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}

	u, err := h.service.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "Token is not valid")
			return nil, false
		}
		h.logger.Error("load current user error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}

	return u, true
}

type userResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	resp := userResponse{
		ID:       u.ID,
		Username: u.Username,
		FullName: u.FullName,
		Email:    u.Email,
		Role:     string(u.Role),
	}
	if !u.CreatedAt.IsZero() {
		resp.CreatedAt = u.CreatedAt.Format(time.RFC3339)
	}
	return resp
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.Username, req.Password, req.FullName, req.Email, model.Role(req.Role))
	if err != nil {
		h.handleServiceError(w, err, "register user")
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// Login выполняет аутентификацию пользователя и выдаёт токен доступа.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		h.handleServiceError(w, err, "login user")
		return
	}

	token, err := h.tokens.Generate(u.ID, u.Role)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err), zap.Int64("userID", u.ID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: token,
		User:  toUserResponse(u),
	})
}

// Me возвращает профиль текущего пользователя без хэша пароля.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := h.actor(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

type claimResponse struct {
	ID             string  `json:"id"`
	OwnerID        int64   `json:"ownerId"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Description    string  `json:"description"`
	ExpenseDate    string  `json:"expenseDate"`
	Status         string  `json:"status"`
	SubmittedAt    string  `json:"submittedAt"`
	ReviewedAt     *string `json:"reviewedAt"`
	ReviewedBy     *int64  `json:"reviewedBy"`
	ReviewedByName *string `json:"reviewedByName"`
	Comments       *string `json:"comments"`
}

func toClaimResponse(c *model.Claim) claimResponse {
	resp := claimResponse{
		ID:             c.ID,
		OwnerID:        c.OwnerID,
		Amount:         float64(c.AmountCents) / 100,
		Currency:       string(c.Currency),
		Description:    c.Description,
		ExpenseDate:    c.ExpenseDate.Format("2006-01-02"),
		Status:         string(c.Status),
		SubmittedAt:    c.SubmittedAt.Format(time.RFC3339),
		ReviewedBy:     c.ReviewedBy,
		ReviewedByName: c.ReviewerName,
		Comments:       c.Comments,
	}
	if c.ReviewedAt != nil {
		v := c.ReviewedAt.Format(time.RFC3339)
		resp.ReviewedAt = &v
	}
	return resp
}

type submitRequest struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
	ExpenseDate string  `json:"expenseDate"`
}

// SubmitExpense принимает новую заявку на возмещение от сотрудника.
func (h *Handler) SubmitExpense(w http.ResponseWriter, r *http.Request) {
	u, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claim, err := h.service.Submit(r.Context(), u, req.Amount, req.Currency, req.Description, req.ExpenseDate)
	if err != nil {
		h.handleServiceError(w, err, "submit expense")
		return
	}

	writeJSON(w, http.StatusCreated, toClaimResponse(claim))
}

// MyExpenses возвращает заявки текущего пользователя, новые первыми.
func (h *Handler) MyExpenses(w http.ResponseWriter, r *http.Request) {
	u, ok := h.actor(w, r)
	if !ok {
		return
	}

	claims, err := h.service.ListOwn(r.Context(), u)
	if err != nil {
		h.handleServiceError(w, err, "list own expenses")
		return
	}

	resp := make([]claimResponse, 0, len(claims))
	for i := range claims {
		resp = append(resp, toClaimResponse(&claims[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type claimOwnerResponse struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type pendingClaimResponse struct {
	claimResponse
	User claimOwnerResponse `json:"user"`
}

// PendingExpenses возвращает менеджеру нерассмотренные заявки,
// по желанию отфильтрованные по владельцу через ?userId=.
func (h *Handler) PendingExpenses(w http.ResponseWriter, r *http.Request) {
	u, ok := h.actor(w, r)
	if !ok {
		return
	}

	var ownerID *int64
	if raw := r.URL.Query().Get("userId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid userId: must be an integer")
			return
		}
		ownerID = &id
	}

	claims, err := h.service.ListPending(r.Context(), u, ownerID)
	if err != nil {
		h.handleServiceError(w, err, "list pending expenses")
		return
	}

	resp := make([]pendingClaimResponse, 0, len(claims))
	for i := range claims {
		resp = append(resp, pendingClaimResponse{
			claimResponse: toClaimResponse(&claims[i].Claim),
			User: claimOwnerResponse{
				ID:       claims[i].Owner.ID,
				FullName: claims[i].Owner.FullName,
				Email:    claims[i].Owner.Email,
			},
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type reviewRequest struct {
	Comments *string `json:"comments"`
}

// ApproveExpense одобряет заявку от имени менеджера.
func (h *Handler) ApproveExpense(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, model.ClaimStatusApproved)
}

// RejectExpense отклоняет заявку от имени менеджера.
func (h *Handler) RejectExpense(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, model.ClaimStatusRejected)
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request, decision model.ClaimStatus) {
	u, ok := h.actor(w, r)
	if !ok {
		return
	}

	claimID := chi.URLParam(r, "expenseID")

	var req reviewRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	claim, err := h.service.Review(r.Context(), u, claimID, decision, req.Comments)
	if err != nil {
		h.handleServiceError(w, err, "review expense")
		return
	}

	writeJSON(w, http.StatusOK, toClaimResponse(claim))
}
