package identity

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/middleware"
	"lost-found-portal/pkg/models"
	"lost-found-portal/pkg/response"
)

// accountPayload is the body the provider returns for a signed-in account.
type accountPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Token     string `json:"token,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

func newAccountPayload(u models.User, token string) accountPayload {
	return accountPayload{
		ID:        u.ID,
		Email:     u.Email,
		Token:     token,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
	}
}

type handler struct {
	svc *Service
	log *zap.Logger
}

// NewHandler serves the provider routes on their own router.
func NewHandler(svc *Service, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, svc, log)
	return r
}

// RegisterRoutes adds the provider routes under /api/auth to r.
func RegisterRoutes(r chi.Router, svc *Service, log *zap.Logger) {
	h := &handler{svc: svc, log: logger.OrNop(log)}

	r.Post("/api/auth/register", h.register)
	r.Post("/api/auth/login", h.login)
	r.With(middleware.AuthMiddleware(svc.Tokens())).Get("/api/auth/me", h.me)
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var input SignUpRequest
	if err := response.Decode(r, &input); err != nil {
		h.log.Warn("invalid request format", zap.String("trace_id", middleware.GetTraceID(r)))
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	sess, err := h.svc.Register(r.Context(), input)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	response.Success(w, http.StatusCreated, "User registered successfully", newAccountPayload(sess.User, sess.Token))
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var input Credentials
	if err := response.Decode(r, &input); err != nil {
		h.log.Warn("invalid login request format", zap.String("trace_id", middleware.GetTraceID(r)))
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	sess, err := h.svc.Login(r.Context(), input.Email, input.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	response.Success(w, http.StatusOK, "Login successful", newAccountPayload(sess.User, sess.Token))
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusInternalServerError, "Failed to retrieve user context", "")
		return
	}

	user, err := h.svc.Me(r.Context(), id)
	if err != nil {
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	}

	response.Success(w, http.StatusOK, "User profile fetched", newAccountPayload(*user, ""))
}

func writeAuthError(w http.ResponseWriter, err error) {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		response.Error(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ErrEmailTaken):
		status = http.StatusConflict
	case authErr.Op == "sign in":
		status = http.StatusUnauthorized
	}
	response.Error(w, status, authErr.Message, "")
}
