package main

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lost-found-portal/pkg/feed"
	"lost-found-portal/pkg/flags"
	"lost-found-portal/pkg/identity"
	"lost-found-portal/pkg/middleware"
	"lost-found-portal/pkg/moderation"
	"lost-found-portal/pkg/response"
	"lost-found-portal/pkg/session"
	"lost-found-portal/pkg/store"
	"lost-found-portal/pkg/submission"
	"lost-found-portal/pkg/validation"
)

type server struct {
	log        *zap.Logger
	gate       *session.Gate
	accounts   *session.Accounts
	admins     *session.AdminAuthenticator
	feed       *feed.Aggregator
	reports    *store.ReportRepository
	submitter  *submission.Submitter
	moderation *moderation.Workflow
	flags      flags.Store
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware, middleware.MetricsMiddleware, middleware.LoggerMiddleware(s.log))

	r.Get("/health", s.health)
	r.Handle("/metrics", middleware.GetMetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/feed", s.getFeed)
		r.Get("/feed/stream", s.streamFeed)
		r.Post("/reports", s.createReport)
		r.Post("/reports/validate", s.validateDraft)

		r.Get("/session", s.getSession)
		r.Post("/auth/signup", s.signUp)
		r.Post("/auth/login", s.logIn)
		r.Post("/auth/logout", s.logOut)

		r.Get("/preferences/theme", s.getTheme)
		r.Put("/preferences/theme", s.putTheme)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", s.adminLogin)
		r.Post("/logout", s.adminLogout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.gate))
			r.Get("/reports", s.adminReports)
			r.Post("/reports/{id}/resolve", s.resolve)
		})
	})
	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	view := s.feed.View()
	status := http.StatusOK
	health := map[string]interface{}{
		"status":      "UP",
		"service":     "report-service",
		"feed_loaded": view.Loaded,
		"session":     s.gate.State().EndUser,
	}
	select {
	case <-s.feed.Done():
		health["status"] = "DOWN"
		status = http.StatusServiceUnavailable
	default:
	}
	response.JSON(w, status, health)
}

func (s *server) getFeed(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if !params.Has("search") && !params.Has("filter") {
		response.Success(w, http.StatusOK, "Feed fetched", s.feed.View())
		return
	}

	filter, err := feed.ParseFilter(params.Get("filter"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Filter must be all, lost or found", "")
		return
	}
	view, err := s.feed.SetQuery(r.Context(), feed.Query{Search: params.Get("search"), Filter: filter})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Feed fetched", view)
}

func (s *server) createReport(w http.ResponseWriter, r *http.Request) {
	var form validation.Form
	if err := response.Decode(r, &form); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	report, err := s.submitter.Submit(r.Context(), form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response.Success(w, http.StatusCreated, "Report submitted successfully", report)
}

// validateDraft checks a report draft without saving it. With a field it
// re-checks only that field, as when the user edits it; without one it
// checks the whole draft, as on submit.
func (s *server) validateDraft(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Draft validation.Form `json:"draft"`
		Field string          `json:"field,omitempty"`
	}
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	state := &validation.FormState{Values: input.Draft}
	if input.Field == "" {
		state.Values = state.Values.Sanitized()
		state.ValidateAll()
	} else {
		field, ok := validation.ParseField(input.Field)
		if !ok {
			response.Error(w, http.StatusBadRequest, "Unknown field", input.Field)
			return
		}
		state.Change(field, input.Draft.Value(field))
	}

	response.Success(w, http.StatusOK, "Draft checked", map[string]interface{}{
		"values": state.Values,
		"fields": state.Errors.Messages(),
		"valid":  state.Valid(),
	})
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "Session fetched", s.gate.State())
}

func (s *server) signUp(w http.ResponseWriter, r *http.Request) {
	var input identity.SignUpRequest
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	created, err := s.accounts.SignUp(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response.Success(w, http.StatusCreated, "Account created. Please log in.", created)
}

func (s *server) logIn(w http.ResponseWriter, r *http.Request) {
	var input identity.Credentials
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	id, err := s.accounts.LogIn(r.Context(), input.Email, input.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Login successful", id)
}

func (s *server) logOut(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.LogOut(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Logged out", nil)
}

func (s *server) getTheme(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "Theme fetched", map[string]string{"theme": flags.Theme(s.flags)})
}

// putTheme stores the requested theme, or flips it when none is given.
func (s *server) putTheme(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Theme string `json:"theme"`
	}
	if r.ContentLength != 0 {
		if err := response.Decode(r, &input); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
			return
		}
	}

	theme := input.Theme
	switch theme {
	case "":
		next, err := flags.ToggleTheme(s.flags)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		theme = next
	case flags.ThemeLight, flags.ThemeDark:
		if err := s.flags.Set(flags.KeyTheme, theme); err != nil {
			s.writeError(w, r, err)
			return
		}
	default:
		response.Error(w, http.StatusBadRequest, "Theme must be light or dark", "")
		return
	}
	response.Success(w, http.StatusOK, "Theme updated", map[string]string{"theme": theme})
}

func (s *server) adminLogin(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	if err := s.gate.LoginAdminWith(s.admins, input.Username, input.Password); err != nil {
		if errors.Is(err, session.ErrInvalidAdminCredentials) {
			s.log.Warn("failed admin login", zap.String("trace_id", middleware.GetTraceID(r)))
			response.Error(w, http.StatusUnauthorized, "Invalid admin credentials", "")
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.log.Info("admin signed in", zap.String("trace_id", middleware.GetTraceID(r)))
	response.Success(w, http.StatusOK, "Admin login successful", s.gate.State())
}

func (s *server) adminLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.LogoutAdmin(); err != nil {
		s.writeError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Admin logged out", s.gate.State())
}

func (s *server) adminReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.reports.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Reports fetched", reports)
}

func (s *server) resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.moderation.Resolve(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	report, _ := s.feed.Lookup(id)
	response.Success(w, http.StatusOK, "Report resolved", report)
}

// writeError maps domain failures to responses. Nothing here is fatal.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		writeErr *store.WriteError
		authErr  *identity.AuthError
	)

	if errs, ok := validation.FieldErrors(err); ok {
		response.ValidationFailed(w, errs.Messages())
		return
	}

	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		response.Error(w, http.StatusUnauthorized, "Please log in first", "")
	case errors.Is(err, session.ErrUnauthorized):
		response.Error(w, http.StatusForbidden, "Forbidden", "Admin session required")
	case errors.Is(err, session.ErrSignUpInProgress):
		response.Error(w, http.StatusConflict, "A sign-up is already in progress", "")
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "Report not found", "")
	case errors.As(err, &writeErr):
		s.log.Error("store rejected write", zap.String("trace_id", middleware.GetTraceID(r)), zap.Error(err))
		response.Error(w, http.StatusBadGateway, "Could not save your changes. Please try again.", "")
	case errors.As(err, &authErr):
		status := http.StatusBadRequest
		if authErr.Op == "sign in" {
			status = http.StatusUnauthorized
		}
		response.Error(w, status, authErr.Message, "")
	case errors.Is(err, feed.ErrClosed):
		response.Error(w, http.StatusServiceUnavailable, "Feed unavailable", "")
	default:
		s.log.Error("request failed", zap.String("trace_id", middleware.GetTraceID(r)), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Internal server error", "")
	}
}
