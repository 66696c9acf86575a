package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/models"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// isValidPassword checks password strength
func isValidPassword(password string) (bool, string) {
	if len(password) < 8 {
		return false, "Password must be at least 8 characters"
	}
	if len(password) > 72 {
		return false, "Password too long"
	}
	return true, ""
}

// normalizeEmail makes lookups case-insensitive whatever the store does.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Session is a signed-in account and its bearer token.
type Session struct {
	User  models.User
	Token string
}

// Service is the account side of the identity provider.
type Service struct {
	users  UserStore
	tokens *Tokens
	log    *zap.Logger
	cost   int
}

func NewService(users UserStore, tokens *Tokens, log *zap.Logger) *Service {
	return &Service{users: users, tokens: tokens, log: logger.OrNop(log), cost: bcrypt.DefaultCost}
}

func (s *Service) Tokens() *Tokens { return s.tokens }

// Register creates an account. Failures carry a message meant for the user.
func (s *Service) Register(ctx context.Context, req SignUpRequest) (Session, error) {
	fail := func(msg string, err error) (Session, error) {
		return Session{}, &AuthError{Op: "sign up", Message: msg, Err: err}
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return fail("Email and Password are required", ErrInvalidInput)
	}
	if !emailRegex.MatchString(email) {
		return fail("Invalid email format", ErrInvalidInput)
	}
	if ok, msg := isValidPassword(req.Password); !ok {
		return fail(msg, ErrInvalidInput)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		s.log.Error("failed to hash password", zap.Error(err))
		return fail("Failed to process registration", err)
	}

	user := models.User{
		Email:     email,
		Password:  string(hashed),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Username:  strings.TrimSpace(req.Username),
		Phone:     strings.TrimSpace(req.Phone),
	}
	if err := s.users.Create(ctx, &user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			s.log.Warn("registration attempt with existing email")
			return fail("Email already registered", err)
		}
		s.log.Error("failed to save user", zap.Error(err))
		return fail("Failed to save user", err)
	}

	token, err := s.tokens.Issue(user.Identity())
	if err != nil {
		s.log.Error("failed to issue token", zap.String("user_id", user.ID), zap.Error(err))
		return fail("Failed to generate token", err)
	}

	s.log.Info("user registered", zap.String("user_id", user.ID))
	return Session{User: user, Token: token}, nil
}

// Login checks credentials. Every failure looks the same to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		s.log.Warn("failed login attempt")
		return Session{}, invalidCredentials(ErrInvalidCredentials)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		s.log.Warn("invalid password attempt")
		return Session{}, invalidCredentials(ErrInvalidCredentials)
	}

	token, err := s.tokens.Issue(user.Identity())
	if err != nil {
		return Session{}, invalidCredentials(err)
	}

	s.log.Info("user logged in", zap.String("user_id", user.ID))
	return Session{User: *user, Token: token}, nil
}

// Me loads the account behind a verified identity.
func (s *Service) Me(ctx context.Context, id models.Identity) (*models.User, error) {
	return s.users.FindByID(ctx, id.UserID)
}
