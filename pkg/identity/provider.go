// Package identity is the end-user identity provider: account storage and
// token issue on the server side, and a Provider client the portal uses to
// sign users in and follow their session.
package identity

import (
	"context"
	"errors"

	"lost-found-portal/pkg/models"
)

// Provider is what the portal needs from the identity provider. Session
// changes are delivered asynchronously and in order; the first delivery
// reports the state found at start-up.
type Provider interface {
	OnSessionChange(fn func(*models.Identity)) (unsubscribe func())
	SignIn(ctx context.Context, email, password string) (*models.Identity, error)
	SignUp(ctx context.Context, req SignUpRequest) (*models.Identity, error)
	SignOut(ctx context.Context) error
}

type SignUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Phone     string `json:"phone"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

const MsgInvalidCredentials = "Invalid email or password."

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidInput       = errors.New("invalid sign-up input")
)

// AuthError is a failed sign-in or sign-up. Message is safe to show.
type AuthError struct {
	Op      string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// invalidCredentials never says which half of the pair was wrong.
func invalidCredentials(err error) *AuthError {
	return &AuthError{Op: "sign in", Message: MsgInvalidCredentials, Err: err}
}
