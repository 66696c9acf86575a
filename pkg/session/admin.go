package session

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidAdminCredentials = errors.New("invalid admin credentials")

// AdminAuthenticator checks the moderator login against a configured user
// name and bcrypt hash. With no hash configured every attempt fails.
type AdminAuthenticator struct {
	user string
	hash []byte
}

func NewAdminAuthenticator(user, passwordHash string) *AdminAuthenticator {
	return &AdminAuthenticator{user: user, hash: []byte(passwordHash)}
}

func (a *AdminAuthenticator) Check(user, password string) error {
	if len(a.hash) == 0 {
		return ErrInvalidAdminCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
	if bcrypt.CompareHashAndPassword(a.hash, []byte(password)) != nil || !userOK {
		return ErrInvalidAdminCredentials
	}
	return nil
}

// LoginAdminWith checks the credentials and, when they match, sets the admin flag.
func (g *Gate) LoginAdminWith(auth *AdminAuthenticator, user, password string) error {
	if err := auth.Check(user, password); err != nil {
		return err
	}
	return g.LoginAdmin()
}
