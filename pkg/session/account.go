package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"lost-found-portal/pkg/identity"
	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/models"
)

// Accounts runs the end-user account flows against the provider while
// keeping the gate's view consistent.
type Accounts struct {
	gate     *Gate
	provider identity.Provider
	log      *zap.Logger
}

func NewAccounts(gate *Gate, provider identity.Provider, log *zap.Logger) *Accounts {
	return &Accounts{gate: gate, provider: provider, log: logger.OrNop(log)}
}

// SignUp creates an account and leaves the visitor signed out. The new user
// has to log in explicitly afterwards.
func (a *Accounts) SignUp(ctx context.Context, req identity.SignUpRequest) (*models.Identity, error) {
	if err := a.gate.WaitReady(ctx); err != nil {
		return nil, err
	}
	if err := a.gate.BeginSignUp(); err != nil {
		return nil, err
	}

	created, err := a.provider.SignUp(ctx, req)
	if err != nil {
		a.gate.AbortSignUp()
		return nil, err
	}

	if err := a.provider.SignOut(ctx); err != nil {
		a.log.Error("sign out after sign-up failed", zap.String("user_id", created.UserID), zap.Error(err))
		a.gate.AbortSignUp()
		return nil, fmt.Errorf("finish sign-up: %w", err)
	}

	a.gate.Settle(created)
	a.log.Info("account created", zap.String("user_id", created.UserID))
	return created, nil
}

func (a *Accounts) LogIn(ctx context.Context, email, password string) (*models.Identity, error) {
	id, err := a.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	a.log.Info("user signed in", zap.String("user_id", id.UserID))
	return id, nil
}

func (a *Accounts) LogOut(ctx context.Context) error {
	return a.provider.SignOut(ctx)
}
