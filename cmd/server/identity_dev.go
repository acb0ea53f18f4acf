package main

import (
	"context"

	"github.com/dkeye/Talk/internal/core"
	"github.com/dkeye/Talk/internal/domain"
)

// devIdentity treats the token itself as the user id. It exists so the
// server can run end to end without the external auth service; never
// intended for anything but local development.
type devIdentity struct{}

func (devIdentity) Resolve(_ context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, core.ErrUnauthorized
	}
	return &domain.User{ID: domain.UserID(token), Username: token}, nil
}
