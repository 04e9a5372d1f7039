// Package app provides user persistence helpers for authenticated requests.
package app

import (
	"context"
	"errors"

	"example/veritas-api/app/models"
	"example/veritas-api/app/store"
	"example/veritas-api/auth"
)

// UpsertUserFromClaims creates a user row if it does not already exist.
func (s *Server) UpsertUserFromClaims(ctx context.Context, claims *auth.Claims) error {
	if s.store == nil {
		return nil
	}
	if claims == nil || claims.Subject == "" {
		return nil
	}
	return s.store.EnsureUser(ctx, newUserFromClaims(claims, s.cfg.Limits.Free), s.now())
}

func newUserFromClaims(claims *auth.Claims, freeLimit int) store.NewUser {
	return store.NewUser{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Tier:    models.TierFree,
		Limit:   freeLimit,
	}
}

// accountFor returns the caller's account, creating it if the post-auth hook
// did not run.
func (s *Server) accountFor(ctx context.Context, claims *auth.Claims) (models.UserAccount, error) {
	u, err := s.store.GetUserBySubject(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		if err := s.UpsertUserFromClaims(ctx, claims); err != nil {
			return models.UserAccount{}, err
		}
		return s.store.GetUserBySubject(ctx, claims.Subject)
	}
	return u, err
}
