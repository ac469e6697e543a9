// Package rbac is the role registry. A role is held exactly when its grant
// record exists; there is no other source of authorization state.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/store"
)

type Registry struct {
	programs model.Programs
	now      func() time.Time
}

func New(programs model.Programs, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{programs: programs, now: now}
}

// HasRole reports whether subject holds role for asset. Lookup failures
// count as "not held".
func (r *Registry) HasRole(ctx context.Context, tx store.Tx, asset, subject model.Address, role model.Role) bool {
	_, err := tx.GetRoleGrant(ctx, asset, subject, role)
	return err == nil
}

// Require returns domain.ErrUnauthorized unless subject holds role.
func (r *Registry) Require(ctx context.Context, tx store.Tx, asset, subject model.Address, role model.Role) error {
	if !r.HasRole(ctx, tx, asset, subject, role) {
		return fmt.Errorf("%s lacks %s: %w", subject, role, domain.ErrUnauthorized)
	}
	return nil
}

// Grant creates the (subject, role) grant. The caller must be the configured
// admin or hold DefaultAdmin.
func (r *Registry) Grant(ctx context.Context, tx store.Tx, cfg *model.CustodyConfig, caller, subject model.Address, role model.Role) (*model.RoleGrant, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("role %d: %w", uint8(role), domain.ErrInvalidState)
	}
	if caller != cfg.Admin && !r.HasRole(ctx, tx, cfg.Asset, caller, model.RoleDefaultAdmin) {
		return nil, fmt.Errorf("grant %s: %w", role, domain.ErrUnauthorized)
	}

	_, err := tx.GetRoleGrant(ctx, cfg.Asset, subject, role)
	if err == nil {
		return nil, fmt.Errorf("grant %s to %s: %w", role, subject, domain.ErrAlreadyExists)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	g := &model.RoleGrant{
		Address:   r.programs.RoleGrantAddress(cfg.Asset, subject, role),
		Asset:     cfg.Asset,
		Subject:   subject,
		Role:      role,
		GrantedBy: caller,
		GrantedAt: r.now().UTC(),
	}
	if err := tx.PutRoleGrant(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Revoke destroys the (subject, role) grant. Only DefaultAdmin holders may
// revoke.
func (r *Registry) Revoke(ctx context.Context, tx store.Tx, asset, caller, subject model.Address, role model.Role) error {
	if err := r.Require(ctx, tx, asset, caller, model.RoleDefaultAdmin); err != nil {
		return fmt.Errorf("revoke %s: %w", role, err)
	}
	if _, err := tx.GetRoleGrant(ctx, asset, subject, role); err != nil {
		return fmt.Errorf("revoke %s from %s: %w", role, subject, err)
	}
	return tx.DeleteRoleGrant(ctx, asset, subject, role)
}
