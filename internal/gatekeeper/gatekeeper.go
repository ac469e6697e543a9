// Package gatekeeper holds the per-asset blacklist and the transfer hook that
// the ledger runs on every holder-to-holder transfer.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/ledger"
	"github.com/emperorhan/rwa-custody/internal/metrics"
	"github.com/emperorhan/rwa-custody/internal/rbac"
	"github.com/emperorhan/rwa-custody/internal/store"
)

type Gatekeeper struct {
	programs model.Programs
	roles    *rbac.Registry
	now      func() time.Time
}

var _ ledger.TransferHook = (*Gatekeeper)(nil)

func New(programs model.Programs, roles *rbac.Registry, now func() time.Time) *Gatekeeper {
	if now == nil {
		now = time.Now
	}
	return &Gatekeeper{programs: programs, roles: roles, now: now}
}

// Program is the hook program id mints must name to be gated by this hook.
func (g *Gatekeeper) Program() model.Address { return g.programs.Gate }

func (g *Gatekeeper) Initialize(ctx context.Context, tx store.Tx, asset, admin model.Address) (*model.GatekeeperConfig, error) {
	if _, err := tx.GetGatekeeperConfig(ctx, asset); err == nil {
		return nil, fmt.Errorf("gatekeeper config %s: %w", asset, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	cfg := &model.GatekeeperConfig{
		Address:   g.programs.GatekeeperConfigAddress(asset),
		Asset:     asset,
		Admin:     admin,
		CreatedAt: g.now().UTC(),
	}
	if err := tx.PutGatekeeperConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetAdmin rotates the gate admin independently of the custody admin and
// returns the previous one.
func (g *Gatekeeper) SetAdmin(ctx context.Context, tx store.Tx, asset, caller, next model.Address) (model.Address, error) {
	cfg, err := tx.GetGatekeeperConfig(ctx, asset)
	if err != nil {
		return model.Address{}, err
	}
	if caller != cfg.Admin {
		return model.Address{}, fmt.Errorf("set gate admin: %w", domain.ErrUnauthorized)
	}
	prev := cfg.Admin
	cfg.Admin = next
	return prev, tx.PutGatekeeperConfig(ctx, cfg)
}

func (g *Gatekeeper) authorize(ctx context.Context, tx store.Tx, asset, caller model.Address) error {
	if g.roles.HasRole(ctx, tx, asset, caller, model.RoleAssetProtector) {
		return nil
	}
	cfg, err := tx.GetGatekeeperConfig(ctx, asset)
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return fmt.Errorf("blacklist change by %s: %w", caller, domain.ErrUnauthorized)
	}
	return nil
}

func (g *Gatekeeper) AddToBlacklist(ctx context.Context, tx store.Tx, asset, caller, address model.Address) (*model.BlacklistEntry, error) {
	if err := g.authorize(ctx, tx, asset, caller); err != nil {
		return nil, err
	}
	if g.IsBlacklisted(ctx, tx, asset, address) {
		return nil, fmt.Errorf("blacklist %s: %w", address, domain.ErrAlreadyExists)
	}
	entry := &model.BlacklistEntry{
		Asset:   asset,
		Address: address,
		AddedBy: caller,
		AddedAt: g.now().UTC(),
	}
	if err := tx.PutBlacklistEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (g *Gatekeeper) RemoveFromBlacklist(ctx context.Context, tx store.Tx, asset, caller, address model.Address) error {
	if err := g.authorize(ctx, tx, asset, caller); err != nil {
		return err
	}
	if !g.IsBlacklisted(ctx, tx, asset, address) {
		return fmt.Errorf("unblacklist %s: %w", address, domain.ErrAddressNotBlacklisted)
	}
	return tx.DeleteBlacklistEntry(ctx, asset, address)
}

func (g *Gatekeeper) IsBlacklisted(ctx context.Context, tx store.Tx, asset, address model.Address) bool {
	_, err := tx.GetBlacklistEntry(ctx, asset, address)
	return err == nil
}

// Execute is the transfer hook. It writes nothing.
func (g *Gatekeeper) Execute(ctx context.Context, tx store.Tx, in ledger.HookInput) error {
	if err := g.check(ctx, tx, in); err != nil {
		metrics.GateRejectionsTotal.WithLabelValues(domain.KindOf(err)).Inc()
		return err
	}
	metrics.GateAdmissionsTotal.Inc()
	return nil
}

func (g *Gatekeeper) check(ctx context.Context, tx store.Tx, in ledger.HookInput) error {
	if in.DeclaredOwner != in.Source.Owner {
		return fmt.Errorf("declared owner %s is not source owner: %w", in.DeclaredOwner, domain.ErrUnauthorized)
	}

	if g.IsBlacklisted(ctx, tx, in.Mint, in.Source.Owner) {
		return fmt.Errorf("source %s: %w", in.Source.Owner, domain.ErrAddressBlacklisted)
	}
	if g.IsBlacklisted(ctx, tx, in.Mint, in.Destination.Owner) {
		return fmt.Errorf("destination %s: %w", in.Destination.Owner, domain.ErrAddressBlacklisted)
	}

	// The source was already debited; add the amount back to recover the
	// balance the holder had when the transfer started.
	pre, ok := model.CheckedAdd(in.Source.Amount, in.Amount)
	if !ok {
		return fmt.Errorf("pre-transfer balance: %w", domain.ErrMathOverflow)
	}
	available := model.SaturatingSub(pre, in.Source.Escrowed)
	if in.Amount > available {
		return fmt.Errorf("transfer %d exceeds available %d: %w", in.Amount, available, domain.ErrInsufficientAvailableTokens)
	}
	return nil
}
