package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/emperorhan/rwa-custody/internal/alert"
	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/event"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/metrics"
	"github.com/emperorhan/rwa-custody/internal/store"
)

// InitializeParams describes a new asset. Name, Symbol and URI are the
// token metadata recorded in the initialization event; the metadata itself
// is managed outside this service.
type InitializeParams struct {
	Asset    model.Address
	Admin    model.Address
	Decimals uint8
	Name     string
	Symbol   string
	URI      string
}

// Initialize provisions the custody config, the asset's mint and the gate
// config in one step. The mint is created with the gate as its hook program
// and the custody config as its permanent delegate.
func (s *Service) Initialize(ctx context.Context, p InitializeParams) (*model.CustodyConfig, error) {
	var out *model.CustodyConfig
	_, err := s.run(ctx, "initialize", p.Asset, p.Admin, func(ctx context.Context, tx store.Tx, u *unit) error {
		if p.Asset.IsZero() || p.Admin.IsZero() {
			return fmt.Errorf("asset and admin are required: %w", domain.ErrInvalidState)
		}
		if _, err := tx.GetCustodyConfig(ctx, p.Asset); err == nil {
			return fmt.Errorf("asset %s already initialized: %w", p.Asset, domain.ErrAlreadyExists)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		cfg := &model.CustodyConfig{
			Address:       s.programs.CustodyConfigAddress(p.Asset),
			Asset:         p.Asset,
			Admin:         p.Admin,
			MintAuthority: s.programs.DefaultMintAuthority(p.Asset),
			GateProgram:   s.programs.Gate,
			CreatedAt:     u.at,
			UpdatedAt:     u.at,
		}
		if err := s.ledger.CreateMint(ctx, tx, &model.Mint{
			Address:           p.Asset,
			Decimals:          p.Decimals,
			MintAuthority:     cfg.MintAuthority,
			PermanentDelegate: cfg.Address,
			HookProgram:       s.programs.Gate,
			CreatedAt:         u.at,
		}); err != nil {
			return err
		}
		if _, err := s.gate.Initialize(ctx, tx, p.Asset, p.Admin); err != nil {
			return err
		}
		if err := tx.PutCustodyConfig(ctx, cfg); err != nil {
			return err
		}
		out = cfg
		return u.emit(event.TokenInitialized{
			Mint:              cfg.Asset,
			Admin:             cfg.Admin,
			GatekeeperProgram: cfg.GateProgram,
			Name:              p.Name,
			Symbol:            p.Symbol,
			URI:               p.URI,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TogglePause flips the pause flag and returns the new value.
func (s *Service) TogglePause(ctx context.Context, asset, caller model.Address) (bool, error) {
	var paused bool
	_, err := s.run(ctx, "toggle_pause", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		cfg, err := config(ctx, tx, asset)
		if err != nil {
			return err
		}
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		cfg.Paused = !cfg.Paused
		cfg.UpdatedAt = u.at
		if err := tx.PutCustodyConfig(ctx, cfg); err != nil {
			return err
		}
		paused = cfg.Paused

		u.after(func() {
			v := 0.0
			if paused {
				v = 1
			}
			metrics.AssetPaused.WithLabelValues(asset.String()).Set(v)
		})
		u.alert(alert.Alert{
			Type:    alert.AlertTypePauseToggled,
			Subject: caller.String(),
			Title:   fmt.Sprintf("Asset paused=%t", paused),
			Message: "Minting and redemption progress follow the pause flag",
		})
		return u.emit(event.PauseToggled{IsPaused: paused, Authority: caller})
	})
	return paused, err
}

// SetAdmin replaces the custody admin in a single step. The gate admin is
// not touched.
func (s *Service) SetAdmin(ctx context.Context, asset, caller, next model.Address) error {
	_, err := s.run(ctx, "set_admin", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		cfg, err := config(ctx, tx, asset)
		if err != nil {
			return err
		}
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		if next.IsZero() {
			return fmt.Errorf("new admin is the zero address: %w", domain.ErrInvalidState)
		}
		prev := cfg.Admin
		cfg.Admin = next
		cfg.UpdatedAt = u.at
		if err := tx.PutCustodyConfig(ctx, cfg); err != nil {
			return err
		}
		u.alert(alert.Alert{
			Type:    alert.AlertTypeAdminChanged,
			Subject: next.String(),
			Title:   "Custody admin replaced",
			Message: fmt.Sprintf("%s -> %s", prev, next),
		})
		return u.emit(event.AdminSet{Admin: next})
	})
	return err
}

// Mint issues amount to recipient and returns the new supply.
func (s *Service) Mint(ctx context.Context, asset, caller, recipient model.Address, amount uint64) (uint64, error) {
	var supply uint64
	_, err := s.run(ctx, "mint", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		cfg, err := config(ctx, tx, asset)
		if err != nil {
			return err
		}
		if err := s.roles.Require(ctx, tx, asset, caller, model.RoleSupplyController); err != nil {
			return err
		}
		if err := requireActive(cfg); err != nil {
			return err
		}
		if amount == 0 {
			return fmt.Errorf("mint: %w", domain.ErrInvalidAmount)
		}
		authority := s.programs.DefaultMintAuthority(asset)
		supply, err = s.ledger.MintTo(ctx, tx, asset, authority, recipient, amount)
		if err != nil {
			return err
		}
		return u.emit(event.TokensMinted{
			Mint:      asset,
			To:        s.programs.HolderAccountAddress(recipient, asset),
			Amount:    amount,
			Authority: authority,
			Recipient: recipient,
		})
	})
	return supply, err
}

// RotateMintAuthority hands the ledger mint authority to next. Once rotated
// away, the service can no longer mint or rotate again.
func (s *Service) RotateMintAuthority(ctx context.Context, asset, caller, next model.Address) error {
	_, err := s.run(ctx, "rotate_mint_authority", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		cfg, err := config(ctx, tx, asset)
		if err != nil {
			return err
		}
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		if next.IsZero() {
			return fmt.Errorf("new mint authority is the zero address: %w", domain.ErrInvalidState)
		}
		if err := s.ledger.SetMintAuthority(ctx, tx, asset, s.programs.DefaultMintAuthority(asset), next); err != nil {
			return err
		}
		prev := cfg.MintAuthority
		cfg.MintAuthority = next
		cfg.UpdatedAt = u.at
		if err := tx.PutCustodyConfig(ctx, cfg); err != nil {
			return err
		}
		u.alert(alert.Alert{
			Type:    alert.AlertTypeAuthority,
			Subject: next.String(),
			Title:   "Mint authority transferred",
			Message: fmt.Sprintf("%s -> %s", prev, next),
			Fields:  map[string]string{"transferred_by": caller.String()},
		})
		return u.emit(event.AuthorityTransferred{
			AuthorityType: event.AuthorityTypeMintTokens,
			OldAuthority:  prev,
			NewAuthority:  next,
			TransferredBy: caller,
		})
	})
	return err
}

// Wipe burns amount from a blacklisted holder using the custody config's
// permanent delegate rights. It bypasses the transfer gate and ignores
// escrow.
func (s *Service) Wipe(ctx context.Context, asset, caller, address model.Address, amount uint64) error {
	_, err := s.run(ctx, "wipe", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		cfg, err := config(ctx, tx, asset)
		if err != nil {
			return err
		}
		if err := s.roles.Require(ctx, tx, asset, caller, model.RoleAssetProtector); err != nil {
			return err
		}
		if amount == 0 {
			return fmt.Errorf("wipe: %w", domain.ErrInvalidAmount)
		}
		if !s.gate.IsBlacklisted(ctx, tx, asset, address) {
			return fmt.Errorf("wipe %s: %w", address, domain.ErrAddressNotBlacklisted)
		}
		if err := s.ledger.Burn(ctx, tx, asset, cfg.Address, address, amount); err != nil {
			return noBalance(err, address)
		}
		u.alert(alert.Alert{
			Type:    alert.AlertTypeWiped,
			Subject: address.String(),
			Title:   "Tokens wiped from blacklisted address",
			Message: fmt.Sprintf("%d base units burned", amount),
			Fields:  map[string]string{"wiped_by": caller.String()},
		})
		return u.emit(event.TokensWiped{TargetUser: address, Amount: amount, Authority: cfg.Address})
	})
	return err
}

// SetTransferFee updates the mint's transfer fee schedule.
func (s *Service) SetTransferFee(ctx context.Context, asset, caller model.Address, basisPoints uint16, maximumFee uint64) error {
	_, err := s.run(ctx, "set_transfer_fee", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		if _, err := config(ctx, tx, asset); err != nil {
			return err
		}
		if err := s.roles.Require(ctx, tx, asset, caller, model.RoleFeeController); err != nil {
			return err
		}
		if err := s.ledger.SetTransferFee(ctx, tx, asset, basisPoints, maximumFee); err != nil {
			return err
		}
		return u.emit(event.TransferFeeUpdated{
			BasisPoints: basisPoints,
			MaximumFee:  maximumFee,
			UpdatedBy:   caller,
			Timestamp:   u.timestamp(),
		})
	})
	return err
}

func (s *Service) GrantRole(ctx context.Context, asset, caller, subject model.Address, role model.Role) error {
	_, err := s.run(ctx, "grant_role", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		cfg, err := config(ctx, tx, asset)
		if err != nil {
			return err
		}
		if _, err := s.roles.Grant(ctx, tx, cfg, caller, subject, role); err != nil {
			return err
		}
		return u.emit(event.RoleAssigned{User: subject, Role: role.Label(), Authority: caller})
	})
	return err
}

func (s *Service) RevokeRole(ctx context.Context, asset, caller, subject model.Address, role model.Role) error {
	_, err := s.run(ctx, "revoke_role", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		if _, err := config(ctx, tx, asset); err != nil {
			return err
		}
		if err := s.roles.Revoke(ctx, tx, asset, caller, subject, role); err != nil {
			return err
		}
		return u.emit(event.RoleRemoved{User: subject, Role: role.Label(), Authority: caller})
	})
	return err
}

func (s *Service) AddToBlacklist(ctx context.Context, asset, caller, address model.Address) error {
	_, err := s.run(ctx, "add_to_blacklist", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		if _, err := config(ctx, tx, asset); err != nil {
			return err
		}
		if _, err := s.gate.AddToBlacklist(ctx, tx, asset, caller, address); err != nil {
			return err
		}
		u.alert(alert.Alert{
			Type:    alert.AlertTypeBlacklisted,
			Subject: address.String(),
			Title:   "Address blacklisted",
			Message: "Transfers from and to this address are rejected",
			Fields:  map[string]string{"added_by": caller.String()},
		})
		return u.emit(event.AddressBlacklisted{Address: address, AddedBy: caller, Timestamp: u.timestamp()})
	})
	return err
}

func (s *Service) RemoveFromBlacklist(ctx context.Context, asset, caller, address model.Address) error {
	_, err := s.run(ctx, "remove_from_blacklist", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		if _, err := config(ctx, tx, asset); err != nil {
			return err
		}
		if err := s.gate.RemoveFromBlacklist(ctx, tx, asset, caller, address); err != nil {
			return err
		}
		return u.emit(event.AddressUnblacklisted{Address: address, RemovedBy: caller, Timestamp: u.timestamp()})
	})
	return err
}

// SetGateAdmin rotates the gate admin. Only the current gate admin may call it.
func (s *Service) SetGateAdmin(ctx context.Context, asset, caller, next model.Address) error {
	_, err := s.run(ctx, "set_gate_admin", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		if next.IsZero() {
			return fmt.Errorf("new gate admin is the zero address: %w", domain.ErrInvalidState)
		}
		prev, err := s.gate.SetAdmin(ctx, tx, asset, caller, next)
		if err != nil {
			return err
		}
		u.alert(alert.Alert{
			Type:    alert.AlertTypeAdminChanged,
			Subject: next.String(),
			Title:   "Gate admin replaced",
			Message: fmt.Sprintf("%s -> %s", prev, next),
		})
		return u.emit(event.GateAdminSet{OldAdmin: prev, NewAdmin: next, Timestamp: u.timestamp()})
	})
	return err
}
