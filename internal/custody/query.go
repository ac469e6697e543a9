package custody

import (
	"context"
	"errors"

	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/event"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/store"
)

// Balance is the read view of a holder account.
type Balance struct {
	Owner        model.Address `json:"owner"`
	Account      model.Address `json:"account"`
	Amount       uint64        `json:"amount"`
	Escrowed     uint64        `json:"escrowed"`
	Available    uint64        `json:"available"`
	WithheldFees uint64        `json:"withheld_fees"`
}

const defaultListLimit = 100

func (s *Service) Config(ctx context.Context, asset model.Address) (*model.CustodyConfig, error) {
	var out *model.CustodyConfig
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = config(ctx, tx, asset)
		return err
	})
	return out, err
}

func (s *Service) GatekeeperConfig(ctx context.Context, asset model.Address) (*model.GatekeeperConfig, error) {
	var out *model.GatekeeperConfig
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.GetGatekeeperConfig(ctx, asset)
		return err
	})
	return out, err
}

// MintInfo returns the ledger mint of the asset: supply, authority and fee schedule.
func (s *Service) MintInfo(ctx context.Context, asset model.Address) (*model.Mint, error) {
	var out *model.Mint
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.GetMint(ctx, asset)
		return err
	})
	return out, err
}

// Balance returns owner's holdings. An owner without an account reads as all
// zeros as long as the asset exists.
func (s *Service) Balance(ctx context.Context, asset, owner model.Address) (Balance, error) {
	out := Balance{Owner: owner, Account: s.programs.HolderAccountAddress(owner, asset)}
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetMint(ctx, asset); err != nil {
			return err
		}
		acct, err := tx.GetHolderAccount(ctx, asset, owner)
		if isMissing(err) {
			return nil
		}
		if err != nil {
			return err
		}
		out.Amount = acct.Amount
		out.Escrowed = acct.Escrowed
		out.Available = acct.Available()
		out.WithheldFees = acct.WithheldFees
		return nil
	})
	return out, err
}

func (s *Service) Redemption(ctx context.Context, asset model.Address, id uint64) (*model.RedemptionRequest, error) {
	var out *model.RedemptionRequest
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.GetRedemptionRequest(ctx, asset, id)
		return err
	})
	return out, err
}

func (s *Service) Redemptions(ctx context.Context, asset model.Address, filter model.RedemptionFilter) ([]model.RedemptionRequest, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	var out []model.RedemptionRequest
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListRedemptionRequests(ctx, asset, filter)
		return err
	})
	return out, err
}

func (s *Service) RoleGrants(ctx context.Context, asset model.Address) ([]model.RoleGrant, error) {
	var out []model.RoleGrant
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListRoleGrants(ctx, asset)
		return err
	})
	return out, err
}

// HasRole is the pure capability predicate. Any failure reads as false.
func (s *Service) HasRole(ctx context.Context, asset, subject model.Address, role model.Role) bool {
	var held bool
	_ = s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		held = s.roles.HasRole(ctx, tx, asset, subject, role)
		return nil
	})
	return held
}

func (s *Service) Blacklist(ctx context.Context, asset model.Address) ([]model.BlacklistEntry, error) {
	var out []model.BlacklistEntry
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListBlacklist(ctx, asset)
		return err
	})
	return out, err
}

func (s *Service) IsBlacklisted(ctx context.Context, asset, address model.Address) bool {
	var listed bool
	_ = s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		listed = s.gate.IsBlacklisted(ctx, tx, asset, address)
		return nil
	})
	return listed
}

// Events returns audit envelopes with sequence greater than after.
func (s *Service) Events(ctx context.Context, asset model.Address, after int64, limit int) ([]event.Envelope, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []event.Envelope
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListEvents(ctx, asset, after, limit)
		return err
	})
	return out, err
}

// isMissing reports whether err is a lookup miss rather than a failure.
func isMissing(err error) bool { return errors.Is(err, domain.ErrNotFound) }
