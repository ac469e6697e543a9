package custody

import (
	"context"
	"fmt"

	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/event"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/store"
)

// TransferParams describes a holder-to-holder transfer. From defaults to the
// caller; a different From means the caller acts as a delegate, which the
// gate rejects.
type TransferParams struct {
	From   model.Address
	To     model.Address
	Amount uint64
}

// Transfer moves tokens between holders through the ledger, which runs the
// gate before anything is written. Returns the fee withheld on the
// destination.
func (s *Service) Transfer(ctx context.Context, asset, caller model.Address, p TransferParams) (uint64, error) {
	from := p.From
	if from.IsZero() {
		from = caller
	}
	var fee uint64
	_, err := s.run(ctx, "transfer", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		if _, err := config(ctx, tx, asset); err != nil {
			return err
		}
		if p.To.IsZero() {
			return fmt.Errorf("destination is the zero address: %w", domain.ErrInvalidState)
		}
		var err error
		fee, err = s.ledger.Transfer(ctx, tx, asset, caller, from, p.To, p.Amount)
		if err != nil {
			return noBalance(err, from)
		}
		return u.emit(event.TokensTransferred{
			From:      from,
			To:        p.To,
			Amount:    p.Amount,
			Fee:       fee,
			Timestamp: u.timestamp(),
		})
	})
	return fee, err
}

// OpenAccount creates owner's balance cell if it does not exist yet. It is
// idempotent and emits nothing.
func (s *Service) OpenAccount(ctx context.Context, asset, caller, owner model.Address) (*model.HolderAccount, error) {
	if owner.IsZero() {
		owner = caller
	}
	var out *model.HolderAccount
	_, err := s.run(ctx, "open_account", asset, caller, func(ctx context.Context, tx store.Tx, _ *unit) error {
		if _, err := config(ctx, tx, asset); err != nil {
			return err
		}
		acct, err := s.ledger.OpenAccount(ctx, tx, asset, owner)
		if err != nil {
			return err
		}
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
