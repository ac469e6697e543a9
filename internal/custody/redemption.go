package custody

import (
	"context"
	"fmt"

	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/event"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/metrics"
	"github.com/emperorhan/rwa-custody/internal/store"
)

const maxNotesLen = 256

type RedemptionParams struct {
	Amount uint64
	Method model.RedemptionMethod
	Notes  string
}

// RequestRedemption commits amount of the caller's free balance to a new
// Pending request. The amount is delegated to the request's own escrow
// authority and added to the holder's escrowed total, so concurrent requests
// stack instead of replacing each other.
func (s *Service) RequestRedemption(ctx context.Context, asset, caller model.Address, p RedemptionParams) (*model.RedemptionRequest, error) {
	var out *model.RedemptionRequest
	_, err := s.run(ctx, "request_redemption", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		cfg, err := config(ctx, tx, asset)
		if err != nil {
			return err
		}
		if err := requireActive(cfg); err != nil {
			return err
		}
		if p.Amount == 0 {
			return fmt.Errorf("redeem: %w", domain.ErrInvalidAmount)
		}
		if !p.Method.Valid() || len(p.Notes) > maxNotesLen {
			return fmt.Errorf("redemption method %q or notes: %w", p.Method, domain.ErrInvalidState)
		}

		acct, err := tx.GetHolderAccount(ctx, asset, caller)
		if err != nil {
			return noBalance(err, caller)
		}
		if acct.Amount < p.Amount {
			return fmt.Errorf("balance %d < %d: %w", acct.Amount, p.Amount, domain.ErrInsufficientBalance)
		}
		if free := acct.Available(); free < p.Amount {
			return fmt.Errorf("free balance %d < %d: %w", free, p.Amount, domain.ErrInsufficientAvailableTokens)
		}

		id, ok := cfg.NextRedemptionID()
		if !ok {
			return domain.ErrCounterOverflow
		}
		escrow := s.programs.EscrowAuthority(caller, id)
		if err := s.ledger.Approve(ctx, tx, asset, caller, escrow, p.Amount); err != nil {
			return err
		}
		if err := s.adjustEscrow(ctx, tx, asset, caller, escrowLock, p.Amount); err != nil {
			return err
		}

		cfg.RedemptionCounter = id
		cfg.UpdatedAt = u.at
		if err := tx.PutCustodyConfig(ctx, cfg); err != nil {
			return err
		}

		req := &model.RedemptionRequest{
			Address:         s.programs.RedemptionRequestAddress(caller, id),
			Asset:           asset,
			ID:              id,
			Requester:       caller,
			Amount:          p.Amount,
			Status:          model.RedemptionPending,
			EscrowAuthority: escrow,
			Method:          p.Method,
			Notes:           p.Notes,
			RequestedAt:     u.at,
		}
		if err := tx.PutRedemptionRequest(ctx, req); err != nil {
			return err
		}
		out = req

		u.after(func() { recordTransition("none", model.RedemptionPending, p.Amount) })
		return u.emit(event.RedemptionRequested{
			User:      caller,
			RequestID: id,
			Amount:    p.Amount,
			Timestamp: u.timestamp(),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetRedemptionProcessing moves a Pending request to Processing. From here on
// the request can only be fulfilled.
func (s *Service) SetRedemptionProcessing(ctx context.Context, asset, caller model.Address, id uint64) error {
	_, err := s.run(ctx, "set_redemption_processing", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
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
		req, err := tx.GetRedemptionRequest(ctx, asset, id)
		if err != nil {
			return err
		}
		old := req.Status
		if err := transition(req, model.RedemptionProcessing); err != nil {
			return err
		}
		if err := tx.PutRedemptionRequest(ctx, req); err != nil {
			return err
		}
		u.after(func() { recordTransition(old.String(), model.RedemptionProcessing, req.Amount) })
		return u.emit(event.RedemptionStatusUpdated{
			User:      req.Requester,
			RequestID: id,
			OldStatus: old.Label(),
			NewStatus: req.Status.Label(),
		})
	})
	return err
}

// FulfillRedemption burns the escrowed amount through the request's escrow
// authority. The holder does not sign.
func (s *Service) FulfillRedemption(ctx context.Context, asset, caller model.Address, id uint64) error {
	_, err := s.run(ctx, "fulfill_redemption", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		cfg, err := config(ctx, tx, asset)
		if err != nil {
			return err
		}
		if err := s.roles.Require(ctx, tx, asset, caller, model.RoleSupplyController); err != nil {
			return err
		}
		req, err := tx.GetRedemptionRequest(ctx, asset, id)
		if err != nil {
			return err
		}
		old := req.Status
		if err := transition(req, model.RedemptionFulfilled); err != nil {
			return err
		}
		// Status is checked before pause: only a Processing request can be
		// held up by the pause flag.
		if err := requireActive(cfg); err != nil {
			return err
		}

		if err := s.ledger.Burn(ctx, tx, asset, req.EscrowAuthority, req.Requester, req.Amount); err != nil {
			return noBalance(err, req.Requester)
		}
		if err := s.adjustEscrow(ctx, tx, asset, req.Requester, escrowBurn, req.Amount); err != nil {
			return err
		}

		completed := u.at
		req.CompletedAt = &completed
		if err := tx.PutRedemptionRequest(ctx, req); err != nil {
			return err
		}
		u.after(func() { recordTransition(old.String(), model.RedemptionFulfilled, req.Amount) })
		return u.emit(event.RedemptionFulfilled{
			User:      req.Requester,
			RequestID: id,
			Amount:    req.Amount,
			Timestamp: completed.Unix(),
		})
	})
	return err
}

// CancelRedemption releases the escrow of a Pending request. It works while
// the asset is paused.
func (s *Service) CancelRedemption(ctx context.Context, asset, caller model.Address, id uint64) error {
	_, err := s.run(ctx, "cancel_redemption", asset, caller, func(ctx context.Context, tx store.Tx, u *unit) error {
		if _, err := config(ctx, tx, asset); err != nil {
			return err
		}
		req, err := tx.GetRedemptionRequest(ctx, asset, id)
		if err != nil {
			return err
		}
		if caller != req.Requester && !s.roles.HasRole(ctx, tx, asset, caller, model.RoleSupplyController) {
			return fmt.Errorf("cancel request %d: %w", id, domain.ErrUnauthorized)
		}
		old := req.Status
		if err := transition(req, model.RedemptionCancelled); err != nil {
			return err
		}

		if _, err := s.ledger.Revoke(ctx, tx, asset, req.Requester, req.EscrowAuthority); err != nil {
			return err
		}
		if err := s.adjustEscrow(ctx, tx, asset, req.Requester, escrowRelease, req.Amount); err != nil {
			return err
		}

		completed := u.at
		req.CompletedAt = &completed
		if err := tx.PutRedemptionRequest(ctx, req); err != nil {
			return err
		}
		u.after(func() { recordTransition(old.String(), model.RedemptionCancelled, req.Amount) })
		return u.emit(event.RedemptionCancelled{
			User:        req.Requester,
			RequestID:   id,
			Amount:      req.Amount,
			Timestamp:   completed.Unix(),
			CancelledBy: caller,
		})
	})
	return err
}

func transition(req *model.RedemptionRequest, to model.RedemptionStatus) error {
	if !req.Status.CanTransition(to) {
		return fmt.Errorf("request %d is %s, cannot move to %s: %w", req.ID, req.Status, to, domain.ErrInvalidRequestStatus)
	}
	req.Status = to
	return nil
}

type escrowChange int

const (
	escrowLock escrowChange = iota
	escrowBurn
	escrowRelease
)

// adjustEscrow updates the holder's escrowed running total. Fulfillment must
// find the escrow it burns; cancellation tolerates a total that a wipe has
// already pushed out of line.
func (s *Service) adjustEscrow(ctx context.Context, tx store.Tx, asset, owner model.Address, change escrowChange, amount uint64) error {
	acct, err := tx.GetHolderAccount(ctx, asset, owner)
	if err != nil {
		return err
	}
	ok := true
	switch change {
	case escrowLock:
		acct.Escrowed, ok = model.CheckedAdd(acct.Escrowed, amount)
	case escrowBurn:
		acct.Escrowed, ok = model.CheckedSub(acct.Escrowed, amount)
	case escrowRelease:
		acct.Escrowed = model.SaturatingSub(acct.Escrowed, amount)
	}
	if !ok {
		return fmt.Errorf("escrowed total: %w", domain.ErrMathOverflow)
	}
	return tx.PutHolderAccount(ctx, acct)
}

func recordTransition(from string, to model.RedemptionStatus, amount uint64) {
	metrics.RedemptionTransitionsTotal.WithLabelValues(from, to.String()).Inc()
	metrics.RedemptionAmountTotal.WithLabelValues(to.String()).Add(float64(amount))
}
