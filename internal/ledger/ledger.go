// Package ledger implements the balance primitives of the asset: mint, burn,
// delegate and transfer. Transfer always invokes the transfer hook registered
// for the mint's hook program before the debit and credit are written.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/store"
)

// ErrHookNotRegistered means the mint names a hook program this ledger has no
// implementation for. Such a mint cannot transfer at all.
var ErrHookNotRegistered = errors.New("transfer hook not registered")

// HookInput is what the transfer hook sees. Source has already had Amount
// deducted; Destination is not yet credited.
type HookInput struct {
	Mint          model.Address
	Source        *model.HolderAccount
	Destination   *model.HolderAccount
	DeclaredOwner model.Address
	Amount        uint64
}

// TransferHook is a read-only admission check. A non-nil error aborts the
// enclosing transfer.
type TransferHook interface {
	Execute(ctx context.Context, tx store.Tx, in HookInput) error
}

type Ledger struct {
	programs model.Programs
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	hooks map[model.Address]TransferHook
}

type Option func(*Ledger)

// WithClock overrides time.Now for account and mint timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(programs model.Programs, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		programs: programs,
		logger:   logger.With("component", "ledger"),
		now:      time.Now,
		hooks:    make(map[model.Address]TransferHook),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterHook binds a hook implementation to a hook program id.
func (l *Ledger) RegisterHook(program model.Address, hook TransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks[program] = hook
	l.logger.Info("transfer hook registered", "program", program.String())
}

func (l *Ledger) hookFor(program model.Address) (TransferHook, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.hooks[program]
	return h, ok
}

// CreateMint provisions a new mint. It fails if the address is taken.
func (l *Ledger) CreateMint(ctx context.Context, tx store.Tx, m *model.Mint) error {
	if _, err := tx.GetMint(ctx, m.Address); err == nil {
		return fmt.Errorf("mint %s: %w", m.Address, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if m.FeeBasisPoints > model.MaxFeeBasisPoints {
		return fmt.Errorf("fee basis points %d: %w", m.FeeBasisPoints, domain.ErrInvalidAmount)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = l.now().UTC()
	}
	return tx.PutMint(ctx, m)
}

// OpenAccount returns the owner's balance cell, creating an empty one if
// none exists. The mint must exist.
func (l *Ledger) OpenAccount(ctx context.Context, tx store.Tx, mint, owner model.Address) (*model.HolderAccount, error) {
	if _, err := tx.GetMint(ctx, mint); err != nil {
		return nil, err
	}
	acct, err := tx.GetHolderAccount(ctx, mint, owner)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	acct = &model.HolderAccount{
		Address:   l.programs.HolderAccountAddress(owner, mint),
		Owner:     owner,
		Mint:      mint,
		CreatedAt: l.now().UTC(),
	}
	if err := tx.PutHolderAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// MintTo credits amount to owner. authority must be the mint's current mint
// authority. Returns the new supply.
func (l *Ledger) MintTo(ctx context.Context, tx store.Tx, mint, authority, owner model.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, domain.ErrInvalidAmount
	}
	m, err := tx.GetMint(ctx, mint)
	if err != nil {
		return 0, err
	}
	if authority != m.MintAuthority {
		return 0, fmt.Errorf("mint authority mismatch: %w", domain.ErrUnauthorized)
	}
	acct, err := l.OpenAccount(ctx, tx, mint, owner)
	if err != nil {
		return 0, err
	}

	supply, ok := model.CheckedAdd(m.Supply, amount)
	if !ok {
		return 0, fmt.Errorf("supply: %w", domain.ErrMathOverflow)
	}
	balance, ok := model.CheckedAdd(acct.Amount, amount)
	if !ok {
		return 0, fmt.Errorf("balance: %w", domain.ErrMathOverflow)
	}
	m.Supply = supply
	acct.Amount = balance

	if err := tx.PutMint(ctx, m); err != nil {
		return 0, err
	}
	if err := tx.PutHolderAccount(ctx, acct); err != nil {
		return 0, err
	}
	return supply, nil
}

// Burn destroys amount from owner's balance. authority may be the owner, a
// delegate with enough allowance, or the mint's permanent delegate. Burns are
// not transfers and do not invoke the hook.
func (l *Ledger) Burn(ctx context.Context, tx store.Tx, mint, authority, owner model.Address, amount uint64) error {
	if amount == 0 {
		return domain.ErrInvalidAmount
	}
	m, err := tx.GetMint(ctx, mint)
	if err != nil {
		return err
	}
	acct, err := tx.GetHolderAccount(ctx, mint, owner)
	if err != nil {
		return err
	}
	if err := spend(m, acct, authority, amount); err != nil {
		return err
	}

	supply, ok := model.CheckedSub(m.Supply, amount)
	if !ok {
		return fmt.Errorf("supply: %w", domain.ErrMathOverflow)
	}
	m.Supply = supply

	if err := tx.PutMint(ctx, m); err != nil {
		return err
	}
	return tx.PutHolderAccount(ctx, acct)
}

// Approve sets the allowance of delegate on owner's balance. Allowances of
// different delegates are independent.
func (l *Ledger) Approve(ctx context.Context, tx store.Tx, mint, owner, delegate model.Address, amount uint64) error {
	acct, err := tx.GetHolderAccount(ctx, mint, owner)
	if err != nil {
		return err
	}
	if acct.Delegations == nil {
		acct.Delegations = make(map[model.Address]uint64)
	}
	if amount == 0 {
		delete(acct.Delegations, delegate)
	} else {
		acct.Delegations[delegate] = amount
	}
	return tx.PutHolderAccount(ctx, acct)
}

// Revoke clears delegate's allowance and returns what was left of it.
func (l *Ledger) Revoke(ctx context.Context, tx store.Tx, mint, owner, delegate model.Address) (uint64, error) {
	acct, err := tx.GetHolderAccount(ctx, mint, owner)
	if err != nil {
		return 0, err
	}
	remaining := acct.Delegations[delegate]
	delete(acct.Delegations, delegate)
	return remaining, tx.PutHolderAccount(ctx, acct)
}

// Transfer moves amount from fromOwner to toOwner. authority is the declared
// signer and must be the source owner or a delegate with allowance. The
// destination is credited amount minus the transfer fee, which is withheld on
// the destination. Returns the fee.
func (l *Ledger) Transfer(ctx context.Context, tx store.Tx, mint, authority, fromOwner, toOwner model.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, domain.ErrInvalidAmount
	}
	m, err := tx.GetMint(ctx, mint)
	if err != nil {
		return 0, err
	}
	hook, ok := l.hookFor(m.HookProgram)
	if !ok {
		return 0, fmt.Errorf("mint %s hook %s: %w", mint, m.HookProgram, ErrHookNotRegistered)
	}

	src, err := tx.GetHolderAccount(ctx, mint, fromOwner)
	if err != nil {
		return 0, fmt.Errorf("source: %w", err)
	}
	if err := spend(nil, src, authority, amount); err != nil {
		return 0, err
	}

	dst := src
	if toOwner != fromOwner {
		if dst, err = l.OpenAccount(ctx, tx, mint, toOwner); err != nil {
			return 0, fmt.Errorf("destination: %w", err)
		}
	}

	if err := hook.Execute(ctx, tx, HookInput{
		Mint:          mint,
		Source:        src,
		Destination:   dst,
		DeclaredOwner: authority,
		Amount:        amount,
	}); err != nil {
		return 0, err
	}

	fee := m.TransferFee(amount)
	credited, ok := model.CheckedAdd(dst.Amount, amount-fee)
	if !ok {
		return 0, fmt.Errorf("destination balance: %w", domain.ErrMathOverflow)
	}
	withheld, ok := model.CheckedAdd(dst.WithheldFees, fee)
	if !ok {
		return 0, fmt.Errorf("withheld fees: %w", domain.ErrMathOverflow)
	}
	dst.Amount = credited
	dst.WithheldFees = withheld

	if err := tx.PutHolderAccount(ctx, src); err != nil {
		return 0, err
	}
	if dst != src {
		if err := tx.PutHolderAccount(ctx, dst); err != nil {
			return 0, err
		}
	}
	return fee, nil
}

// SetMintAuthority hands minting to next. current must be the present authority.
func (l *Ledger) SetMintAuthority(ctx context.Context, tx store.Tx, mint, current, next model.Address) error {
	m, err := tx.GetMint(ctx, mint)
	if err != nil {
		return err
	}
	if current != m.MintAuthority {
		return fmt.Errorf("mint authority mismatch: %w", domain.ErrUnauthorized)
	}
	m.MintAuthority = next
	return tx.PutMint(ctx, m)
}

func (l *Ledger) SetTransferFee(ctx context.Context, tx store.Tx, mint model.Address, basisPoints uint16, maximumFee uint64) error {
	if basisPoints > model.MaxFeeBasisPoints {
		return fmt.Errorf("fee basis points %d: %w", basisPoints, domain.ErrInvalidAmount)
	}
	m, err := tx.GetMint(ctx, mint)
	if err != nil {
		return err
	}
	m.FeeBasisPoints = basisPoints
	m.MaximumFee = maximumFee
	return tx.PutMint(ctx, m)
}

// spend debits acct on behalf of authority. A nil mint disables the
// permanent delegate path.
func spend(m *model.Mint, acct *model.HolderAccount, authority model.Address, amount uint64) error {
	balance, ok := model.CheckedSub(acct.Amount, amount)
	if !ok {
		return fmt.Errorf("balance %d < %d: %w", acct.Amount, amount, domain.ErrInsufficientBalance)
	}

	switch {
	case authority == acct.Owner:
	case m != nil && !m.PermanentDelegate.IsZero() && authority == m.PermanentDelegate:
	default:
		allowance, ok := acct.Delegations[authority]
		if !ok {
			return fmt.Errorf("not owner or delegate: %w", domain.ErrUnauthorized)
		}
		if allowance < amount {
			return fmt.Errorf("delegated allowance %d < %d: %w", allowance, amount, domain.ErrInsufficientBalance)
		}
		if allowance == amount {
			delete(acct.Delegations, authority)
		} else {
			acct.Delegations[authority] = allowance - amount
		}
	}

	acct.Amount = balance
	return nil
}
