package store

import (
	"context"
	"errors"

	"github.com/emperorhan/rwa-custody/internal/domain/event"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/emperorhan/rwa-custody/internal/store Store,EventPublisher

// ErrReadOnly is returned by mutating calls inside View.
var ErrReadOnly = errors.New("read-only transaction")

// TxFunc is one unit of work. Returning an error discards every write made
// through tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store runs units of work. Execute calls for the same asset never overlap
// and commit all-or-nothing.
type Store interface {
	Execute(ctx context.Context, asset model.Address, fn TxFunc) error
	View(ctx context.Context, fn TxFunc) error
	Close() error
}

// Getters return a copy of the record or an error wrapping domain.ErrNotFound.
type Tx interface {
	CustodyConfigs
	GatekeeperConfigs
	Ledger
	RoleGrants
	Blacklist
	Redemptions
	Events
}

type CustodyConfigs interface {
	GetCustodyConfig(ctx context.Context, asset model.Address) (*model.CustodyConfig, error)
	PutCustodyConfig(ctx context.Context, c *model.CustodyConfig) error
	// ListAssets returns every initialized asset in address order.
	ListAssets(ctx context.Context) ([]model.Address, error)
}

type GatekeeperConfigs interface {
	GetGatekeeperConfig(ctx context.Context, asset model.Address) (*model.GatekeeperConfig, error)
	PutGatekeeperConfig(ctx context.Context, c *model.GatekeeperConfig) error
}

type Ledger interface {
	GetMint(ctx context.Context, mint model.Address) (*model.Mint, error)
	PutMint(ctx context.Context, m *model.Mint) error
	GetHolderAccount(ctx context.Context, mint, owner model.Address) (*model.HolderAccount, error)
	PutHolderAccount(ctx context.Context, a *model.HolderAccount) error
	ListHolderAccounts(ctx context.Context, mint model.Address) ([]model.HolderAccount, error)
}

type RoleGrants interface {
	GetRoleGrant(ctx context.Context, asset, subject model.Address, role model.Role) (*model.RoleGrant, error)
	PutRoleGrant(ctx context.Context, g *model.RoleGrant) error
	DeleteRoleGrant(ctx context.Context, asset, subject model.Address, role model.Role) error
	ListRoleGrants(ctx context.Context, asset model.Address) ([]model.RoleGrant, error)
}

type Blacklist interface {
	GetBlacklistEntry(ctx context.Context, asset, address model.Address) (*model.BlacklistEntry, error)
	PutBlacklistEntry(ctx context.Context, e *model.BlacklistEntry) error
	DeleteBlacklistEntry(ctx context.Context, asset, address model.Address) error
	ListBlacklist(ctx context.Context, asset model.Address) ([]model.BlacklistEntry, error)
}

type Redemptions interface {
	GetRedemptionRequest(ctx context.Context, asset model.Address, id uint64) (*model.RedemptionRequest, error)
	PutRedemptionRequest(ctx context.Context, r *model.RedemptionRequest) error
	ListRedemptionRequests(ctx context.Context, asset model.Address, filter model.RedemptionFilter) ([]model.RedemptionRequest, error)
}

// Events is the append-only audit log. The Sequence that AppendEvent assigns
// is only meaningful after the enclosing unit of work commits.
type Events interface {
	AppendEvent(ctx context.Context, env *event.Envelope) error
	ListEvents(ctx context.Context, asset model.Address, afterSequence int64, limit int) ([]event.Envelope, error)
}

// EventPublisher forwards committed envelopes to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, env event.Envelope) error
}
