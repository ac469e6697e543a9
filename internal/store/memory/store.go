// Package memory is an in-process store. Every Execute runs under one write
// lock against a staging overlay that is applied only when the unit of work
// returns nil.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/event"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/store"
)

var ErrClosed = errors.New("memory store closed")

type accountKey struct{ mint, owner model.Address }

type grantKey struct {
	asset, subject model.Address
	role           model.Role
}

type blacklistKey struct{ asset, address model.Address }

type requestKey struct {
	asset model.Address
	id    uint64
}

type Store struct {
	mu     sync.RWMutex
	closed bool

	configs   *table[model.Address, model.CustodyConfig]
	gates     *table[model.Address, model.GatekeeperConfig]
	mints     *table[model.Address, model.Mint]
	accounts  *table[accountKey, model.HolderAccount]
	grants    *table[grantKey, model.RoleGrant]
	blacklist *table[blacklistKey, model.BlacklistEntry]
	requests  *table[requestKey, model.RedemptionRequest]

	events  []event.Envelope
	lastSeq int64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		configs:   newTable[model.Address, model.CustodyConfig](),
		gates:     newTable[model.Address, model.GatekeeperConfig](),
		mints:     newTable[model.Address, model.Mint](),
		accounts:  newTable[accountKey, model.HolderAccount](),
		grants:    newTable[grantKey, model.RoleGrant](),
		blacklist: newTable[blacklistKey, model.BlacklistEntry](),
		requests:  newTable[requestKey, model.RedemptionRequest](),
	}
}

func (s *Store) Execute(ctx context.Context, _ model.Address, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := s.begin(false)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) View(ctx context.Context, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(ctx, s.begin(true))
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) begin(readOnly bool) *tx {
	return &tx{
		s:         s,
		readOnly:  readOnly,
		configs:   newOverlay(s.configs, identity[model.CustodyConfig]),
		gates:     newOverlay(s.gates, identity[model.GatekeeperConfig]),
		mints:     newOverlay(s.mints, identity[model.Mint]),
		accounts:  newOverlay(s.accounts, cloneAccount),
		grants:    newOverlay(s.grants, identity[model.RoleGrant]),
		blacklist: newOverlay(s.blacklist, identity[model.BlacklistEntry]),
		requests:  newOverlay(s.requests, cloneRequest),
	}
}

func (s *Store) commit(t *tx) {
	t.configs.commit()
	t.gates.commit()
	t.mints.commit()
	t.accounts.commit()
	t.grants.commit()
	t.blacklist.commit()
	t.requests.commit()
	for _, env := range t.pending {
		s.lastSeq++
		env.Sequence = s.lastSeq
		s.events = append(s.events, *env)
	}
}

func cloneAccount(a model.HolderAccount) model.HolderAccount { return *a.Clone() }

func cloneRequest(r model.RedemptionRequest) model.RedemptionRequest {
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		r.CompletedAt = &at
	}
	return r
}

type tx struct {
	s        *Store
	readOnly bool

	configs   *overlay[model.Address, model.CustodyConfig]
	gates     *overlay[model.Address, model.GatekeeperConfig]
	mints     *overlay[model.Address, model.Mint]
	accounts  *overlay[accountKey, model.HolderAccount]
	grants    *overlay[grantKey, model.RoleGrant]
	blacklist *overlay[blacklistKey, model.BlacklistEntry]
	requests  *overlay[requestKey, model.RedemptionRequest]

	pending []*event.Envelope
}

func (t *tx) writable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func notFound(what string, key any) error {
	return fmt.Errorf("%s %v: %w", what, key, domain.ErrNotFound)
}

func (t *tx) GetCustodyConfig(_ context.Context, asset model.Address) (*model.CustodyConfig, error) {
	c, ok := t.configs.get(asset)
	if !ok {
		return nil, notFound("custody config", asset)
	}
	return &c, nil
}

func (t *tx) PutCustodyConfig(_ context.Context, c *model.CustodyConfig) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.configs.put(c.Asset, *c)
	return nil
}

func (t *tx) ListAssets(_ context.Context) ([]model.Address, error) {
	out := make([]model.Address, 0)
	t.configs.each(func(k model.Address, _ model.CustodyConfig) {
		out = append(out, k)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (t *tx) GetGatekeeperConfig(_ context.Context, asset model.Address) (*model.GatekeeperConfig, error) {
	c, ok := t.gates.get(asset)
	if !ok {
		return nil, notFound("gatekeeper config", asset)
	}
	return &c, nil
}

func (t *tx) PutGatekeeperConfig(_ context.Context, c *model.GatekeeperConfig) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.gates.put(c.Asset, *c)
	return nil
}

func (t *tx) GetMint(_ context.Context, mint model.Address) (*model.Mint, error) {
	m, ok := t.mints.get(mint)
	if !ok {
		return nil, notFound("mint", mint)
	}
	return &m, nil
}

func (t *tx) PutMint(_ context.Context, m *model.Mint) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.mints.put(m.Address, *m)
	return nil
}

func (t *tx) GetHolderAccount(_ context.Context, mint, owner model.Address) (*model.HolderAccount, error) {
	a, ok := t.accounts.get(accountKey{mint, owner})
	if !ok {
		return nil, notFound("holder account", owner)
	}
	return &a, nil
}

func (t *tx) PutHolderAccount(_ context.Context, a *model.HolderAccount) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.accounts.put(accountKey{a.Mint, a.Owner}, *a)
	return nil
}

func (t *tx) ListHolderAccounts(_ context.Context, mint model.Address) ([]model.HolderAccount, error) {
	out := make([]model.HolderAccount, 0)
	t.accounts.each(func(k accountKey, a model.HolderAccount) {
		if k.mint == mint {
			out = append(out, a)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Owner.String() < out[j].Owner.String() })
	return out, nil
}

func (t *tx) GetRoleGrant(_ context.Context, asset, subject model.Address, role model.Role) (*model.RoleGrant, error) {
	g, ok := t.grants.get(grantKey{asset, subject, role})
	if !ok {
		return nil, notFound("role grant", fmt.Sprintf("%s/%s", subject, role))
	}
	return &g, nil
}

func (t *tx) PutRoleGrant(_ context.Context, g *model.RoleGrant) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.grants.put(grantKey{g.Asset, g.Subject, g.Role}, *g)
	return nil
}

func (t *tx) DeleteRoleGrant(_ context.Context, asset, subject model.Address, role model.Role) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.grants.del(grantKey{asset, subject, role})
	return nil
}

func (t *tx) ListRoleGrants(_ context.Context, asset model.Address) ([]model.RoleGrant, error) {
	out := make([]model.RoleGrant, 0)
	t.grants.each(func(k grantKey, g model.RoleGrant) {
		if k.asset == asset {
			out = append(out, g)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Subject.String(), out[j].Subject.String()
		if si != sj {
			return si < sj
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func (t *tx) GetBlacklistEntry(_ context.Context, asset, address model.Address) (*model.BlacklistEntry, error) {
	e, ok := t.blacklist.get(blacklistKey{asset, address})
	if !ok {
		return nil, notFound("blacklist entry", address)
	}
	return &e, nil
}

func (t *tx) PutBlacklistEntry(_ context.Context, e *model.BlacklistEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.blacklist.put(blacklistKey{e.Asset, e.Address}, *e)
	return nil
}

func (t *tx) DeleteBlacklistEntry(_ context.Context, asset, address model.Address) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.blacklist.del(blacklistKey{asset, address})
	return nil
}

func (t *tx) ListBlacklist(_ context.Context, asset model.Address) ([]model.BlacklistEntry, error) {
	out := make([]model.BlacklistEntry, 0)
	t.blacklist.each(func(k blacklistKey, e model.BlacklistEntry) {
		if k.asset == asset {
			out = append(out, e)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out, nil
}

func (t *tx) GetRedemptionRequest(_ context.Context, asset model.Address, id uint64) (*model.RedemptionRequest, error) {
	r, ok := t.requests.get(requestKey{asset, id})
	if !ok {
		return nil, notFound("redemption request", id)
	}
	return &r, nil
}

func (t *tx) PutRedemptionRequest(_ context.Context, r *model.RedemptionRequest) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.requests.put(requestKey{r.Asset, r.ID}, *r)
	return nil
}

func (t *tx) ListRedemptionRequests(_ context.Context, asset model.Address, filter model.RedemptionFilter) ([]model.RedemptionRequest, error) {
	out := make([]model.RedemptionRequest, 0)
	t.requests.each(func(k requestKey, r model.RedemptionRequest) {
		if k.asset == asset && filter.Matches(&r) {
			out = append(out, r)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *tx) AppendEvent(_ context.Context, env *event.Envelope) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.pending = append(t.pending, env)
	return nil
}

func (t *tx) ListEvents(_ context.Context, asset model.Address, afterSequence int64, limit int) ([]event.Envelope, error) {
	out := make([]event.Envelope, 0)
	for _, env := range t.s.events {
		if env.Sequence <= afterSequence || env.Asset != asset {
			continue
		}
		out = append(out, env)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
