package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/emperorhan/rwa-custody/internal/domain/event"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/store"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tx struct {
	q        queryer
	readOnly bool
}

var _ store.Tx = (*tx)(nil)

func (t *tx) writable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func (t *tx) exec(ctx context.Context, what, query string, args ...any) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// ---------- custody configs ----------

func (t *tx) GetCustodyConfig(ctx context.Context, asset model.Address) (*model.CustodyConfig, error) {
	var c model.CustodyConfig
	var counter numeric
	err := t.q.QueryRowContext(ctx, `
		SELECT address, asset, admin, mint_authority, gate_program, paused, redemption_counter, created_at, updated_at
		FROM custody_configs WHERE asset = $1`, asset.String(),
	).Scan(addr(&c.Address), addr(&c.Asset), addr(&c.Admin), addr(&c.MintAuthority), addr(&c.GateProgram),
		&c.Paused, &counter, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound("custody config", asset, err)
	}
	c.RedemptionCounter = uint64(counter)
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return &c, nil
}

func (t *tx) ListAssets(ctx context.Context) ([]model.Address, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT asset FROM custody_configs ORDER BY asset COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	out := make([]model.Address, 0)
	for rows.Next() {
		var a model.Address
		if err := rows.Scan(addr(&a)); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) PutCustodyConfig(ctx context.Context, c *model.CustodyConfig) error {
	return t.exec(ctx, "put custody config", `
		INSERT INTO custody_configs (asset, address, admin, mint_authority, gate_program, paused, redemption_counter, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (asset) DO UPDATE SET
			address = EXCLUDED.address,
			admin = EXCLUDED.admin,
			mint_authority = EXCLUDED.mint_authority,
			gate_program = EXCLUDED.gate_program,
			paused = EXCLUDED.paused,
			redemption_counter = EXCLUDED.redemption_counter,
			updated_at = EXCLUDED.updated_at`,
		c.Asset.String(), c.Address.String(), c.Admin.String(), c.MintAuthority.String(), c.GateProgram.String(),
		c.Paused, numeric(c.RedemptionCounter), c.CreatedAt, c.UpdatedAt)
}

// ---------- gatekeeper configs ----------

func (t *tx) GetGatekeeperConfig(ctx context.Context, asset model.Address) (*model.GatekeeperConfig, error) {
	var c model.GatekeeperConfig
	err := t.q.QueryRowContext(ctx,
		`SELECT address, asset, admin, created_at FROM gatekeeper_configs WHERE asset = $1`, asset.String(),
	).Scan(addr(&c.Address), addr(&c.Asset), addr(&c.Admin), &c.CreatedAt)
	if err != nil {
		return nil, notFound("gatekeeper config", asset, err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (t *tx) PutGatekeeperConfig(ctx context.Context, c *model.GatekeeperConfig) error {
	return t.exec(ctx, "put gatekeeper config", `
		INSERT INTO gatekeeper_configs (asset, address, admin, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset) DO UPDATE SET address = EXCLUDED.address, admin = EXCLUDED.admin`,
		c.Asset.String(), c.Address.String(), c.Admin.String(), c.CreatedAt)
}

// ---------- ledger ----------

func (t *tx) GetMint(ctx context.Context, mint model.Address) (*model.Mint, error) {
	var m model.Mint
	var decimals, bps int
	var supply, maxFee numeric
	err := t.q.QueryRowContext(ctx, `
		SELECT address, decimals, supply, mint_authority, permanent_delegate, hook_program, fee_basis_points, maximum_fee, created_at
		FROM mints WHERE address = $1`, mint.String(),
	).Scan(addr(&m.Address), &decimals, &supply, addr(&m.MintAuthority), addr(&m.PermanentDelegate), addr(&m.HookProgram),
		&bps, &maxFee, &m.CreatedAt)
	if err != nil {
		return nil, notFound("mint", mint, err)
	}
	m.Decimals = uint8(decimals)
	m.Supply = uint64(supply)
	m.FeeBasisPoints = uint16(bps)
	m.MaximumFee = uint64(maxFee)
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func (t *tx) PutMint(ctx context.Context, m *model.Mint) error {
	return t.exec(ctx, "put mint", `
		INSERT INTO mints (address, decimals, supply, mint_authority, permanent_delegate, hook_program, fee_basis_points, maximum_fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO UPDATE SET
			supply = EXCLUDED.supply,
			mint_authority = EXCLUDED.mint_authority,
			permanent_delegate = EXCLUDED.permanent_delegate,
			hook_program = EXCLUDED.hook_program,
			fee_basis_points = EXCLUDED.fee_basis_points,
			maximum_fee = EXCLUDED.maximum_fee`,
		m.Address.String(), int(m.Decimals), numeric(m.Supply), m.MintAuthority.String(), m.PermanentDelegate.String(),
		m.HookProgram.String(), int(m.FeeBasisPoints), numeric(m.MaximumFee), m.CreatedAt)
}

func (t *tx) GetHolderAccount(ctx context.Context, mint, owner model.Address) (*model.HolderAccount, error) {
	var a model.HolderAccount
	var amount, escrowed, withheld numeric
	err := t.q.QueryRowContext(ctx, `
		SELECT address, owner, mint, amount, escrowed, withheld_fees, created_at
		FROM holder_accounts WHERE mint = $1 AND owner = $2`, mint.String(), owner.String(),
	).Scan(addr(&a.Address), addr(&a.Owner), addr(&a.Mint), &amount, &escrowed, &withheld, &a.CreatedAt)
	if err != nil {
		return nil, notFound("holder account", owner, err)
	}
	a.Amount, a.Escrowed, a.WithheldFees = uint64(amount), uint64(escrowed), uint64(withheld)
	a.CreatedAt = a.CreatedAt.UTC()

	if a.Delegations, err = t.delegations(ctx, mint, owner); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *tx) delegations(ctx context.Context, mint, owner model.Address) (map[model.Address]uint64, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT delegate, amount FROM holder_delegations WHERE mint = $1 AND owner = $2`, mint.String(), owner.String())
	if err != nil {
		return nil, fmt.Errorf("list delegations: %w", err)
	}
	defer rows.Close()

	var out map[model.Address]uint64
	for rows.Next() {
		var delegate model.Address
		var allowance numeric
		if err := rows.Scan(addr(&delegate), &allowance); err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		if out == nil {
			out = make(map[model.Address]uint64)
		}
		out[delegate] = uint64(allowance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list delegations: %w", err)
	}
	return out, nil
}

// ListHolderAccounts loads every account of mint ordered by owner. Delegations
// are fetched after the account rows are drained so only one result set is
// open on the connection at a time.
func (t *tx) ListHolderAccounts(ctx context.Context, mint model.Address) ([]model.HolderAccount, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT address, owner, mint, amount, escrowed, withheld_fees, created_at
		FROM holder_accounts WHERE mint = $1 ORDER BY owner COLLATE "C"`, mint.String())
	if err != nil {
		return nil, fmt.Errorf("list holder accounts: %w", err)
	}
	out := make([]model.HolderAccount, 0)
	for rows.Next() {
		var a model.HolderAccount
		var amount, escrowed, withheld numeric
		if err := rows.Scan(addr(&a.Address), addr(&a.Owner), addr(&a.Mint), &amount, &escrowed, &withheld, &a.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan holder account: %w", err)
		}
		a.Amount, a.Escrowed, a.WithheldFees = uint64(amount), uint64(escrowed), uint64(withheld)
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list holder accounts: %w", err)
	}
	rows.Close()

	for i := range out {
		if out[i].Delegations, err = t.delegations(ctx, mint, out[i].Owner); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PutHolderAccount upserts the account row and makes its delegation rows
// match a.Delegations.
func (t *tx) PutHolderAccount(ctx context.Context, a *model.HolderAccount) error {
	if err := t.exec(ctx, "put holder account", `
		INSERT INTO holder_accounts (mint, owner, address, amount, escrowed, withheld_fees, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (mint, owner) DO UPDATE SET
			amount = EXCLUDED.amount,
			escrowed = EXCLUDED.escrowed,
			withheld_fees = EXCLUDED.withheld_fees`,
		a.Mint.String(), a.Owner.String(), a.Address.String(), numeric(a.Amount), numeric(a.Escrowed),
		numeric(a.WithheldFees), a.CreatedAt); err != nil {
		return err
	}
	delegates := make([]string, 0, len(a.Delegations))
	for delegate := range a.Delegations {
		delegates = append(delegates, delegate.String())
	}
	if err := t.exec(ctx, "prune delegations", `
		DELETE FROM holder_delegations WHERE mint = $1 AND owner = $2 AND NOT (delegate = ANY($3))`,
		a.Mint.String(), a.Owner.String(), pq.Array(delegates)); err != nil {
		return err
	}
	for delegate, allowance := range a.Delegations {
		if err := t.exec(ctx, "put delegation", `
			INSERT INTO holder_delegations (mint, owner, delegate, amount) VALUES ($1, $2, $3, $4)
			ON CONFLICT (mint, owner, delegate) DO UPDATE SET amount = EXCLUDED.amount`,
			a.Mint.String(), a.Owner.String(), delegate.String(), numeric(allowance)); err != nil {
			return err
		}
	}
	return nil
}

// ---------- role grants ----------

const roleGrantColumns = `address, asset, subject, role, granted_by, granted_at`

func scanRoleGrant(sc interface{ Scan(...any) error }) (model.RoleGrant, error) {
	var g model.RoleGrant
	var role int
	err := sc.Scan(addr(&g.Address), addr(&g.Asset), addr(&g.Subject), &role, addr(&g.GrantedBy), &g.GrantedAt)
	g.Role = model.Role(role)
	g.GrantedAt = g.GrantedAt.UTC()
	return g, err
}

func (t *tx) GetRoleGrant(ctx context.Context, asset, subject model.Address, role model.Role) (*model.RoleGrant, error) {
	g, err := scanRoleGrant(t.q.QueryRowContext(ctx,
		`SELECT `+roleGrantColumns+` FROM role_grants WHERE asset = $1 AND subject = $2 AND role = $3`,
		asset.String(), subject.String(), int(role)))
	if err != nil {
		return nil, notFound("role grant", subject.String()+"/"+role.String(), err)
	}
	return &g, nil
}

func (t *tx) PutRoleGrant(ctx context.Context, g *model.RoleGrant) error {
	return t.exec(ctx, "put role grant", `
		INSERT INTO role_grants (asset, subject, role, address, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset, subject, role) DO UPDATE SET
			address = EXCLUDED.address,
			granted_by = EXCLUDED.granted_by,
			granted_at = EXCLUDED.granted_at`,
		g.Asset.String(), g.Subject.String(), int(g.Role), g.Address.String(), g.GrantedBy.String(), g.GrantedAt)
}

func (t *tx) DeleteRoleGrant(ctx context.Context, asset, subject model.Address, role model.Role) error {
	return t.exec(ctx, "delete role grant",
		`DELETE FROM role_grants WHERE asset = $1 AND subject = $2 AND role = $3`,
		asset.String(), subject.String(), int(role))
}

func (t *tx) ListRoleGrants(ctx context.Context, asset model.Address) ([]model.RoleGrant, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+roleGrantColumns+` FROM role_grants WHERE asset = $1 ORDER BY subject, role`, asset.String())
	if err != nil {
		return nil, fmt.Errorf("list role grants: %w", err)
	}
	defer rows.Close()

	out := make([]model.RoleGrant, 0)
	for rows.Next() {
		g, err := scanRoleGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ---------- blacklist ----------

func scanBlacklistEntry(sc interface{ Scan(...any) error }) (model.BlacklistEntry, error) {
	var e model.BlacklistEntry
	err := sc.Scan(addr(&e.Asset), addr(&e.Address), addr(&e.AddedBy), &e.AddedAt)
	e.AddedAt = e.AddedAt.UTC()
	return e, err
}

func (t *tx) GetBlacklistEntry(ctx context.Context, asset, address model.Address) (*model.BlacklistEntry, error) {
	e, err := scanBlacklistEntry(t.q.QueryRowContext(ctx,
		`SELECT asset, address, added_by, added_at FROM blacklist_entries WHERE asset = $1 AND address = $2`,
		asset.String(), address.String()))
	if err != nil {
		return nil, notFound("blacklist entry", address, err)
	}
	return &e, nil
}

func (t *tx) PutBlacklistEntry(ctx context.Context, e *model.BlacklistEntry) error {
	return t.exec(ctx, "put blacklist entry", `
		INSERT INTO blacklist_entries (asset, address, added_by, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset, address) DO UPDATE SET added_by = EXCLUDED.added_by, added_at = EXCLUDED.added_at`,
		e.Asset.String(), e.Address.String(), e.AddedBy.String(), e.AddedAt)
}

func (t *tx) DeleteBlacklistEntry(ctx context.Context, asset, address model.Address) error {
	return t.exec(ctx, "delete blacklist entry",
		`DELETE FROM blacklist_entries WHERE asset = $1 AND address = $2`, asset.String(), address.String())
}

func (t *tx) ListBlacklist(ctx context.Context, asset model.Address) ([]model.BlacklistEntry, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT asset, address, added_by, added_at FROM blacklist_entries WHERE asset = $1 ORDER BY address`, asset.String())
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	out := make([]model.BlacklistEntry, 0)
	for rows.Next() {
		e, err := scanBlacklistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan blacklist entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---------- redemptions ----------

const redemptionColumns = `address, asset, id, requester, amount, status, escrow_authority, method, notes, requested_at, completed_at`

func scanRedemption(sc interface{ Scan(...any) error }) (model.RedemptionRequest, error) {
	var r model.RedemptionRequest
	var id, amount numeric
	var status int
	var method string
	var completed sql.NullTime
	err := sc.Scan(addr(&r.Address), addr(&r.Asset), &id, addr(&r.Requester), &amount, &status,
		addr(&r.EscrowAuthority), &method, &r.Notes, &r.RequestedAt, &completed)
	if err != nil {
		return r, err
	}
	r.ID, r.Amount = uint64(id), uint64(amount)
	r.Status = model.RedemptionStatus(status)
	r.Method = model.RedemptionMethod(method)
	r.RequestedAt = r.RequestedAt.UTC()
	if completed.Valid {
		at := completed.Time.UTC()
		r.CompletedAt = &at
	}
	return r, nil
}

func (t *tx) GetRedemptionRequest(ctx context.Context, asset model.Address, id uint64) (*model.RedemptionRequest, error) {
	r, err := scanRedemption(t.q.QueryRowContext(ctx,
		`SELECT `+redemptionColumns+` FROM redemption_requests WHERE asset = $1 AND id = $2`,
		asset.String(), numeric(id)))
	if err != nil {
		return nil, notFound("redemption request", id, err)
	}
	return &r, nil
}

func (t *tx) PutRedemptionRequest(ctx context.Context, r *model.RedemptionRequest) error {
	var completed *time.Time
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		completed = &at
	}
	return t.exec(ctx, "put redemption request", `
		INSERT INTO redemption_requests (asset, id, address, requester, amount, status, escrow_authority, method, notes, requested_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (asset, id) DO UPDATE SET
			address = EXCLUDED.address,
			requester = EXCLUDED.requester,
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			escrow_authority = EXCLUDED.escrow_authority,
			method = EXCLUDED.method,
			notes = EXCLUDED.notes,
			requested_at = EXCLUDED.requested_at,
			completed_at = EXCLUDED.completed_at`,
		r.Asset.String(), numeric(r.ID), r.Address.String(), r.Requester.String(), numeric(r.Amount), int(r.Status),
		r.EscrowAuthority.String(), string(r.Method), r.Notes, r.RequestedAt, completed)
}

// redemptionQuery builds the filtered list statement and its arguments.
func redemptionQuery(asset model.Address, filter model.RedemptionFilter) (string, []any) {
	var b strings.Builder
	args := []any{asset.String()}
	b.WriteString(`SELECT ` + redemptionColumns + ` FROM redemption_requests WHERE asset = $1`)
	if filter.Requester != nil {
		args = append(args, filter.Requester.String())
		b.WriteString(` AND requester = $` + strconv.Itoa(len(args)))
	}
	if filter.Status != nil {
		args = append(args, int(*filter.Status))
		b.WriteString(` AND status = $` + strconv.Itoa(len(args)))
	}
	b.WriteString(` ORDER BY id`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		b.WriteString(` LIMIT $` + strconv.Itoa(len(args)))
	}
	return b.String(), args
}

func (t *tx) ListRedemptionRequests(ctx context.Context, asset model.Address, filter model.RedemptionFilter) ([]model.RedemptionRequest, error) {
	query, args := redemptionQuery(asset, filter)
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list redemption requests: %w", err)
	}
	defer rows.Close()

	out := make([]model.RedemptionRequest, 0)
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------- events ----------

// AppendEvent inserts env and stores the assigned sequence back on it.
func (t *tx) AppendEvent(ctx context.Context, env *event.Envelope) error {
	if err := t.writable(); err != nil {
		return err
	}
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO custody_events (id, asset, type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING sequence`,
		env.ID.String(), env.Asset.String(), env.Type, string(env.Payload), env.OccurredAt,
	).Scan(&env.Sequence)
	if err != nil {
		return fmt.Errorf("append event %s: %w", env.Type, err)
	}
	return nil
}

func (t *tx) ListEvents(ctx context.Context, asset model.Address, afterSequence int64, limit int) ([]event.Envelope, error) {
	query := `SELECT sequence, id, asset, type, payload, occurred_at FROM custody_events
		WHERE asset = $1 AND sequence > $2 ORDER BY sequence`
	args := []any{asset.String(), afterSequence}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]event.Envelope, 0)
	for rows.Next() {
		var env event.Envelope
		var payload []byte
		if err := rows.Scan(&env.Sequence, &env.ID, addr(&env.Asset), &env.Type, &payload, &env.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		env.Payload = payload
		env.OccurredAt = env.OccurredAt.UTC()
		out = append(out, env)
	}
	return out, rows.Err()
}
