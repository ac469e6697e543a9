package custody

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/emperorhan/rwa-custody/internal/alert"
	alertmocks "github.com/emperorhan/rwa-custody/internal/alert/mocks"
	"github.com/emperorhan/rwa-custody/internal/circuitbreaker"
	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/event"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/store"
	"github.com/emperorhan/rwa-custody/internal/store/memory"
	storemocks "github.com/emperorhan/rwa-custody/internal/store/mocks"
)

var (
	programs = model.Programs{
		Custody: model.Address{0xc0},
		Gate:    model.Address{0x9a},
		Ledger:  model.Address{0x1e},
	}
	asset     = model.Address{0xaa}
	admin     = model.Address{0xad}
	supplier  = model.Address{0x5c}
	protector = model.Address{0xbe}
	feeAdmin  = model.Address{0xfe}
	alice     = model.Address{0xa1}
	bob       = model.Address{0xb0}
	carol     = model.Address{0xca}

	genesisTime = time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	svc   *Service
	store *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		svc:   New(programs, st, testLogger(), WithClock(func() time.Time { return genesisTime })),
		store: st,
	}
	_, err := f.svc.Initialize(f.ctx, InitializeParams{Asset: asset, Admin: admin, Decimals: 6})
	require.NoError(t, err)
	require.NoError(t, f.svc.GrantRole(f.ctx, asset, admin, supplier, model.RoleSupplyController))
	require.NoError(t, f.svc.GrantRole(f.ctx, asset, admin, protector, model.RoleAssetProtector))
	require.NoError(t, f.svc.GrantRole(f.ctx, asset, admin, feeAdmin, model.RoleFeeController))
	return f
}

func (f *fixture) mint(to model.Address, amount uint64) {
	f.t.Helper()
	_, err := f.svc.Mint(f.ctx, asset, supplier, to, amount)
	require.NoError(f.t, err)
}

func (f *fixture) balance(owner model.Address) Balance {
	f.t.Helper()
	b, err := f.svc.Balance(f.ctx, asset, owner)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) request(owner model.Address, amount uint64) *model.RedemptionRequest {
	f.t.Helper()
	req, err := f.svc.RequestRedemption(f.ctx, asset, owner, RedemptionParams{Amount: amount})
	require.NoError(f.t, err)
	return req
}

func (f *fixture) status(id uint64) model.RedemptionStatus {
	f.t.Helper()
	req, err := f.svc.Redemption(f.ctx, asset, id)
	require.NoError(f.t, err)
	return req.Status
}

func (f *fixture) eventTypes() []string {
	f.t.Helper()
	envs, err := f.svc.Events(f.ctx, asset, 0, 1000)
	require.NoError(f.t, err)
	types := make([]string, 0, len(envs))
	for _, env := range envs {
		types = append(types, env.Type)
	}
	return types
}

func TestScenario_MintRedeemFulfill(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.mint(alice, 1000)
	assert.Equal(t, uint64(1000), f.balance(alice).Amount)

	req := f.request(alice, 400)
	assert.Equal(t, uint64(1), req.ID)
	assert.Equal(t, model.RedemptionPending, req.Status)
	assert.Equal(t, programs.EscrowAuthority(alice, 1), req.EscrowAuthority)

	b := f.balance(alice)
	assert.Equal(t, uint64(400), b.Escrowed)
	assert.Equal(t, uint64(600), b.Available)

	_, err := f.svc.Transfer(f.ctx, asset, alice, TransferParams{To: bob, Amount: 700})
	require.ErrorIs(t, err, domain.ErrInsufficientAvailableTokens)
	assert.Equal(t, uint64(1000), f.balance(alice).Amount, "rejected transfer leaves no trace")

	require.NoError(t, f.svc.SetRedemptionProcessing(f.ctx, asset, supplier, req.ID))
	require.NoError(t, f.svc.FulfillRedemption(f.ctx, asset, supplier, req.ID))

	b = f.balance(alice)
	assert.Equal(t, uint64(600), b.Amount)
	assert.Equal(t, uint64(0), b.Escrowed)
	assert.Equal(t, uint64(600), b.Available)

	done, err := f.svc.Redemption(f.ctx, asset, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RedemptionFulfilled, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, genesisTime, *done.CompletedAt)

	m, err := f.svc.MintInfo(f.ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), m.Supply)
}

func TestScenario_PauseBlocksMintAndRequestButNotCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 1000)
	req := f.request(alice, 100)

	paused, err := f.svc.TogglePause(f.ctx, asset, admin)
	require.NoError(t, err)
	require.True(t, paused)

	_, err = f.svc.Mint(f.ctx, asset, supplier, alice, 1)
	require.ErrorIs(t, err, domain.ErrContractPaused)
	_, err = f.svc.RequestRedemption(f.ctx, asset, alice, RedemptionParams{Amount: 1})
	require.ErrorIs(t, err, domain.ErrContractPaused)
	require.ErrorIs(t, f.svc.SetRedemptionProcessing(f.ctx, asset, supplier, req.ID), domain.ErrContractPaused)

	require.NoError(t, f.svc.CancelRedemption(f.ctx, asset, alice, req.ID))
	assert.Equal(t, model.RedemptionCancelled, f.status(req.ID))

	paused, err = f.svc.TogglePause(f.ctx, asset, admin)
	require.NoError(t, err)
	assert.False(t, paused)
	f.mint(alice, 1)
}

func TestFulfill_WhilePausedChecksStatusFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 100)
	pending := f.request(alice, 10)
	processing := f.request(alice, 20)
	require.NoError(t, f.svc.SetRedemptionProcessing(f.ctx, asset, supplier, processing.ID))

	_, err := f.svc.TogglePause(f.ctx, asset, admin)
	require.NoError(t, err)

	err = f.svc.FulfillRedemption(f.ctx, asset, supplier, pending.ID)
	require.ErrorIs(t, err, domain.ErrInvalidRequestStatus)
	assert.NotErrorIs(t, err, domain.ErrContractPaused)

	require.ErrorIs(t, f.svc.FulfillRedemption(f.ctx, asset, supplier, processing.ID), domain.ErrContractPaused)
	assert.Equal(t, model.RedemptionProcessing, f.status(processing.ID))
	assert.Equal(t, uint64(100), f.balance(alice).Amount)
}

func TestScenario_WipeMoreThanBalance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(bob, 100)
	require.NoError(t, f.svc.AddToBlacklist(f.ctx, asset, protector, bob))

	err := f.svc.Wipe(f.ctx, asset, protector, bob, 150)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, uint64(100), f.balance(bob).Amount)

	require.NoError(t, f.svc.Wipe(f.ctx, asset, protector, bob, 100))
	assert.Equal(t, uint64(0), f.balance(bob).Amount)
	m, err := f.svc.MintInfo(f.ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), m.Supply)
}

func TestWipe_Preconditions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(bob, 100)

	require.ErrorIs(t, f.svc.Wipe(f.ctx, asset, protector, bob, 10), domain.ErrAddressNotBlacklisted)
	require.NoError(t, f.svc.AddToBlacklist(f.ctx, asset, protector, bob))
	require.ErrorIs(t, f.svc.Wipe(f.ctx, asset, alice, bob, 10), domain.ErrUnauthorized)
	require.ErrorIs(t, f.svc.Wipe(f.ctx, asset, protector, bob, 0), domain.ErrInvalidAmount)
	require.ErrorIs(t, f.svc.Wipe(f.ctx, asset, protector, carol, 1), domain.ErrAddressNotBlacklisted)

	require.NoError(t, f.svc.AddToBlacklist(f.ctx, asset, protector, carol))
	require.ErrorIs(t, f.svc.Wipe(f.ctx, asset, protector, carol, 1), domain.ErrInsufficientBalance, "no account reads as zero balance")
}

func TestRedemption_StatusMachine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(f *fixture, id uint64)
		act   func(f *fixture, id uint64) error
		want  model.RedemptionStatus
	}{
		{
			name: "fulfill pending",
			act:  func(f *fixture, id uint64) error { return f.svc.FulfillRedemption(f.ctx, asset, supplier, id) },
			want: model.RedemptionPending,
		},
		{
			name:  "cancel processing",
			setup: func(f *fixture, id uint64) { require.NoError(f.t, f.svc.SetRedemptionProcessing(f.ctx, asset, supplier, id)) },
			act:   func(f *fixture, id uint64) error { return f.svc.CancelRedemption(f.ctx, asset, supplier, id) },
			want:  model.RedemptionProcessing,
		},
		{
			name:  "processing twice",
			setup: func(f *fixture, id uint64) { require.NoError(f.t, f.svc.SetRedemptionProcessing(f.ctx, asset, supplier, id)) },
			act:   func(f *fixture, id uint64) error { return f.svc.SetRedemptionProcessing(f.ctx, asset, supplier, id) },
			want:  model.RedemptionProcessing,
		},
		{
			name: "fulfill fulfilled",
			setup: func(f *fixture, id uint64) {
				require.NoError(f.t, f.svc.SetRedemptionProcessing(f.ctx, asset, supplier, id))
				require.NoError(f.t, f.svc.FulfillRedemption(f.ctx, asset, supplier, id))
			},
			act:  func(f *fixture, id uint64) error { return f.svc.FulfillRedemption(f.ctx, asset, supplier, id) },
			want: model.RedemptionFulfilled,
		},
		{
			name:  "fulfill cancelled",
			setup: func(f *fixture, id uint64) { require.NoError(f.t, f.svc.CancelRedemption(f.ctx, asset, alice, id)) },
			act:   func(f *fixture, id uint64) error { return f.svc.FulfillRedemption(f.ctx, asset, supplier, id) },
			want:  model.RedemptionCancelled,
		},
		{
			name:  "cancel cancelled",
			setup: func(f *fixture, id uint64) { require.NoError(f.t, f.svc.CancelRedemption(f.ctx, asset, alice, id)) },
			act:   func(f *fixture, id uint64) error { return f.svc.CancelRedemption(f.ctx, asset, alice, id) },
			want:  model.RedemptionCancelled,
		},
		{
			name:  "processing cancelled",
			setup: func(f *fixture, id uint64) { require.NoError(f.t, f.svc.CancelRedemption(f.ctx, asset, alice, id)) },
			act:   func(f *fixture, id uint64) error { return f.svc.SetRedemptionProcessing(f.ctx, asset, supplier, id) },
			want:  model.RedemptionCancelled,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.mint(alice, 1000)
			req := f.request(alice, 250)
			if tt.setup != nil {
				tt.setup(f, req.ID)
			}
			before := f.balance(alice)
			eventsBefore := len(f.eventTypes())

			require.ErrorIs(t, tt.act(f, req.ID), domain.ErrInvalidRequestStatus)

			assert.Equal(t, tt.want, f.status(req.ID))
			assert.Equal(t, before, f.balance(alice), "rejected transition changes no balance")
			assert.Len(t, f.eventTypes(), eventsBefore, "rejected transition emits nothing")
		})
	}
}

func TestRedemption_RequestThenCancelRestoresFreeBalance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 1000)
	before := f.balance(alice)

	req := f.request(alice, 650)
	require.NoError(t, f.svc.CancelRedemption(f.ctx, asset, alice, req.ID))

	assert.Equal(t, before, f.balance(alice))
	require.NoError(t, f.store.View(f.ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetHolderAccount(ctx, asset, alice)
		require.NoError(t, err)
		assert.NotContains(t, acct.Delegations, req.EscrowAuthority)
		return nil
	}))
}

func TestRedemption_ConcurrentRequestsStack(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 1000)

	first := f.request(alice, 300)
	second := f.request(alice, 300)
	assert.NotEqual(t, first.EscrowAuthority, second.EscrowAuthority)
	assert.Equal(t, uint64(600), f.balance(alice).Escrowed)

	_, err := f.svc.RequestRedemption(f.ctx, asset, alice, RedemptionParams{Amount: 500})
	require.ErrorIs(t, err, domain.ErrInsufficientAvailableTokens)
	_, err = f.svc.RequestRedemption(f.ctx, asset, alice, RedemptionParams{Amount: 1001})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	require.NoError(t, f.svc.SetRedemptionProcessing(f.ctx, asset, supplier, second.ID))
	require.NoError(t, f.svc.FulfillRedemption(f.ctx, asset, supplier, second.ID))
	b := f.balance(alice)
	assert.Equal(t, uint64(700), b.Amount)
	assert.Equal(t, uint64(300), b.Escrowed)

	require.NoError(t, f.svc.CancelRedemption(f.ctx, asset, supplier, first.ID))
	b = f.balance(alice)
	assert.Equal(t, uint64(700), b.Amount)
	assert.Equal(t, uint64(0), b.Escrowed)
	assert.Equal(t, uint64(700), b.Available)
}

func TestRedemption_IDsNeverReused(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 100)
	f.mint(bob, 100)

	r1 := f.request(alice, 10)
	require.NoError(t, f.svc.CancelRedemption(f.ctx, asset, alice, r1.ID))
	r2 := f.request(bob, 10)
	r3 := f.request(alice, 10)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{r1.ID, r2.ID, r3.ID})

	cfg, err := f.svc.Config(f.ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cfg.RedemptionCounter)

	pending := model.RedemptionPending
	list, err := f.svc.Redemptions(f.ctx, asset, model.RedemptionFilter{Requester: &alice, Status: &pending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r3.ID, list[0].ID)
}

func TestRedemption_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 100)

	_, err := f.svc.RequestRedemption(f.ctx, asset, alice, RedemptionParams{Amount: 0})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.svc.RequestRedemption(f.ctx, asset, alice, RedemptionParams{Amount: 1, Method: "teleport"})
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = f.svc.RequestRedemption(f.ctx, asset, carol, RedemptionParams{Amount: 1})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	req, err := f.svc.RequestRedemption(f.ctx, asset, alice, RedemptionParams{
		Amount: 5,
		Method: model.RedemptionMethodPhysicalDelivery,
		Notes:  "vault 3, bar 118",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RedemptionMethodPhysicalDelivery, req.Method)
	assert.Equal(t, "vault 3, bar 118", req.Notes)
}

func TestRedemption_CounterOverflow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 100)

	require.NoError(t, f.store.Execute(f.ctx, asset, func(ctx context.Context, tx store.Tx) error {
		cfg, err := tx.GetCustodyConfig(ctx, asset)
		if err != nil {
			return err
		}
		cfg.RedemptionCounter = ^uint64(0)
		return tx.PutCustodyConfig(ctx, cfg)
	}))

	_, err := f.svc.RequestRedemption(f.ctx, asset, alice, RedemptionParams{Amount: 1})
	require.ErrorIs(t, err, domain.ErrCounterOverflow)
	assert.Equal(t, uint64(0), f.balance(alice).Escrowed)
}

func TestRedemption_CancelAuthorization(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 100)
	req := f.request(alice, 50)

	require.ErrorIs(t, f.svc.CancelRedemption(f.ctx, asset, carol, req.ID), domain.ErrUnauthorized)
	require.ErrorIs(t, f.svc.CancelRedemption(f.ctx, asset, alice, 99), domain.ErrNotFound)
	require.NoError(t, f.svc.CancelRedemption(f.ctx, asset, supplier, req.ID))
}

func TestRedemption_FulfillAfterWipeFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 100)
	req := f.request(alice, 80)
	require.NoError(t, f.svc.SetRedemptionProcessing(f.ctx, asset, supplier, req.ID))

	require.NoError(t, f.svc.AddToBlacklist(f.ctx, asset, protector, alice))
	require.NoError(t, f.svc.Wipe(f.ctx, asset, protector, alice, 50))

	require.ErrorIs(t, f.svc.FulfillRedemption(f.ctx, asset, supplier, req.ID), domain.ErrInsufficientBalance)
	assert.Equal(t, model.RedemptionProcessing, f.status(req.ID))
}

func TestMint_Authorization(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.Mint(f.ctx, asset, alice, alice, 10)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.svc.Mint(f.ctx, asset, supplier, alice, 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.svc.Mint(f.ctx, model.Address{0x01}, supplier, alice, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	supply, err := f.svc.Mint(f.ctx, asset, supplier, alice, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), supply)
}

func TestInitialize_Once(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.Initialize(f.ctx, InitializeParams{Asset: asset, Admin: alice})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	cfg, err := f.svc.Config(f.ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, admin, cfg.Admin)
	assert.Equal(t, programs.CustodyConfigAddress(asset), cfg.Address)
	assert.Equal(t, programs.Gate, cfg.GateProgram)

	gate, err := f.svc.GatekeeperConfig(f.ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, admin, gate.Admin)

	m, err := f.svc.MintInfo(f.ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, cfg.Address, m.PermanentDelegate)
	assert.Equal(t, programs.Gate, m.HookProgram)
	assert.Equal(t, uint8(6), m.Decimals)
}

func TestRotateMintAuthority(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	next := model.Address{0x77}

	require.ErrorIs(t, f.svc.RotateMintAuthority(f.ctx, asset, alice, next), domain.ErrUnauthorized)
	require.NoError(t, f.svc.RotateMintAuthority(f.ctx, asset, admin, next))

	cfg, err := f.svc.Config(f.ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, next, cfg.MintAuthority)

	_, err = f.svc.Mint(f.ctx, asset, supplier, alice, 1)
	require.ErrorIs(t, err, domain.ErrUnauthorized, "custody no longer controls minting")
	require.ErrorIs(t, f.svc.RotateMintAuthority(f.ctx, asset, admin, model.Address{0x78}), domain.ErrUnauthorized)
}

func TestRoles_GrantRevokeAreInverses(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, role := range model.AllRoles() {
		assert.False(t, f.svc.HasRole(f.ctx, asset, carol, role))
		require.NoError(t, f.svc.GrantRole(f.ctx, asset, admin, carol, role))
		assert.True(t, f.svc.HasRole(f.ctx, asset, carol, role))
	}
	require.ErrorIs(t, f.svc.GrantRole(f.ctx, asset, admin, carol, model.RoleFeeController), domain.ErrAlreadyExists)

	// Revocation needs DefaultAdmin, which the configured admin does not hold by default.
	require.ErrorIs(t, f.svc.RevokeRole(f.ctx, asset, admin, carol, model.RoleFeeController), domain.ErrUnauthorized)
	require.NoError(t, f.svc.GrantRole(f.ctx, asset, admin, admin, model.RoleDefaultAdmin))

	for _, role := range model.AllRoles() {
		require.NoError(t, f.svc.RevokeRole(f.ctx, asset, admin, carol, role))
		assert.False(t, f.svc.HasRole(f.ctx, asset, carol, role))
	}
	require.ErrorIs(t, f.svc.RevokeRole(f.ctx, asset, admin, carol, model.RoleFeeController), domain.ErrNotFound)
	require.ErrorIs(t, f.svc.GrantRole(f.ctx, asset, alice, carol, model.RoleSupplyController), domain.ErrUnauthorized)

	grants, err := f.svc.RoleGrants(f.ctx, asset)
	require.NoError(t, err)
	assert.Len(t, grants, 4)
}

func TestSetAdmin_LeavesGateAdminAlone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.ErrorIs(t, f.svc.SetAdmin(f.ctx, asset, alice, carol), domain.ErrUnauthorized)
	require.NoError(t, f.svc.SetAdmin(f.ctx, asset, admin, carol))

	_, err := f.svc.TogglePause(f.ctx, asset, admin)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.svc.TogglePause(f.ctx, asset, carol)
	require.NoError(t, err)

	// The old admin still runs the gate until the gate admin is rotated too.
	require.NoError(t, f.svc.AddToBlacklist(f.ctx, asset, admin, bob))
	require.NoError(t, f.svc.SetGateAdmin(f.ctx, asset, admin, carol))
	require.ErrorIs(t, f.svc.RemoveFromBlacklist(f.ctx, asset, admin, bob), domain.ErrUnauthorized)
	require.NoError(t, f.svc.RemoveFromBlacklist(f.ctx, asset, carol, bob))
	assert.False(t, f.svc.IsBlacklisted(f.ctx, asset, bob))
}

func TestTransfer_FeeWithheldOnDestination(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 2000)

	require.ErrorIs(t, f.svc.SetTransferFee(f.ctx, asset, alice, 100, 5), domain.ErrUnauthorized)
	require.ErrorIs(t, f.svc.SetTransferFee(f.ctx, asset, feeAdmin, 10001, 5), domain.ErrInvalidAmount)
	require.NoError(t, f.svc.SetTransferFee(f.ctx, asset, feeAdmin, 100, 5))

	fee, err := f.svc.Transfer(f.ctx, asset, alice, TransferParams{To: bob, Amount: 1000})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), fee, "one percent of 1000 capped at 5")

	b := f.balance(bob)
	assert.Equal(t, uint64(995), b.Amount)
	assert.Equal(t, uint64(5), b.WithheldFees)
	assert.Equal(t, uint64(1000), f.balance(alice).Amount)
}

func TestTransfer_Gate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 100)
	f.mint(carol, 100)

	_, err := f.svc.Transfer(f.ctx, asset, alice, TransferParams{To: bob, Amount: 100})
	require.NoError(t, err)

	require.NoError(t, f.svc.AddToBlacklist(f.ctx, asset, protector, bob))
	_, err = f.svc.Transfer(f.ctx, asset, bob, TransferParams{To: alice, Amount: 1})
	require.ErrorIs(t, err, domain.ErrAddressBlacklisted)
	_, err = f.svc.Transfer(f.ctx, asset, carol, TransferParams{To: bob, Amount: 1})
	require.ErrorIs(t, err, domain.ErrAddressBlacklisted)

	_, err = f.svc.Transfer(f.ctx, asset, carol, TransferParams{To: alice, Amount: 0})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.svc.Transfer(f.ctx, asset, alice, TransferParams{To: carol, Amount: 1})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestTransfer_EscrowDelegateCannotSpend(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 100)
	req := f.request(alice, 60)

	_, err := f.svc.Transfer(f.ctx, asset, req.EscrowAuthority, TransferParams{From: alice, To: bob, Amount: 60})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, uint64(100), f.balance(alice).Amount)
}

func TestBalance_MissingAccountReadsAsZero(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	b := f.balance(carol)
	assert.Equal(t, Balance{Owner: carol, Account: programs.HolderAccountAddress(carol, asset)}, b)

	_, err := f.svc.Balance(f.ctx, model.Address{0x0f}, carol)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpenAccount_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first, err := f.svc.OpenAccount(f.ctx, asset, carol, model.Address{})
	require.NoError(t, err)
	second, err := f.svc.OpenAccount(f.ctx, asset, carol, carol)
	require.NoError(t, err)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, programs.HolderAccountAddress(carol, asset), first.Address)
}

func TestEvents_AuditLog(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 500)
	_, err := f.svc.Mint(f.ctx, asset, alice, alice, 1)
	require.Error(t, err)

	assert.Equal(t, []string{
		event.TypeTokenInitialized,
		event.TypeRoleAssigned,
		event.TypeRoleAssigned,
		event.TypeRoleAssigned,
		event.TypeTokensMinted,
	}, f.eventTypes())

	envs, err := f.svc.Events(f.ctx, asset, 4, 10)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, int64(5), envs[0].Sequence)

	var minted event.TokensMinted
	require.NoError(t, json.Unmarshal(envs[0].Payload, &minted))
	assert.Equal(t, event.TokensMinted{
		Mint:      asset,
		To:        programs.HolderAccountAddress(alice, asset),
		Amount:    500,
		Authority: programs.DefaultMintAuthority(asset),
		Recipient: alice,
	}, minted)

	first, err := f.svc.Events(f.ctx, asset, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	var role event.RoleAssigned
	require.NoError(t, json.Unmarshal(first[1].Payload, &role))
	assert.Equal(t, event.RoleAssigned{User: supplier, Role: "SupplyController", Authority: admin}, role)
}

func TestEvents_RedemptionPayloads(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mint(alice, 100)
	keep := f.request(alice, 30)
	drop := f.request(alice, 20)
	require.NoError(t, f.svc.SetRedemptionProcessing(f.ctx, asset, supplier, keep.ID))
	require.NoError(t, f.svc.FulfillRedemption(f.ctx, asset, supplier, keep.ID))
	require.NoError(t, f.svc.CancelRedemption(f.ctx, asset, supplier, drop.ID))

	envs, err := f.svc.Events(f.ctx, asset, 5, 10)
	require.NoError(t, err)
	got := make([]string, 0, len(envs))
	for _, env := range envs {
		got = append(got, string(env.Payload))
	}

	user, ts := alice.String(), genesisTime.Unix()
	assert.Equal(t, []string{
		fmt.Sprintf(`{"user":"%s","request_id":1,"amount":30,"timestamp":%d}`, user, ts),
		fmt.Sprintf(`{"user":"%s","request_id":2,"amount":20,"timestamp":%d}`, user, ts),
		fmt.Sprintf(`{"user":"%s","request_id":1,"old_status":"Pending","new_status":"Processing"}`, user),
		fmt.Sprintf(`{"user":"%s","request_id":1,"amount":30,"timestamp":%d}`, user, ts),
		fmt.Sprintf(`{"user":"%s","request_id":2,"amount":20,"timestamp":%d,"cancelled_by":"%s"}`, user, ts, supplier),
	}, got)
}

func TestPublish_ForwardsCommittedEvents(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	f := newFixture(t)
	pub := storemocks.NewMockEventPublisher(ctrl)
	f.svc.publisher = pub

	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, env event.Envelope) error {
		assert.Equal(t, event.TypeTokensMinted, env.Type)
		assert.Equal(t, asset, env.Asset)
		assert.Positive(t, env.Sequence)
		return nil
	}).Times(1)

	f.mint(alice, 10)

	// Rejected operations publish nothing.
	_, err := f.svc.Mint(f.ctx, asset, alice, alice, 1)
	require.Error(t, err)
}

func TestPublish_FailureOpensCircuitWithoutFailingOperation(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	f := newFixture(t)
	pub := storemocks.NewMockEventPublisher(ctrl)
	alerter := alertmocks.NewMockAlerter(ctrl)
	f.svc.publisher = pub
	f.svc.alerter = alerter
	f.svc.breaker = circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour})

	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("redis: connection refused")).Times(1)
	alerter.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, a alert.Alert) error {
		assert.Equal(t, alert.AlertTypeStreamDegraded, a.Type)
		return nil
	}).Times(1)

	f.mint(alice, 10)
	f.mint(alice, 10) // circuit open: publisher not called again
	assert.Equal(t, uint64(20), f.balance(alice).Amount)
	assert.Len(t, f.eventTypes(), 6, "audit log is intact regardless of the stream")
}

func TestAlerts_ComplianceActions(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	f := newFixture(t)
	alerter := alertmocks.NewMockAlerter(ctrl)
	f.svc.alerter = alerter
	f.mint(bob, 10)

	var got []alert.Alert
	alerter.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, a alert.Alert) error {
		got = append(got, a)
		return nil
	}).Times(3)

	require.NoError(t, f.svc.AddToBlacklist(f.ctx, asset, protector, bob))
	require.NoError(t, f.svc.Wipe(f.ctx, asset, protector, bob, 10))
	_, err := f.svc.TogglePause(f.ctx, asset, admin)
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, alert.AlertTypeBlacklisted, got[0].Type)
	assert.Equal(t, bob.String(), got[0].Subject)
	assert.Equal(t, asset.String(), got[0].Asset)
	assert.Equal(t, alert.AlertTypeWiped, got[1].Type)
	assert.Equal(t, alert.AlertTypePauseToggled, got[2].Type)
}

func TestRun_StoreFailurePublishesNothing(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	st := storemocks.NewMockStore(ctrl)
	pub := storemocks.NewMockEventPublisher(ctrl)
	svc := New(programs, st, testLogger(), WithPublisher(pub))

	boom := errors.New("connection reset")
	st.EXPECT().Execute(gomock.Any(), asset, gomock.Any()).Return(boom)

	_, err := svc.Mint(context.Background(), asset, supplier, alice, 1)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "Internal", domain.KindOf(err))
}
