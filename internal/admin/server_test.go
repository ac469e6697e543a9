package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/rwa-custody/internal/custody"
	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/metrics"
	"github.com/emperorhan/rwa-custody/internal/reconciliation"
	"github.com/emperorhan/rwa-custody/internal/store"
	"github.com/emperorhan/rwa-custody/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	testPrograms = model.Programs{
		Custody: model.Address{0xc0},
		Gate:    model.Address{0x9a},
		Ledger:  model.Address{0x1e},
	}
	testAsset = model.Address{0xaa}
	admin     = model.Address{0xad}
	supplier  = model.Address{0x5c}
	protector = model.Address{0xbe}
	alice     = model.Address{0xa1}
	bob       = model.Address{0xb0}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Helper ---

type apiFixture struct {
	t       *testing.T
	auth    *Authenticator
	handler http.Handler
}

func newAPIFixture(t *testing.T, opts ...ServerOption) *apiFixture {
	t.Helper()
	return newAPIFixtureOn(t, memory.New(), opts...)
}

func newAPIFixtureOn(t *testing.T, st store.Store, opts ...ServerOption) *apiFixture {
	t.Helper()
	svc := custody.New(testPrograms, st, testLogger())
	auth := NewAuthenticator(testSecret, "rwa-custody", testLogger())
	return &apiFixture{
		t:       t,
		auth:    auth,
		handler: NewServer(svc, auth, testLogger(), opts...).Handler(),
	}
}

// newInitializedFixture provisions testAsset with admin and grants the
// supply controller and asset protector roles.
func newInitializedFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := newAPIFixture(t)
	rec := f.do(admin, http.MethodPost, "/v1/assets", map[string]any{"asset": testAsset.String(), "decimals": 6})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	f.mustDo(admin, http.MethodPost, f.assetPath("/roles"), http.StatusNoContent,
		map[string]any{"subject": supplier.String(), "role": "supply_controller"})
	f.mustDo(admin, http.MethodPost, f.assetPath("/roles"), http.StatusNoContent,
		map[string]any{"subject": protector.String(), "role": "asset_protector"})
	return f
}

func (f *apiFixture) assetPath(suffix string) string {
	return "/v1/assets/" + testAsset.String() + suffix
}

func (f *apiFixture) token(caller model.Address) string {
	f.t.Helper()
	tok, err := f.auth.Issue(caller, time.Hour)
	require.NoError(f.t, err)
	return tok
}

func (f *apiFixture) do(caller model.Address, method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(f.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+f.token(caller))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) mustDo(caller model.Address, method, path string, want int, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	rec := f.do(caller, method, path, body)
	require.Equal(f.t, want, rec.Code, rec.Body.String())
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// --- Tests: authentication ---

func TestAPI_RejectsMissingOrInvalidToken(t *testing.T) {
	f := newAPIFixture(t)
	other := NewAuthenticator(testSecret, "someone-else", testLogger())
	foreign, err := other.Issue(admin, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage", header: "Bearer not-a-jwt"},
		{name: "wrong issuer", header: "Bearer " + foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, f.assetPath("/config"), nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthenticator_ExpiredToken(t *testing.T) {
	auth := NewAuthenticator(testSecret, "rwa-custody", testLogger())
	issuedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issuedAt }
	tok, err := auth.Issue(alice, time.Minute)
	require.NoError(t, err)

	got, err := auth.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	auth.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	_, err = auth.Verify(tok)
	require.Error(t, err)
}

func TestAuthenticator_VerifiedTokenCache(t *testing.T) {
	auth := NewAuthenticator(testSecret, "rwa-custody", testLogger(), WithVerifiedTokenCache(16, time.Hour))
	issuedAt := time.Now()
	auth.now = func() time.Time { return issuedAt }
	tok, err := auth.Issue(bob, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := auth.Verify(tok)
		require.NoError(t, err)
		assert.Equal(t, bob, got)
	}
	hits, misses := auth.verified.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)

	auth.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	_, err = auth.Verify(tok)
	require.Error(t, err, "a cached token still honours its own expiry")
	assert.Zero(t, auth.verified.Len())

	_, err = auth.Verify(tok + "x")
	require.Error(t, err)
}

// --- Tests: administration ---

func TestAPI_InitializeAndQuery(t *testing.T) {
	f := newInitializedFixture(t)

	cfg := decode[model.CustodyConfig](t, f.mustDo(alice, http.MethodGet, f.assetPath("/config"), http.StatusOK, nil))
	assert.Equal(t, admin, cfg.Admin)
	assert.Equal(t, testPrograms.Gate, cfg.GateProgram)

	gate := decode[model.GatekeeperConfig](t, f.mustDo(alice, http.MethodGet, f.assetPath("/gatekeeper"), http.StatusOK, nil))
	assert.Equal(t, admin, gate.Admin)

	rec := f.do(admin, http.MethodPost, "/v1/assets", map[string]any{"asset": testAsset.String(), "decimals": 6})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "AlreadyExists", decode[errorResponse](t, rec).Kind)
}

func TestAPI_MintPauseAndAuthorization(t *testing.T) {
	f := newInitializedFixture(t)

	rec := f.do(alice, http.MethodPost, f.assetPath("/mint"), map[string]any{"recipient": alice.String(), "amount": 10})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Unauthorized", decode[errorResponse](t, rec).Kind)

	rec = f.mustDo(supplier, http.MethodPost, f.assetPath("/mint"), http.StatusOK,
		map[string]any{"recipient": alice.String(), "amount": 1000})
	assert.Equal(t, uint64(1000), decode[map[string]uint64](t, rec)["supply"])

	f.mustDo(alice, http.MethodPost, f.assetPath("/pause"), http.StatusForbidden, nil)
	paused := decode[map[string]bool](t, f.mustDo(admin, http.MethodPost, f.assetPath("/pause"), http.StatusOK, nil))
	assert.True(t, paused["paused"])

	rec = f.do(supplier, http.MethodPost, f.assetPath("/mint"), map[string]any{"recipient": alice.String(), "amount": 1})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "ContractPaused", decode[errorResponse](t, rec).Kind)

	paused = decode[map[string]bool](t, f.mustDo(admin, http.MethodPost, f.assetPath("/pause"), http.StatusOK, nil))
	assert.False(t, paused["paused"])

	m := decode[model.Mint](t, f.mustDo(bob, http.MethodGet, f.assetPath("/mint"), http.StatusOK, nil))
	assert.Equal(t, uint64(1000), m.Supply)
	assert.Equal(t, uint8(6), m.Decimals)
}

func TestAPI_AdminHandover(t *testing.T) {
	f := newInitializedFixture(t)

	f.mustDo(alice, http.MethodPut, f.assetPath("/admin"), http.StatusForbidden, map[string]any{"address": alice.String()})
	f.mustDo(admin, http.MethodPut, f.assetPath("/admin"), http.StatusNoContent, map[string]any{"address": alice.String()})

	cfg := decode[model.CustodyConfig](t, f.mustDo(bob, http.MethodGet, f.assetPath("/config"), http.StatusOK, nil))
	assert.Equal(t, alice, cfg.Admin)

	gate := decode[model.GatekeeperConfig](t, f.mustDo(bob, http.MethodGet, f.assetPath("/gatekeeper"), http.StatusOK, nil))
	assert.Equal(t, admin, gate.Admin, "gate admin is rotated separately")

	f.mustDo(admin, http.MethodPut, f.assetPath("/gatekeeper/admin"), http.StatusNoContent, map[string]any{"address": alice.String()})
	gate = decode[model.GatekeeperConfig](t, f.mustDo(bob, http.MethodGet, f.assetPath("/gatekeeper"), http.StatusOK, nil))
	assert.Equal(t, alice, gate.Admin)
}

// --- Tests: roles and blacklist ---

func TestAPI_Roles(t *testing.T) {
	f := newInitializedFixture(t)
	rolePath := f.assetPath("/roles/" + bob.String() + "/fee_controller")

	held := decode[map[string]bool](t, f.mustDo(bob, http.MethodGet, rolePath, http.StatusOK, nil))
	assert.False(t, held["held"])

	f.mustDo(admin, http.MethodPost, f.assetPath("/roles"), http.StatusNoContent,
		map[string]any{"subject": bob.String(), "role": "fee_controller"})
	held = decode[map[string]bool](t, f.mustDo(bob, http.MethodGet, rolePath, http.StatusOK, nil))
	assert.True(t, held["held"])

	grants := decode[struct {
		Grants []model.RoleGrant `json:"grants"`
	}](t, f.mustDo(bob, http.MethodGet, f.assetPath("/roles"), http.StatusOK, nil))
	assert.Len(t, grants.Grants, 3)

	f.mustDo(admin, http.MethodPost, f.assetPath("/roles"), http.StatusConflict,
		map[string]any{"subject": bob.String(), "role": "fee_controller"})

	f.mustDo(admin, http.MethodDelete, rolePath, http.StatusForbidden, nil)
	f.mustDo(admin, http.MethodPost, f.assetPath("/roles"), http.StatusNoContent,
		map[string]any{"subject": admin.String(), "role": "default_admin"})
	f.mustDo(admin, http.MethodDelete, rolePath, http.StatusNoContent, nil)
	f.mustDo(admin, http.MethodDelete, rolePath, http.StatusNotFound, nil)

	f.mustDo(bob, http.MethodGet, f.assetPath("/roles/"+bob.String()+"/emperor"), http.StatusBadRequest, nil)
	f.mustDo(admin, http.MethodPost, f.assetPath("/roles"), http.StatusBadRequest,
		map[string]any{"subject": bob.String(), "role": "emperor"})
}

func TestAPI_BlacklistAndWipe(t *testing.T) {
	f := newInitializedFixture(t)
	f.mustDo(supplier, http.MethodPost, f.assetPath("/mint"), http.StatusOK, map[string]any{"recipient": bob.String(), "amount": 100})

	rec := f.do(protector, http.MethodPost, f.assetPath("/wipe"), map[string]any{"address": bob.String(), "amount": 10})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "AddressNotBlacklisted", decode[errorResponse](t, rec).Kind)

	f.mustDo(protector, http.MethodPost, f.assetPath("/blacklist"), http.StatusNoContent, map[string]any{"address": bob.String()})
	f.mustDo(protector, http.MethodPost, f.assetPath("/blacklist"), http.StatusConflict, map[string]any{"address": bob.String()})

	listed := decode[map[string]bool](t, f.mustDo(alice, http.MethodGet, f.assetPath("/blacklist/"+bob.String()), http.StatusOK, nil))
	assert.True(t, listed["blacklisted"])

	entries := decode[struct {
		Entries []model.BlacklistEntry `json:"entries"`
	}](t, f.mustDo(alice, http.MethodGet, f.assetPath("/blacklist"), http.StatusOK, nil))
	require.Len(t, entries.Entries, 1)
	assert.Equal(t, bob, entries.Entries[0].Address)
	assert.Equal(t, protector, entries.Entries[0].AddedBy)

	rec = f.do(bob, http.MethodPost, f.assetPath("/transfers"), map[string]any{"to": alice.String(), "amount": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "AddressBlacklisted", decode[errorResponse](t, rec).Kind)

	f.mustDo(protector, http.MethodPost, f.assetPath("/wipe"), http.StatusNoContent, map[string]any{"address": bob.String(), "amount": 100})
	bal := decode[custody.Balance](t, f.mustDo(alice, http.MethodGet, f.assetPath("/balances/"+bob.String()), http.StatusOK, nil))
	assert.Equal(t, uint64(0), bal.Amount)

	f.mustDo(protector, http.MethodDelete, f.assetPath("/blacklist/"+bob.String()), http.StatusNoContent, nil)
	f.mustDo(protector, http.MethodDelete, f.assetPath("/blacklist/"+bob.String()), http.StatusUnprocessableEntity, nil)
}

// --- Tests: holders ---

func TestAPI_TransferWithFee(t *testing.T) {
	f := newInitializedFixture(t)
	f.mustDo(admin, http.MethodPost, f.assetPath("/roles"), http.StatusNoContent,
		map[string]any{"subject": admin.String(), "role": "fee_controller"})
	f.mustDo(supplier, http.MethodPost, f.assetPath("/mint"), http.StatusOK, map[string]any{"recipient": alice.String(), "amount": 2000})
	f.mustDo(admin, http.MethodPut, f.assetPath("/transfer-fee"), http.StatusNoContent,
		map[string]any{"basis_points": 100, "maximum_fee": 5})

	rec := f.mustDo(alice, http.MethodPost, f.assetPath("/transfers"), http.StatusOK,
		map[string]any{"to": bob.String(), "amount": 1000})
	assert.Equal(t, uint64(5), decode[map[string]uint64](t, rec)["fee"])

	bal := decode[custody.Balance](t, f.mustDo(bob, http.MethodGet, f.assetPath("/balances/"+bob.String()), http.StatusOK, nil))
	assert.Equal(t, uint64(995), bal.Amount)
	assert.Equal(t, uint64(5), bal.WithheldFees)

	rec = f.do(alice, http.MethodPost, f.assetPath("/transfers"), map[string]any{"to": bob.String(), "amount": 5000})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InsufficientBalance", decode[errorResponse](t, rec).Kind)
}

func TestAPI_OpenAccount(t *testing.T) {
	f := newInitializedFixture(t)

	first := decode[model.HolderAccount](t, f.mustDo(alice, http.MethodPost, f.assetPath("/accounts"), http.StatusOK, map[string]any{}))
	second := decode[model.HolderAccount](t, f.mustDo(bob, http.MethodPost, f.assetPath("/accounts"), http.StatusOK,
		map[string]any{"owner": alice.String()}))
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, testPrograms.HolderAccountAddress(alice, testAsset), first.Address)
}

// --- Tests: redemptions ---

func TestAPI_RedemptionLifecycle(t *testing.T) {
	f := newInitializedFixture(t)
	f.mustDo(supplier, http.MethodPost, f.assetPath("/mint"), http.StatusOK, map[string]any{"recipient": alice.String(), "amount": 1000})

	created := decode[model.RedemptionRequest](t, f.mustDo(alice, http.MethodPost, f.assetPath("/redemptions"), http.StatusCreated,
		map[string]any{"amount": 400, "method": "physical_delivery", "notes": "vault 7"}))
	assert.Equal(t, uint64(1), created.ID)
	assert.Equal(t, model.RedemptionPending, created.Status)
	assert.Equal(t, alice, created.Requester)
	assert.Equal(t, "vault 7", created.Notes)

	bal := decode[custody.Balance](t, f.mustDo(alice, http.MethodGet, f.assetPath("/balances/"+alice.String()), http.StatusOK, nil))
	assert.Equal(t, uint64(400), bal.Escrowed)
	assert.Equal(t, uint64(600), bal.Available)

	path := f.assetPath(fmt.Sprintf("/redemptions/%d", created.ID))
	f.mustDo(alice, http.MethodPost, path+"/processing", http.StatusForbidden, nil)

	rec := f.do(supplier, http.MethodPost, path+"/fulfill", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "InvalidRequestStatus", decode[errorResponse](t, rec).Kind)

	got := decode[model.RedemptionRequest](t, f.mustDo(supplier, http.MethodPost, path+"/processing", http.StatusOK, nil))
	assert.Equal(t, model.RedemptionProcessing, got.Status)
	got = decode[model.RedemptionRequest](t, f.mustDo(supplier, http.MethodPost, path+"/fulfill", http.StatusOK, nil))
	assert.Equal(t, model.RedemptionFulfilled, got.Status)
	require.NotNil(t, got.CompletedAt)

	f.mustDo(alice, http.MethodPost, path+"/cancel", http.StatusConflict, nil)

	bal = decode[custody.Balance](t, f.mustDo(alice, http.MethodGet, f.assetPath("/balances/"+alice.String()), http.StatusOK, nil))
	assert.Equal(t, uint64(600), bal.Amount)
	assert.Equal(t, uint64(0), bal.Escrowed)

	f.mustDo(alice, http.MethodGet, f.assetPath("/redemptions/99"), http.StatusNotFound, nil)
	f.mustDo(alice, http.MethodGet, f.assetPath("/redemptions/abc"), http.StatusBadRequest, nil)
}

func TestAPI_ListRedemptionsFilters(t *testing.T) {
	f := newInitializedFixture(t)
	f.mustDo(supplier, http.MethodPost, f.assetPath("/mint"), http.StatusOK, map[string]any{"recipient": alice.String(), "amount": 100})
	f.mustDo(supplier, http.MethodPost, f.assetPath("/mint"), http.StatusOK, map[string]any{"recipient": bob.String(), "amount": 100})

	for _, caller := range []model.Address{alice, bob, alice} {
		f.mustDo(caller, http.MethodPost, f.assetPath("/redemptions"), http.StatusCreated, map[string]any{"amount": 10})
	}
	f.mustDo(alice, http.MethodPost, f.assetPath("/redemptions/3/cancel"), http.StatusOK, nil)

	type listing struct {
		Redemptions []model.RedemptionRequest `json:"redemptions"`
	}
	ids := func(l listing) []uint64 {
		out := make([]uint64, 0, len(l.Redemptions))
		for _, r := range l.Redemptions {
			out = append(out, r.ID)
		}
		return out
	}

	all := decode[listing](t, f.mustDo(bob, http.MethodGet, f.assetPath("/redemptions"), http.StatusOK, nil))
	assert.Equal(t, []uint64{1, 2, 3}, ids(all))

	mine := decode[listing](t, f.mustDo(bob, http.MethodGet, f.assetPath("/redemptions?requester="+alice.String()), http.StatusOK, nil))
	assert.Equal(t, []uint64{1, 3}, ids(mine))

	pending := decode[listing](t, f.mustDo(bob, http.MethodGet, f.assetPath("/redemptions?status=pending&requester="+alice.String()), http.StatusOK, nil))
	assert.Equal(t, []uint64{1}, ids(pending))

	limited := decode[listing](t, f.mustDo(bob, http.MethodGet, f.assetPath("/redemptions?limit=2"), http.StatusOK, nil))
	assert.Equal(t, []uint64{1, 2}, ids(limited))

	f.mustDo(bob, http.MethodGet, f.assetPath("/redemptions?status=lost"), http.StatusBadRequest, nil)
	f.mustDo(bob, http.MethodGet, f.assetPath("/redemptions?requester=nope"), http.StatusBadRequest, nil)
	f.mustDo(bob, http.MethodGet, f.assetPath("/redemptions?limit=-1"), http.StatusBadRequest, nil)
	f.mustDo(alice, http.MethodPost, f.assetPath("/redemptions"), http.StatusBadRequest, map[string]any{"amount": 1, "method": "teleport"})
}

// --- Tests: events ---

func TestAPI_Events(t *testing.T) {
	f := newInitializedFixture(t)
	f.mustDo(supplier, http.MethodPost, f.assetPath("/mint"), http.StatusOK, map[string]any{"recipient": alice.String(), "amount": 5})

	type listing struct {
		Events []struct {
			Sequence int64  `json:"sequence"`
			Type     string `json:"type"`
		} `json:"events"`
	}
	all := decode[listing](t, f.mustDo(bob, http.MethodGet, f.assetPath("/events"), http.StatusOK, nil))
	require.Len(t, all.Events, 4)
	assert.Equal(t, "TokenInitialized", all.Events[0].Type)
	assert.Equal(t, "TokensMinted", all.Events[3].Type)

	page := decode[listing](t, f.mustDo(bob, http.MethodGet,
		f.assetPath(fmt.Sprintf("/events?after=%d&limit=1", all.Events[1].Sequence)), http.StatusOK, nil))
	require.Len(t, page.Events, 1)
	assert.Equal(t, all.Events[2].Sequence, page.Events[0].Sequence)

	f.mustDo(bob, http.MethodGet, f.assetPath("/events?limit=0"), http.StatusBadRequest, nil)
	f.mustDo(bob, http.MethodGet, f.assetPath("/events?after=x"), http.StatusBadRequest, nil)
}

// --- Tests: request validation ---

func TestAPI_BadRequests(t *testing.T) {
	f := newInitializedFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "invalid asset address", method: http.MethodGet, path: "/v1/assets/0OIl/config", want: http.StatusBadRequest},
		{name: "unknown asset", method: http.MethodGet, path: "/v1/assets/" + bob.String() + "/config", want: http.StatusNotFound},
		{name: "malformed json", method: http.MethodPost, path: f.assetPath("/mint"), body: "{", want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: f.assetPath("/mint"), body: `{"recipient":"x","amont":1}`, want: http.StatusBadRequest},
		{name: "bad address in body", method: http.MethodPost, path: f.assetPath("/blacklist"), body: `{"address":"not-base58-0"}`, want: http.StatusBadRequest},
		{name: "missing asset on initialize", method: http.MethodPost, path: "/v1/assets", body: map[string]any{"decimals": 6}, want: http.StatusBadRequest},
		{name: "zero amount", method: http.MethodPost, path: f.assetPath("/mint"), body: map[string]any{"recipient": alice.String(), "amount": 0}, want: http.StatusUnprocessableEntity},
		{name: "unknown route", method: http.MethodGet, path: f.assetPath("/nothing"), want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := supplier
			rec := f.do(caller, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantKind string
	}{
		{err: fmt.Errorf("mint: %w", domain.ErrUnauthorized), wantCode: http.StatusForbidden, wantKind: "Unauthorized"},
		{err: domain.ErrNotFound, wantCode: http.StatusNotFound, wantKind: "NotFound"},
		{err: domain.ErrInvalidState, wantCode: http.StatusConflict, wantKind: "InvalidState"},
		{err: domain.ErrContractPaused, wantCode: http.StatusLocked, wantKind: "ContractPaused"},
		{err: domain.ErrMathOverflow, wantCode: http.StatusUnprocessableEntity, wantKind: "MathOverflow"},
		{err: errors.New("disk on fire"), wantCode: http.StatusInternalServerError, wantKind: "Internal"},
	}
	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			code, kind := statusFor(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Equal(t, "internal error", resp.Error)
	assert.Equal(t, "Internal", resp.Kind)
}

func TestAPI_CountsRequestsByRoutePattern(t *testing.T) {
	f := newInitializedFixture(t)
	counter := metrics.AdminRequestsTotal.WithLabelValues("GET /v1/assets/{asset}/config", "200")
	before := testutil.ToFloat64(counter)

	f.mustDo(alice, http.MethodGet, f.assetPath("/config"), http.StatusOK, nil)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestAPI_Reconciliation(t *testing.T) {
	t.Parallel()

	st := memory.New()
	f := newAPIFixtureOn(t, st, WithReconciler(reconciliation.NewService(st, nil, testLogger())))
	f.mustDo(admin, http.MethodPost, "/v1/assets", http.StatusCreated,
		map[string]any{"asset": testAsset.String(), "decimals": 6})
	f.mustDo(admin, http.MethodPost, f.assetPath("/roles"), http.StatusNoContent,
		map[string]any{"subject": supplier.String(), "role": "supply_controller"})
	f.mustDo(supplier, http.MethodPost, f.assetPath("/mint"), http.StatusOK,
		map[string]any{"recipient": alice.String(), "amount": 300})

	rec := f.mustDo(alice, http.MethodGet, f.assetPath("/reconciliation"), http.StatusOK, nil)
	res := decode[reconciliation.RunResult](t, rec)
	assert.Equal(t, testAsset, res.Asset)
	assert.Equal(t, 2, res.Total)
	assert.Zero(t, res.Mismatched)

	rec = f.do(alice, http.MethodGet, "/v1/assets/"+model.Address{0x77}.String()+"/reconciliation", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	plain := newInitializedFixture(t)
	rec = plain.do(admin, http.MethodGet, plain.assetPath("/reconciliation"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "route only exists with a reconciler")
}
