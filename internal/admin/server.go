// Package admin serves the custody HTTP API. Every route runs as the caller
// named by the bearer token; authorization itself is decided by the custody
// service.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/emperorhan/rwa-custody/internal/custody"
	"github.com/emperorhan/rwa-custody/internal/domain/event"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/reconciliation"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Custody is the service surface the API drives.
type Custody interface {
	Initialize(ctx context.Context, p custody.InitializeParams) (*model.CustodyConfig, error)
	TogglePause(ctx context.Context, asset, caller model.Address) (bool, error)
	SetAdmin(ctx context.Context, asset, caller, next model.Address) error
	SetGateAdmin(ctx context.Context, asset, caller, next model.Address) error
	Mint(ctx context.Context, asset, caller, recipient model.Address, amount uint64) (uint64, error)
	RotateMintAuthority(ctx context.Context, asset, caller, next model.Address) error
	Wipe(ctx context.Context, asset, caller, address model.Address, amount uint64) error
	SetTransferFee(ctx context.Context, asset, caller model.Address, basisPoints uint16, maximumFee uint64) error
	GrantRole(ctx context.Context, asset, caller, subject model.Address, role model.Role) error
	RevokeRole(ctx context.Context, asset, caller, subject model.Address, role model.Role) error
	AddToBlacklist(ctx context.Context, asset, caller, address model.Address) error
	RemoveFromBlacklist(ctx context.Context, asset, caller, address model.Address) error

	RequestRedemption(ctx context.Context, asset, caller model.Address, p custody.RedemptionParams) (*model.RedemptionRequest, error)
	SetRedemptionProcessing(ctx context.Context, asset, caller model.Address, id uint64) error
	FulfillRedemption(ctx context.Context, asset, caller model.Address, id uint64) error
	CancelRedemption(ctx context.Context, asset, caller model.Address, id uint64) error

	Transfer(ctx context.Context, asset, caller model.Address, p custody.TransferParams) (uint64, error)
	OpenAccount(ctx context.Context, asset, caller, owner model.Address) (*model.HolderAccount, error)

	Config(ctx context.Context, asset model.Address) (*model.CustodyConfig, error)
	GatekeeperConfig(ctx context.Context, asset model.Address) (*model.GatekeeperConfig, error)
	MintInfo(ctx context.Context, asset model.Address) (*model.Mint, error)
	Balance(ctx context.Context, asset, owner model.Address) (custody.Balance, error)
	Redemption(ctx context.Context, asset model.Address, id uint64) (*model.RedemptionRequest, error)
	Redemptions(ctx context.Context, asset model.Address, filter model.RedemptionFilter) ([]model.RedemptionRequest, error)
	RoleGrants(ctx context.Context, asset model.Address) ([]model.RoleGrant, error)
	HasRole(ctx context.Context, asset, subject model.Address, role model.Role) bool
	Blacklist(ctx context.Context, asset model.Address) ([]model.BlacklistEntry, error)
	IsBlacklisted(ctx context.Context, asset, address model.Address) bool
	Events(ctx context.Context, asset model.Address, after int64, limit int) ([]event.Envelope, error)
}

var _ Custody = (*custody.Service)(nil)

// Reconciler checks an asset's ledger totals on demand.
type Reconciler interface {
	Reconcile(ctx context.Context, asset model.Address) (*reconciliation.RunResult, error)
}

type Server struct {
	svc        Custody
	auth       *Authenticator
	limiter    *RateLimitMiddleware
	reconciler Reconciler
	logger     *slog.Logger
}

type ServerOption func(*Server)

// WithRateLimiter puts rl in front of every route.
func WithRateLimiter(rl *RateLimitMiddleware) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithReconciler enables GET /v1/assets/{asset}/reconciliation.
func WithReconciler(rc Reconciler) ServerOption {
	return func(s *Server) { s.reconciler = rc }
}

func NewServer(svc Custody, auth *Authenticator, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		svc:    svc,
		auth:   auth,
		logger: logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the custody API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	if s.limiter != nil {
		r.Use(s.limiter.Wrap)
	}
	r.Use(s.auth.Middleware)
	r.Use(AuditMiddleware(s.logger))

	r.Route("/v1/assets", func(api chi.Router) {
		api.Post("/", s.handleInitialize)

		api.Route("/{asset}", func(a chi.Router) {
			a.Get("/config", s.handleGetConfig)
			a.Get("/gatekeeper", s.handleGetGatekeeper)
			a.Put("/gatekeeper/admin", s.handleSetGateAdmin)
			a.Get("/mint", s.handleGetMint)
			a.Post("/mint", s.handleMint)
			a.Put("/mint-authority", s.handleRotateMintAuthority)
			a.Put("/transfer-fee", s.handleSetTransferFee)
			a.Post("/pause", s.handleTogglePause)
			a.Put("/admin", s.handleSetAdmin)
			a.Post("/wipe", s.handleWipe)

			a.Get("/roles", s.handleListRoles)
			a.Post("/roles", s.handleGrantRole)
			a.Get("/roles/{subject}/{role}", s.handleHasRole)
			a.Delete("/roles/{subject}/{role}", s.handleRevokeRole)

			a.Get("/blacklist", s.handleListBlacklist)
			a.Post("/blacklist", s.handleAddToBlacklist)
			a.Get("/blacklist/{address}", s.handleIsBlacklisted)
			a.Delete("/blacklist/{address}", s.handleRemoveFromBlacklist)

			a.Post("/accounts", s.handleOpenAccount)
			a.Get("/balances/{owner}", s.handleGetBalance)
			a.Post("/transfers", s.handleTransfer)

			a.Post("/redemptions", s.handleRequestRedemption)
			a.Get("/redemptions", s.handleListRedemptions)
			a.Get("/redemptions/{id}", s.handleGetRedemption)
			a.Post("/redemptions/{id}/processing", s.handleSetProcessing)
			a.Post("/redemptions/{id}/fulfill", s.handleFulfill)
			a.Post("/redemptions/{id}/cancel", s.handleCancel)

			a.Get("/events", s.handleListEvents)
			if s.reconciler != nil {
				a.Get("/reconciliation", s.handleReconcile)
			}
		})
	})
	return r
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// addressParam parses a base58 URL parameter, writing 400 on failure.
func addressParam(w http.ResponseWriter, r *http.Request, name string) (model.Address, bool) {
	a, err := model.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, "invalid "+name+" address")
		return model.Address{}, false
	}
	return a, true
}

func idParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "invalid redemption id")
		return 0, false
	}
	return id, true
}

// caller returns the authenticated caller and the {asset} parameter.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (model.Address, model.Address, bool) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "no caller"})
		return model.Address{}, model.Address{}, false
	}
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return model.Address{}, model.Address{}, false
	}
	return caller, asset, true
}

func queryInt(r *http.Request, key string, fallback int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
