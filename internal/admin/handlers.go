package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emperorhan/rwa-custody/internal/custody"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

type initializeRequest struct {
	Asset    model.Address `json:"asset"`
	Decimals uint8         `json:"decimals"`
	Name     string        `json:"name"`
	Symbol   string        `json:"symbol"`
	URI      string        `json:"uri"`
}

type addressRequest struct {
	Address model.Address `json:"address"`
}

type mintRequest struct {
	Recipient model.Address `json:"recipient"`
	Amount    uint64        `json:"amount"`
}

type wipeRequest struct {
	Address model.Address `json:"address"`
	Amount  uint64        `json:"amount"`
}

type transferFeeRequest struct {
	BasisPoints uint16 `json:"basis_points"`
	MaximumFee  uint64 `json:"maximum_fee"`
}

type roleRequest struct {
	Subject model.Address `json:"subject"`
	Role    model.Role    `json:"role"`
}

type accountRequest struct {
	Owner model.Address `json:"owner"`
}

type transferRequest struct {
	From   model.Address `json:"from"`
	To     model.Address `json:"to"`
	Amount uint64        `json:"amount"`
}

type redemptionRequest struct {
	Amount uint64                 `json:"amount"`
	Method model.RedemptionMethod `json:"method"`
	Notes  string                 `json:"notes"`
}

// --- Administration ---

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "no caller"})
		return
	}
	var req initializeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Asset.IsZero() {
		badRequest(w, "asset is required")
		return
	}
	cfg, err := s.svc.Initialize(r.Context(), custody.InitializeParams{
		Asset:    req.Asset,
		Admin:    caller,
		Decimals: req.Decimals,
		Name:     req.Name,
		Symbol:   req.Symbol,
		URI:      req.URI,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	paused, err := s.svc.TogglePause(r.Context(), asset, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

// handleAddressUpdate decodes {"address": ...} and applies it with set.
func (s *Server) handleAddressUpdate(w http.ResponseWriter, r *http.Request, set func(asset, caller, next model.Address) error) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := set(asset, caller, req.Address); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetAdmin(w http.ResponseWriter, r *http.Request) {
	s.handleAddressUpdate(w, r, func(asset, caller, next model.Address) error {
		return s.svc.SetAdmin(r.Context(), asset, caller, next)
	})
}

func (s *Server) handleSetGateAdmin(w http.ResponseWriter, r *http.Request) {
	s.handleAddressUpdate(w, r, func(asset, caller, next model.Address) error {
		return s.svc.SetGateAdmin(r.Context(), asset, caller, next)
	})
}

func (s *Server) handleRotateMintAuthority(w http.ResponseWriter, r *http.Request) {
	s.handleAddressUpdate(w, r, func(asset, caller, next model.Address) error {
		return s.svc.RotateMintAuthority(r.Context(), asset, caller, next)
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req mintRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	supply, err := s.svc.Mint(r.Context(), asset, caller, req.Recipient, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"supply": supply})
}

func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req wipeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.svc.Wipe(r.Context(), asset, caller, req.Address, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTransferFee(w http.ResponseWriter, r *http.Request) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req transferFeeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.svc.SetTransferFee(r.Context(), asset, caller, req.BasisPoints, req.MaximumFee); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Roles and blacklist ---

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.svc.GrantRole(r.Context(), asset, caller, req.Subject, req.Role); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// roleParams parses {subject} and {role}.
func roleParams(w http.ResponseWriter, r *http.Request) (model.Address, model.Role, bool) {
	subject, ok := addressParam(w, r, "subject")
	if !ok {
		return model.Address{}, 0, false
	}
	role, err := model.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		badRequest(w, err.Error())
		return model.Address{}, 0, false
	}
	return subject, role, true
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	subject, role, ok := roleParams(w, r)
	if !ok {
		return
	}
	if err := s.svc.RevokeRole(r.Context(), asset, caller, subject, role); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHasRole(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	subject, role, ok := roleParams(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"held": s.svc.HasRole(r.Context(), asset, subject, role)})
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	grants, err := s.svc.RoleGrants(r.Context(), asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (s *Server) handleAddToBlacklist(w http.ResponseWriter, r *http.Request) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.svc.AddToBlacklist(r.Context(), asset, caller, req.Address); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	address, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	if err := s.svc.RemoveFromBlacklist(r.Context(), asset, caller, address); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIsBlacklisted(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	address, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"blacklisted": s.svc.IsBlacklisted(r.Context(), asset, address)})
}

func (s *Server) handleListBlacklist(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	entries, err := s.svc.Blacklist(r.Context(), asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// --- Holders ---

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req accountRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	acct, err := s.svc.OpenAccount(r.Context(), asset, caller, req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	owner, ok := addressParam(w, r, "owner")
	if !ok {
		return
	}
	bal, err := s.svc.Balance(r.Context(), asset, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	fee, err := s.svc.Transfer(r.Context(), asset, caller, custody.TransferParams{
		From:   req.From,
		To:     req.To,
		Amount: req.Amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"fee": fee})
}

// --- Redemptions ---

func (s *Server) handleRequestRedemption(w http.ResponseWriter, r *http.Request) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req redemptionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if !req.Method.Valid() {
		badRequest(w, "unknown redemption method")
		return
	}
	created, err := s.svc.RequestRedemption(r.Context(), asset, caller, custody.RedemptionParams{
		Amount: req.Amount,
		Method: req.Method,
		Notes:  req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListRedemptions(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	var filter model.RedemptionFilter
	q := r.URL.Query()
	if v := q.Get("requester"); v != "" {
		requester, err := model.ParseAddress(v)
		if err != nil {
			badRequest(w, "invalid requester address")
			return
		}
		filter.Requester = &requester
	}
	if v := q.Get("status"); v != "" {
		status, err := model.ParseRedemptionStatus(v)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		filter.Status = &status
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		badRequest(w, "invalid limit")
		return
	}
	filter.Limit = limit

	reqs, err := s.svc.Redemptions(r.Context(), asset, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redemptions": reqs})
}

func (s *Server) handleGetRedemption(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req, err := s.svc.Redemption(r.Context(), asset, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleRedemptionStep runs one status transition on {id} and returns the
// updated request.
func (s *Server) handleRedemptionStep(w http.ResponseWriter, r *http.Request, step func(asset, caller model.Address, id uint64) error) {
	caller, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := step(asset, caller, id); err != nil {
		writeError(w, err)
		return
	}
	req, err := s.svc.Redemption(r.Context(), asset, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleSetProcessing(w http.ResponseWriter, r *http.Request) {
	s.handleRedemptionStep(w, r, func(asset, caller model.Address, id uint64) error {
		return s.svc.SetRedemptionProcessing(r.Context(), asset, caller, id)
	})
}

func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	s.handleRedemptionStep(w, r, func(asset, caller model.Address, id uint64) error {
		return s.svc.FulfillRedemption(r.Context(), asset, caller, id)
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleRedemptionStep(w, r, func(asset, caller model.Address, id uint64) error {
		return s.svc.CancelRedemption(r.Context(), asset, caller, id)
	})
}

// --- Queries ---

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	cfg, err := s.svc.Config(r.Context(), asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleGetGatekeeper(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	cfg, err := s.svc.GatekeeperConfig(r.Context(), asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleGetMint(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	m, err := s.svc.MintInfo(r.Context(), asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	after, ok := queryInt(r, "after", 0)
	if !ok {
		badRequest(w, "invalid after")
		return
	}
	limit, ok := queryInt(r, "limit", defaultEventLimit)
	if !ok || limit == 0 {
		badRequest(w, "invalid limit")
		return
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	events, err := s.svc.Events(r.Context(), asset, int64(after), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	_, asset, ok := s.caller(w, r)
	if !ok {
		return
	}
	res, err := s.reconciler.Reconcile(r.Context(), asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
