package event

import (
	"github.com/emperorhan/rwa-custody/internal/domain/model"
)

// Event is a typed audit record. Field order of each struct is the wire order
// and must not be rearranged.
type Event interface {
	EventType() string
}

const (
	TypeTokenInitialized        = "TokenInitialized"
	TypePauseToggled            = "PauseToggled"
	TypeTokensMinted            = "TokensMinted"
	TypeRedemptionRequested     = "RedemptionRequested"
	TypeRedemptionStatusUpdated = "RedemptionStatusUpdated"
	TypeRedemptionFulfilled     = "RedemptionFulfilled"
	TypeRedemptionCancelled     = "RedemptionCancelled"
	TypeTokensWiped             = "TokensWiped"
	TypeRoleAssigned            = "RoleAssigned"
	TypeRoleRemoved             = "RoleRemoved"
	TypeAdminSet                = "AdminSet"
	TypeAuthorityTransferred    = "AuthorityTransferred"
	TypeAddressBlacklisted      = "AddressBlacklisted"
	TypeAddressUnblacklisted    = "AddressUnblacklisted"
	TypeGateAdminSet            = "GateAdminSet"
	TypeTransferFeeUpdated      = "TransferFeeUpdated"
	TypeTokensTransferred       = "TokensTransferred"
)

// The events below keep the audit log layout consumers already parse.
// Roles and statuses are carried by their variant names ("SupplyController",
// "Pending"); the envelope carries the asset, sequence and time.

type TokenInitialized struct {
	Mint              model.Address `json:"mint"`
	Admin             model.Address `json:"admin"`
	GatekeeperProgram model.Address `json:"gatekeeper_program"`
	Name              string        `json:"name"`
	Symbol            string        `json:"symbol"`
	URI               string        `json:"uri"`
}

type PauseToggled struct {
	IsPaused  bool          `json:"is_paused"`
	Authority model.Address `json:"authority"`
}

// TokensMinted names both the recipient's holder account (To) and its owner
// (Recipient). Authority is the mint authority the custody program signs with.
type TokensMinted struct {
	Mint      model.Address `json:"mint"`
	To        model.Address `json:"to"`
	Amount    uint64        `json:"amount"`
	Authority model.Address `json:"authority"`
	Recipient model.Address `json:"recipient"`
}

type RedemptionRequested struct {
	User      model.Address `json:"user"`
	RequestID uint64        `json:"request_id"`
	Amount    uint64        `json:"amount"`
	Timestamp int64         `json:"timestamp"`
}

type RedemptionFulfilled struct {
	User      model.Address `json:"user"`
	RequestID uint64        `json:"request_id"`
	Amount    uint64        `json:"amount"`
	Timestamp int64         `json:"timestamp"`
}

type RedemptionCancelled struct {
	User        model.Address `json:"user"`
	RequestID   uint64        `json:"request_id"`
	Amount      uint64        `json:"amount"`
	Timestamp   int64         `json:"timestamp"`
	CancelledBy model.Address `json:"cancelled_by"`
}

type RedemptionStatusUpdated struct {
	User      model.Address `json:"user"`
	RequestID uint64        `json:"request_id"`
	OldStatus string        `json:"old_status"`
	NewStatus string        `json:"new_status"`
}

// TokensWiped.Authority is the permanent delegate that burned the tokens,
// not the asset protector who asked for it.
type TokensWiped struct {
	TargetUser model.Address `json:"target_user"`
	Amount     uint64        `json:"amount"`
	Authority  model.Address `json:"authority"`
}

type RoleAssigned struct {
	User      model.Address `json:"user"`
	Role      string        `json:"role"`
	Authority model.Address `json:"authority"`
}

type RoleRemoved struct {
	User      model.Address `json:"user"`
	Role      string        `json:"role"`
	Authority model.Address `json:"authority"`
}

type AdminSet struct {
	Admin model.Address `json:"admin"`
}

// AuthorityTypeMintTokens is the only authority the custody program rotates.
const AuthorityTypeMintTokens = "MintTokens"

type AuthorityTransferred struct {
	AuthorityType string        `json:"authority_type"`
	OldAuthority  model.Address `json:"old_authority"`
	NewAuthority  model.Address `json:"new_authority"`
	TransferredBy model.Address `json:"transferred_by"`
}

type AddressBlacklisted struct {
	Address   model.Address `json:"address"`
	AddedBy   model.Address `json:"added_by"`
	Timestamp int64         `json:"timestamp"`
}

type AddressUnblacklisted struct {
	Address   model.Address `json:"address"`
	RemovedBy model.Address `json:"removed_by"`
	Timestamp int64         `json:"timestamp"`
}

type GateAdminSet struct {
	OldAdmin  model.Address `json:"old_admin"`
	NewAdmin  model.Address `json:"new_admin"`
	Timestamp int64         `json:"timestamp"`
}

type TransferFeeUpdated struct {
	BasisPoints uint16        `json:"basis_points"`
	MaximumFee  uint64        `json:"maximum_fee"`
	UpdatedBy   model.Address `json:"updated_by"`
	Timestamp   int64         `json:"timestamp"`
}

type TokensTransferred struct {
	From      model.Address `json:"from"`
	To        model.Address `json:"to"`
	Amount    uint64        `json:"amount"`
	Fee       uint64        `json:"fee"`
	Timestamp int64         `json:"timestamp"`
}

func (TokenInitialized) EventType() string        { return TypeTokenInitialized }
func (PauseToggled) EventType() string            { return TypePauseToggled }
func (TokensMinted) EventType() string            { return TypeTokensMinted }
func (RedemptionRequested) EventType() string     { return TypeRedemptionRequested }
func (RedemptionStatusUpdated) EventType() string { return TypeRedemptionStatusUpdated }
func (RedemptionFulfilled) EventType() string     { return TypeRedemptionFulfilled }
func (RedemptionCancelled) EventType() string     { return TypeRedemptionCancelled }
func (TokensWiped) EventType() string             { return TypeTokensWiped }
func (RoleAssigned) EventType() string            { return TypeRoleAssigned }
func (RoleRemoved) EventType() string             { return TypeRoleRemoved }
func (AdminSet) EventType() string                { return TypeAdminSet }
func (AuthorityTransferred) EventType() string    { return TypeAuthorityTransferred }
func (AddressBlacklisted) EventType() string      { return TypeAddressBlacklisted }
func (AddressUnblacklisted) EventType() string    { return TypeAddressUnblacklisted }
func (GateAdminSet) EventType() string            { return TypeGateAdminSet }
func (TransferFeeUpdated) EventType() string      { return TypeTransferFeeUpdated }
func (TokensTransferred) EventType() string       { return TypeTokensTransferred }
