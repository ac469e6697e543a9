package model

import (
	"fmt"
	"strings"
	"time"
)

type RedemptionStatus uint8

const (
	RedemptionPending RedemptionStatus = iota
	RedemptionProcessing
	RedemptionFulfilled
	RedemptionCancelled
)

func (s RedemptionStatus) String() string {
	switch s {
	case RedemptionPending:
		return "pending"
	case RedemptionProcessing:
		return "processing"
	case RedemptionFulfilled:
		return "fulfilled"
	case RedemptionCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Label is the variant name used in audit events.
func (s RedemptionStatus) Label() string {
	switch s {
	case RedemptionPending:
		return "Pending"
	case RedemptionProcessing:
		return "Processing"
	case RedemptionFulfilled:
		return "Fulfilled"
	case RedemptionCancelled:
		return "Cancelled"
	default:
		return s.String()
	}
}

// Terminal reports whether no further transition is possible.
func (s RedemptionStatus) Terminal() bool {
	return s == RedemptionFulfilled || s == RedemptionCancelled
}

// CanTransition encodes Pending -> Processing -> Fulfilled and
// Pending -> Cancelled. Everything else is rejected.
func (s RedemptionStatus) CanTransition(to RedemptionStatus) bool {
	switch s {
	case RedemptionPending:
		return to == RedemptionProcessing || to == RedemptionCancelled
	case RedemptionProcessing:
		return to == RedemptionFulfilled
	default:
		return false
	}
}

func ParseRedemptionStatus(s string) (RedemptionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return RedemptionPending, nil
	case "processing":
		return RedemptionProcessing, nil
	case "fulfilled":
		return RedemptionFulfilled, nil
	case "cancelled", "canceled":
		return RedemptionCancelled, nil
	}
	return 0, fmt.Errorf("unknown redemption status %q", s)
}

func (s RedemptionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RedemptionStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseRedemptionStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RedemptionMethod is how the holder wants the off-system asset delivered.
type RedemptionMethod string

const (
	RedemptionMethodUnspecified      RedemptionMethod = ""
	RedemptionMethodPhysicalDelivery RedemptionMethod = "physical_delivery"
	RedemptionMethodCashSettlement   RedemptionMethod = "cash_settlement"
)

func (m RedemptionMethod) Valid() bool {
	switch m {
	case RedemptionMethodUnspecified, RedemptionMethodPhysicalDelivery, RedemptionMethodCashSettlement:
		return true
	}
	return false
}

type RedemptionRequest struct {
	Address         Address          `json:"address"`
	Asset           Address          `json:"asset"`
	ID              uint64           `json:"id"`
	Requester       Address          `json:"requester"`
	Amount          uint64           `json:"amount"`
	Status          RedemptionStatus `json:"status"`
	EscrowAuthority Address          `json:"escrow_authority"`
	Method          RedemptionMethod `json:"method,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	RequestedAt     time.Time        `json:"requested_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// RedemptionFilter narrows request listings. Zero values match everything.
type RedemptionFilter struct {
	Requester *Address
	Status    *RedemptionStatus
	Limit     int
}

func (f RedemptionFilter) Matches(r *RedemptionRequest) bool {
	if f.Requester != nil && r.Requester != *f.Requester {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	return true
}
