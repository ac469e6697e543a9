package model

import "time"

// CustodyConfig is the per-asset singleton. It alone owns the pause flag and
// the redemption id counter.
type CustodyConfig struct {
	Address           Address   `json:"address"`
	Asset             Address   `json:"asset"`
	Admin             Address   `json:"admin"`
	MintAuthority     Address   `json:"mint_authority"`
	GateProgram       Address   `json:"gate_program"`
	Paused            bool      `json:"paused"`
	RedemptionCounter uint64    `json:"redemption_counter"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NextRedemptionID returns counter+1, or false when the counter is exhausted.
func (c *CustodyConfig) NextRedemptionID() (uint64, bool) {
	if c.RedemptionCounter == ^uint64(0) {
		return 0, false
	}
	return c.RedemptionCounter + 1, true
}

// GatekeeperConfig is the transfer gate's own config. Its admin starts equal
// to the custody admin and may be rotated independently.
type GatekeeperConfig struct {
	Address   Address   `json:"address"`
	Asset     Address   `json:"asset"`
	Admin     Address   `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

type BlacklistEntry struct {
	Asset   Address   `json:"asset"`
	Address Address   `json:"address"`
	AddedBy Address   `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}
