package model

import "time"

// MaxFeeBasisPoints is 100%.
const MaxFeeBasisPoints = 10_000

// Mint is the asset as the underlying ledger sees it.
type Mint struct {
	Address           Address   `json:"address"`
	Decimals          uint8     `json:"decimals"`
	Supply            uint64    `json:"supply"`
	MintAuthority     Address   `json:"mint_authority"`
	PermanentDelegate Address   `json:"permanent_delegate"`
	HookProgram       Address   `json:"hook_program"`
	FeeBasisPoints    uint16    `json:"fee_basis_points"`
	MaximumFee        uint64    `json:"maximum_fee"`
	CreatedAt         time.Time `json:"created_at"`
}

// TransferFee is min(ceil(amount*bps/10000), MaximumFee).
func (m *Mint) TransferFee(amount uint64) uint64 {
	if m.FeeBasisPoints == 0 || amount == 0 {
		return 0
	}
	bps := uint64(m.FeeBasisPoints)
	if bps > MaxFeeBasisPoints {
		bps = MaxFeeBasisPoints
	}
	hi, lo := mul64(amount, bps)
	fee, rem := div128(hi, lo, MaxFeeBasisPoints)
	if rem != 0 {
		fee++
	}
	if fee > m.MaximumFee {
		return m.MaximumFee
	}
	return fee
}

// HolderAccount is a holder's balance cell for one asset.
type HolderAccount struct {
	Address Address `json:"address"`
	Owner   Address `json:"owner"`
	Mint    Address `json:"mint"`
	Amount  uint64  `json:"amount"`
	// Delegations maps delegate -> remaining allowance. Each redemption
	// request holds its own entry.
	Delegations map[Address]uint64 `json:"delegations,omitempty"`
	// Escrowed is the running total committed to open redemption requests.
	Escrowed     uint64    `json:"escrowed"`
	WithheldFees uint64    `json:"withheld_fees"`
	CreatedAt    time.Time `json:"created_at"`
}

// Available is Amount - Escrowed, floored at zero.
func (a *HolderAccount) Available() uint64 {
	if a.Escrowed >= a.Amount {
		return 0
	}
	return a.Amount - a.Escrowed
}

func (a *HolderAccount) Clone() *HolderAccount {
	c := *a
	if a.Delegations != nil {
		c.Delegations = make(map[Address]uint64, len(a.Delegations))
		for k, v := range a.Delegations {
			c.Delegations[k] = v
		}
	}
	return &c
}
