package model

// Seed prefixes for derived record and authority addresses.
const (
	SeedConfig            = "config"
	SeedMintAuthority     = "mint_authority"
	SeedUserRole          = "user_role"
	SeedRedemptionRequest = "redemption_request"
	SeedRedemptionEscrow  = "redemption_pda"
	SeedHolderAccount     = "holder_account"
)

// Programs names the program identities that own derived addresses.
type Programs struct {
	Custody Address
	Gate    Address
	Ledger  Address
}

func mustDerive(seeds [][]byte, program Address) Address {
	addr, _, err := FindProgramAddress(seeds, program)
	if err != nil {
		// Only reachable with malformed seeds, which the helpers below never build.
		panic(err)
	}
	return addr
}

// CustodyConfigAddress is the record address of the per-asset config.
func (p Programs) CustodyConfigAddress(asset Address) Address {
	return mustDerive([][]byte{[]byte(SeedConfig), asset[:]}, p.Custody)
}

// DefaultMintAuthority is the keyless authority the custody program mints with
// until the authority is rotated away.
func (p Programs) DefaultMintAuthority(asset Address) Address {
	return mustDerive([][]byte{[]byte(SeedMintAuthority), asset[:]}, p.Custody)
}

func (p Programs) RoleGrantAddress(asset, subject Address, role Role) Address {
	return mustDerive([][]byte{[]byte(SeedUserRole), asset[:], subject[:], {byte(role)}}, p.Custody)
}

func (p Programs) RedemptionRequestAddress(requester Address, id uint64) Address {
	return mustDerive([][]byte{[]byte(SeedRedemptionRequest), requester[:], u64LE(id)}, p.Custody)
}

// EscrowAuthority is the delegate that holds spending rights for request id.
// It has no private key and is reconstructible only from (requester, id).
func (p Programs) EscrowAuthority(requester Address, id uint64) Address {
	return mustDerive([][]byte{[]byte(SeedRedemptionEscrow), requester[:], u64LE(id)}, p.Custody)
}

func (p Programs) GatekeeperConfigAddress(asset Address) Address {
	return mustDerive([][]byte{[]byte(SeedConfig), asset[:]}, p.Gate)
}

func (p Programs) HolderAccountAddress(owner, asset Address) Address {
	return mustDerive([][]byte{[]byte(SeedHolderAccount), owner[:], asset[:]}, p.Ledger)
}
