package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is a named privilege. Holding a RoleGrant for it is the capability.
type Role uint8

const (
	RoleSupplyController Role = iota
	RoleAssetProtector
	RoleFeeController
	RoleDefaultAdmin
)

var roleNames = map[Role]string{
	RoleSupplyController: "supply_controller",
	RoleAssetProtector:   "asset_protector",
	RoleFeeController:    "fee_controller",
	RoleDefaultAdmin:     "default_admin",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

var roleLabels = map[Role]string{
	RoleSupplyController: "SupplyController",
	RoleAssetProtector:   "AssetProtector",
	RoleFeeController:    "FeeController",
	RoleDefaultAdmin:     "DefaultAdmin",
}

// Label is the variant name used in audit events.
func (r Role) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return r.String()
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole accepts the snake_case name or the numeric tag.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, n := range roleNames {
		if n == s || fmt.Sprintf("%d", uint8(r)) == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// AllRoles lists every defined role in tag order.
func AllRoles() []Role {
	return []Role{RoleSupplyController, RoleAssetProtector, RoleFeeController, RoleDefaultAdmin}
}

type RoleGrant struct {
	Address   Address   `json:"address"`
	Asset     Address   `json:"asset"`
	Subject   Address   `json:"subject"`
	Role      Role      `json:"role"`
	GrantedBy Address   `json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`
}
