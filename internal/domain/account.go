package domain

import (
	"fmt"
	"strings"
)

type CoreAccount string

const (
	AccountAssetTreasury    CoreAccount = "ASSET_TREASURY"
	AccountLiabilityReserve CoreAccount = "LIABILITY_RESERVE"
	AccountExpenseClaims    CoreAccount = "EXPENSE_CLAIMS"
)

const poolAccountPrefix = "LIABILITY_POOL:"

// PoolIDPrefix is the naming convention enforced on liquidity pool
// identifiers submitted by external systems.
const PoolIDPrefix = "pool_"

// Account is either one of the fixed system accounts or a per-pool liability
// account. Exactly one of Core and PoolID is set; string pattern matching on
// account names happens only in ParseAccount at the boundary.
type Account struct {
	Core   CoreAccount
	PoolID string
}

func CoreAccountOf(core CoreAccount) Account {
	return Account{Core: core}
}

func PoolAccount(poolID string) Account {
	return Account{PoolID: poolID}
}

func (a Account) IsPool() bool {
	return a.PoolID != ""
}

func (a Account) String() string {
	if a.IsPool() {
		return poolAccountPrefix + a.PoolID
	}
	return string(a.Core)
}

func (a Account) Validate() error {
	if a.IsPool() {
		if a.Core != "" {
			return &InvalidAccountError{Account: a.String(), Reason: "account cannot be both a core account and a pool account"}
		}
		if err := ValidatePoolID(a.PoolID); err != nil {
			return &InvalidAccountError{Account: a.String(), Reason: err.Error()}
		}
		return nil
	}

	switch a.Core {
	case AccountAssetTreasury, AccountLiabilityReserve, AccountExpenseClaims:
		return nil
	default:
		return &InvalidAccountError{Account: a.String(), Reason: "unrecognized system account"}
	}
}

func ParseAccount(raw string) (Account, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Account{}, &InvalidAccountError{Account: raw, Reason: "account is required"}
	}

	if strings.HasPrefix(value, poolAccountPrefix) {
		account := PoolAccount(strings.TrimPrefix(value, poolAccountPrefix))
		if err := account.Validate(); err != nil {
			return Account{}, err
		}
		return account, nil
	}

	account := CoreAccountOf(CoreAccount(value))
	if err := account.Validate(); err != nil {
		return Account{}, err
	}
	return account, nil
}

func ValidatePoolID(poolID string) error {
	trimmed := strings.TrimSpace(poolID)
	if !strings.HasPrefix(trimmed, PoolIDPrefix) {
		return fmt.Errorf("pool id must start with %q", PoolIDPrefix)
	}
	suffix := strings.TrimPrefix(trimmed, PoolIDPrefix)
	if suffix == "" {
		return fmt.Errorf("pool id must not be empty after the %q prefix", PoolIDPrefix)
	}
	for _, ch := range suffix {
		if (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') && ch != '_' {
			return fmt.Errorf("pool id may contain only lowercase letters, digits and underscores")
		}
	}
	return nil
}
