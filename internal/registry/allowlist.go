package registry

// Allowlist composes with the Symbol Registry: "is this coin permitted for
// this account". When Enabled is false, the registry's Listed check alone
// decides (§4.1 rule 3).
type Allowlist struct {
	Enabled bool
	Coins   map[string]bool // coin -> enabled flag
}

// NewAllowlist builds an allowlist from a coin->enabled map.
func NewAllowlist(enabled bool, coins map[string]bool) *Allowlist {
	cp := make(map[string]bool, len(coins))
	for k, v := range coins {
		cp[k] = v
	}
	return &Allowlist{Enabled: enabled, Coins: cp}
}

// Permitted reports whether coin passes the allowlist. When the allowlist is
// disabled, every coin is permitted by the allowlist itself — the caller
// still must separately check registry listing (§4.1 rule 3's "OR" clause).
func (a *Allowlist) Permitted(coin string) bool {
	if !a.Enabled {
		return true
	}
	return a.Coins[coin]
}
