// Package registry implements the Symbol Registry and Allowlist Filter:
// mapping the source venue's short coin name to the destination venue's
// contract symbol, and deciding whether a coin is permitted for an account.
package registry

import "github.com/shopspring/decimal"

// Symbol describes one destination-venue contract: its lot constraints and
// whether the destination even lists it.
type Symbol struct {
	Contract string          // destination-venue symbol, e.g. "BTCUSDT"
	MinQty   decimal.Decimal // minimum order quantity
	QtyStep  decimal.Decimal // quantity increment
	PriceTick decimal.Decimal // price increment
	Listed   bool
}

// Registry maps a source coin name (e.g. "BTC") to its destination Symbol.
type Registry struct {
	symbols map[string]Symbol
}

// New creates a registry from a coin→Symbol map, typically loaded from
// config or a destination-venue instruments query.
func New(symbols map[string]Symbol) *Registry {
	cp := make(map[string]Symbol, len(symbols))
	for k, v := range symbols {
		cp[k] = v
	}
	return &Registry{symbols: cp}
}

// Lookup returns the destination Symbol for coin, if the registry knows it.
func (r *Registry) Lookup(coin string) (Symbol, bool) {
	s, ok := r.symbols[coin]
	return s, ok
}

// Listed reports whether the destination venue lists coin at all.
func (r *Registry) Listed(coin string) bool {
	s, ok := r.symbols[coin]
	return ok && s.Listed
}

// ClampQty rounds qty down to the nearest multiple of the symbol's quantity
// step, returning zero if the result is below the minimum lot.
func (r *Registry) ClampQty(coin string, qty decimal.Decimal) decimal.Decimal {
	s, ok := r.symbols[coin]
	if !ok || s.QtyStep.IsZero() {
		return decimal.Zero
	}
	steps := qty.Div(s.QtyStep).Floor()
	clamped := steps.Mul(s.QtyStep)
	if clamped.LessThan(s.MinQty) {
		return decimal.Zero
	}
	return clamped
}
