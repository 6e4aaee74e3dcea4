// Package sizing implements the Position Calculator: turns a source fill's
// size and price, plus an account's sizing policy, into a destination-venue
// order quantity.
package sizing

import (
	"mirror-engine/internal/registry"
	"mirror-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// Policy is one account's sizing configuration (§4.2).
type Policy struct {
	Mode                       types.SizingMode
	FixedAmount                decimal.Decimal // USD, fixed mode
	BaseMarginAmount           decimal.Decimal // ratio, ratio mode
	MinCopyValue               decimal.Decimal // USD floor
	ForceMinAmountOnSmallOrder bool
}

// Calculator computes destination order quantities under a Policy, clamped
// to the destination symbol's lot constraints via the Symbol Registry.
type Calculator struct {
	Policy   Policy
	Registry *registry.Registry
}

// New builds a Calculator for one account's policy.
func New(policy Policy, reg *registry.Registry) *Calculator {
	return &Calculator{Policy: policy, Registry: reg}
}

// Quantity returns the destination order quantity for a fill of sourceSize
// at sourcePrice on coin. Zero means "do not trade" — either the sizing
// policy floored it out, or the registry has no lot info for coin.
func (c *Calculator) Quantity(coin string, sourceSize, sourcePrice decimal.Decimal) decimal.Decimal {
	var notional decimal.Decimal
	switch c.Policy.Mode {
	case types.SizingFixed:
		notional = c.Policy.FixedAmount
	case types.SizingRatio:
		notional = sourceSize.Mul(sourcePrice).Mul(c.Policy.BaseMarginAmount)
	default:
		return decimal.Zero
	}

	if notional.LessThan(c.Policy.MinCopyValue) {
		if c.Policy.ForceMinAmountOnSmallOrder {
			notional = c.Policy.MinCopyValue
		} else {
			return decimal.Zero
		}
	}

	if sourcePrice.IsZero() {
		return decimal.Zero
	}
	qty := notional.Div(sourcePrice)

	if c.Registry == nil {
		return qty
	}
	return c.Registry.ClampQty(coin, qty)
}
