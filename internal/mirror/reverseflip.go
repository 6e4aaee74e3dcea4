package mirror

import (
	"context"
	"fmt"
	"time"

	"mirror-engine/internal/sizing"
	"mirror-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// ReverseFlipOutcome reports how far a reverse flip got, so the caller can
// notify and update ClosedSymbolSet correctly.
type ReverseFlipOutcome struct {
	Closed bool // step 2 (flatten opposite side) succeeded
	Opened bool // step 3 (open new side) succeeded
	Memo   ForcedLiquidationMemo
}

// ReverseFlip executes "flatten opposite side, then open new side" as one
// logical action (§4.4). Steps 2 and 3 are not atomic: a step-2 failure
// aborts with no position change; a step-3 failure after a successful
// step-2 returns a partial outcome so the caller reports "closed but not
// re-opened" rather than silently succeeding.
func ReverseFlip(ctx context.Context, venue VenueAdapter, calc *sizing.Calculator, symbol, coin string, newSide types.Side, sourceSize, sourcePrice decimal.Decimal) (ReverseFlipOutcome, error) {
	positions, err := venue.Positions(ctx, symbol)
	if err != nil {
		return ReverseFlipOutcome{}, fmt.Errorf("query positions: %w", err)
	}

	oppositeSide := newSide.Opposite()
	var opposite *types.Side
	var oppositeSize decimal.Decimal
	for _, p := range positions {
		if types.Side(p.Side) == oppositeSide {
			size, perr := decimal.NewFromString(p.Size)
			if perr != nil || size.IsZero() {
				continue
			}
			s := oppositeSide
			opposite = &s
			oppositeSize = size
		}
	}

	outcome := ReverseFlipOutcome{}

	if opposite != nil {
		if _, err := venue.ClosePosition(ctx, symbol, *opposite, oppositeSize, true); err != nil {
			// Step 2 failed: abort entirely, no position change.
			return outcome, fmt.Errorf("close opposite side: %w", err)
		}
		outcome.Closed = true
		outcome.Memo = ForcedLiquidationMemo{Time: time.Now(), Kind: MemoFollow, Reason: "reverse flip"}
	} else {
		// Nothing to close — the "close" half of the flip is trivially done.
		outcome.Closed = true
	}

	qty := calc.Quantity(coin, sourceSize, sourcePrice)
	if qty.IsZero() {
		// Sizing policy declined the reopen; this is not a failure of the
		// flip itself, only of the reopen half.
		return outcome, nil
	}

	if _, err := venue.PlaceMarketOrder(ctx, symbol, newSide, qty, ""); err != nil {
		// Step 3 failed after a successful step 2: partial outcome.
		return outcome, fmt.Errorf("reopen new side: %w", err)
	}
	outcome.Opened = true

	return outcome, nil
}
