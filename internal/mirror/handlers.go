package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mirror-engine/internal/registry"
	"mirror-engine/internal/sizing"
	"mirror-engine/internal/venue"
	"mirror-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// fillWaitCeiling and positionZeroRecoveryDelay are the §6 sentinel
// constants governing how long a handler may block.
const (
	fillWaitCeiling           = 30 * time.Second
	fillPollInterval          = 1 * time.Second
	positionZeroRecoveryDelay = 5 * time.Second
)

// LeveragePolicy resolves the configured leverage for a coin: a per-coin
// override table, falling back to a global default (§4.5 "pre-trade:
// ensure leverage on the symbol is the configured maximum").
type LeveragePolicy struct {
	Default   int
	Overrides map[string]int
}

// For returns the leverage to use for coin.
func (p LeveragePolicy) For(coin string) int {
	if lev, ok := p.Overrides[coin]; ok {
		return lev
	}
	return p.Default
}

// Handlers bundles the Mirror Engine's per-event handler contracts (§4.5)
// with the collaborators they need, all supplied explicitly at
// construction time (§9: no global singletons).
type Handlers struct {
	Venue    VenueAdapter
	Calc     *sizing.Calculator
	Registry *registry.Registry
	Leverage LeveragePolicy
	State    *State
	Logger   *slog.Logger

	// OrderUpdates is the optional private order-update stream's output
	// (venue.OrderStream.Updates), consulted by awaitFill purely as a
	// confirmation accelerant — never as the source of truth, which
	// remains the REST Executions query (§4.5). Nil when no stream is
	// configured for this account; a nil channel is a no-op in a select.
	OrderUpdates <-chan venue.OrderUpdate
}

// HandleOpenAdd implements the OPEN/ADD handler contract.
func (h *Handlers) HandleOpenAdd(ctx context.Context, ev SourceFill, symbol string) (EngineEvent, types.Status, error) {
	evt := EngineEvent{Symbol: symbol, Side: ev.Side, Price: ev.Price}

	if status, ok := h.State.Markers[ev.ID]; ok && status.Terminal() {
		evt.Classification = types.ClassOpen
		return evt, status, nil
	}

	qty := h.Calc.Quantity(ev.Coin, decimal.NewFromFloat(ev.Size), decimal.NewFromFloat(ev.Price))
	if qty.IsZero() {
		evt.Reason = "sizing policy returned zero"
		return evt, types.StatusFiltered, NewKindError(types.ErrSizeSkip, fmt.Errorf("%s: computed quantity is zero", ev.Coin))
	}

	leverage := h.Leverage.For(ev.Coin)
	if err := h.Venue.SetLeverage(ctx, symbol, leverage); err != nil {
		return evt, types.StatusFailed, NewKindError(types.ErrVenueTransient, fmt.Errorf("set leverage: %w", err))
	}
	evt.Leverage = leverage

	orderLinkID := fmt.Sprintf("mirror-%d", ev.ID)
	placed, err := h.Venue.PlaceMarketOrder(ctx, symbol, ev.Side, qty, orderLinkID)
	if err != nil {
		return evt, types.StatusFailed, NewKindError(types.ErrVenueTransient, fmt.Errorf("place market order: %w", err))
	}

	filledQty, filledPrice := h.awaitFill(ctx, symbol, orderLinkID, qty, decimal.NewFromFloat(ev.Price))
	evt.Size, _ = filledQty.Float64()
	evt.Price, _ = filledPrice.Float64()

	if ev.OID != "" {
		twap := NewTWAPAggregator(h.State.TWAPs)
		f, _ := filledQty.Float64()
		twap.Followed(ev.OID, f)
		evt.TWAPProgress = twap.Progress(ev.OID)
	}

	if _, notified := h.State.NotifiedOrders[placed.OrderID]; !notified {
		h.State.NotifiedOrders[placed.OrderID] = struct{}{}
		evt.Classification = types.ClassOpen
	}

	return evt, types.StatusProcessed, nil
}

// awaitFill polls executions for orderLinkID up to fillWaitCeiling and
// returns the volume-weighted fill price and total filled quantity,
// falling back to the requested quantity and the event's price if no
// execution is found within the window (§4.5). When the account has a
// private order-update stream wired in, a matching update wakes the loop
// immediately instead of waiting out the rest of fillPollInterval — but the
// REST Executions query above is still what actually resolves the fill; the
// stream only shortens the wait between polls.
func (h *Handlers) awaitFill(ctx context.Context, symbol, orderLinkID string, requestedQty, fallbackPrice decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	deadline := time.Now().Add(fillWaitCeiling)
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	for {
		execs, err := h.Venue.Executions(ctx, symbol, orderLinkID)
		if err == nil && len(execs) > 0 {
			return vwap(execs)
		}

		if time.Now().After(deadline) {
			return requestedQty, fallbackPrice
		}

		select {
		case <-ctx.Done():
			return requestedQty, fallbackPrice
		case <-h.OrderUpdates:
			// Any update wakes the loop early to requery REST above; the
			// stream is not trusted to resolve the fill by itself.
		case <-ticker.C:
		}
	}
}

func vwap(execs []venue.Execution) (qty decimal.Decimal, price decimal.Decimal) {
	totalQty := decimal.Zero
	totalNotional := decimal.Zero
	for _, e := range execs {
		q, err := decimal.NewFromString(e.ExecQty)
		if err != nil {
			continue
		}
		p, err := decimal.NewFromString(e.ExecPrice)
		if err != nil {
			continue
		}
		totalQty = totalQty.Add(q)
		totalNotional = totalNotional.Add(q.Mul(p))
	}
	if totalQty.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	return totalQty, totalNotional.Div(totalQty)
}

// HandleClose implements CLOSE_PARTIAL / CLOSE_FULL (§4.5). full=true means
// CLOSE_FULL; ev.Size is ignored for a full close.
func (h *Handlers) HandleClose(ctx context.Context, ev SourceFill, symbol string, full bool) (EngineEvent, types.Status, error) {
	evt := EngineEvent{Symbol: symbol}

	positions, err := h.Venue.Positions(ctx, symbol)
	if err != nil {
		return evt, types.StatusFailed, NewKindError(types.ErrVenueTransient, fmt.Errorf("query positions: %w", err))
	}

	var anyClosed bool
	var lastErr error
	for _, p := range positions {
		size, perr := decimal.NewFromString(p.Size)
		if perr != nil || size.IsZero() {
			continue
		}
		side := types.Side(p.Side)

		closeQty := size
		isFull := full
		if !full {
			sourceQty := decimal.NewFromFloat(ev.Size)
			closeQty = decimal.Min(sourceQty, size)

			sym, ok := h.Registry.Lookup(ev.Coin)
			if ok && closeQty.LessThan(sym.MinQty) {
				// Promote to full close (§4.5: a reduce falling below the
				// minimum lot is forced to a full close).
				isFull = true
				closeQty = size
			}
		}

		result, err := h.Venue.ClosePosition(ctx, symbol, side, closeQty, isFull)
		if err != nil {
			if venue.IsPositionZero(err) {
				recovered, zerr := h.recoverPositionIsZero(ctx, symbol)
				if zerr == nil && recovered {
					anyClosed = true
					continue
				}
			}
			lastErr = NewKindError(types.ErrVenueBusinessRej, fmt.Errorf("close position: %w", err))
			continue
		}

		anyClosed = true
		pnl, _ := decimal.NewFromString(result.RealizedPnL)
		evt.RealizedPnL, _ = pnl.Float64()
		evt.Side = side
		evt.Size, _ = closeQty.Float64()

		if isFull {
			memo := ForcedLiquidationMemo{Time: time.Now(), Reason: closeReason(full, isFull), Kind: MemoFollow}
			if !full {
				memo.Kind = MemoForced
			}
			h.State.Memos.Set(symbol, side, memo)
		}
	}

	if !anyClosed && lastErr != nil {
		return evt, types.StatusFailed, lastErr
	}
	return evt, types.StatusProcessed, nil
}

func closeReason(requestedFull, executedFull bool) string {
	if executedFull && !requestedFull {
		return "reduce executed as full close due to minimum-lot constraint"
	}
	return "close follows source trader"
}

// recoverPositionIsZero implements the §4.5/§8 recovery path: wait 5s,
// requery; if size is indeed 0, treat as success with zero filled.
func (h *Handlers) recoverPositionIsZero(ctx context.Context, symbol string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(positionZeroRecoveryDelay):
	}

	positions, err := h.Venue.Positions(ctx, symbol)
	if err != nil {
		return false, err
	}
	for _, p := range positions {
		size, perr := decimal.NewFromString(p.Size)
		if perr == nil && !size.IsZero() {
			return false, nil
		}
	}
	return true, nil
}

// HandlePlace implements the PLACE (limit order) handler contract.
func (h *Handlers) HandlePlace(ctx context.Context, ev SourceOrder, symbol string) (EngineEvent, types.Status, error) {
	evt := EngineEvent{Symbol: symbol, Side: ev.Side, Price: ev.Price}

	openOrders, err := h.Venue.OpenOrders(ctx, symbol)
	if err != nil {
		return evt, types.StatusFailed, NewKindError(types.ErrVenueTransient, fmt.Errorf("query open orders: %w", err))
	}
	price := decimal.NewFromFloat(ev.Price)
	for _, o := range openOrders {
		if types.Side(o.Side) != ev.Side {
			continue
		}
		oPrice, perr := decimal.NewFromString(o.Price)
		if perr == nil && oPrice.Equal(price) {
			return evt, types.StatusFiltered, nil
		}
	}

	qty := h.Calc.Quantity(ev.Coin, decimal.NewFromFloat(ev.Size), price)
	if qty.IsZero() {
		return evt, types.StatusFiltered, NewKindError(types.ErrSizeSkip, fmt.Errorf("%s: computed quantity is zero", ev.Coin))
	}

	leverage := h.Leverage.For(ev.Coin)
	if err := h.Venue.SetLeverage(ctx, symbol, leverage); err != nil {
		return evt, types.StatusFailed, NewKindError(types.ErrVenueTransient, fmt.Errorf("set leverage: %w", err))
	}

	result, err := h.Venue.PlaceLimitOrder(ctx, symbol, ev.Side, qty, price, "")
	if err != nil {
		return evt, types.StatusFailed, NewKindError(types.ErrVenueTransient, fmt.Errorf("place limit order: %w", err))
	}

	h.State.OrderIDMap[ev.OrderID] = result.OrderID
	evt.Leverage = leverage
	evt.Size, _ = qty.Float64()
	return evt, types.StatusProcessed, nil
}

// HandleCancel implements the CANCEL handler contract.
func (h *Handlers) HandleCancel(ctx context.Context, ev SourceOrder, symbol string) (EngineEvent, types.Status, error) {
	evt := EngineEvent{Symbol: symbol, Side: ev.Side, Price: ev.Price}

	destOrderID, ok := h.State.OrderIDMap[ev.OrderID]
	if !ok {
		openOrders, err := h.Venue.OpenOrders(ctx, symbol)
		if err != nil {
			return evt, types.StatusFailed, NewKindError(types.ErrVenueTransient, fmt.Errorf("query open orders: %w", err))
		}
		price := decimal.NewFromFloat(ev.Price)
		for _, o := range openOrders {
			if types.Side(o.Side) != ev.Side {
				continue
			}
			oPrice, perr := decimal.NewFromString(o.Price)
			if perr == nil && oPrice.Sub(price).Abs().LessThanOrEqual(decimal.NewFromFloat(0.01)) {
				destOrderID = o.OrderID
				ok = true
				break
			}
		}
	}

	if !ok {
		// No map entry and nothing found on the book: no-op success.
		return evt, types.StatusProcessed, nil
	}

	if err := h.Venue.CancelOrder(ctx, symbol, destOrderID); err != nil {
		return evt, types.StatusFailed, NewKindError(types.ErrVenueTransient, fmt.Errorf("cancel order: %w", err))
	}

	delete(h.State.OrderIDMap, ev.OrderID)
	return evt, types.StatusProcessed, nil
}

// retryable classifies an error from one of the Handlers methods as worth
// retrying under the §4.8 retry policy: only VenueTransient errors are.
func retryable(err error) bool {
	return KindOf(err) == types.ErrVenueTransient
}

// RetryPresetFor returns the preset the retry decorator should use for a
// classification — position-affecting operations use the critical budget.
func RetryPresetFor(c types.Classification) types.RetryPreset {
	switch c {
	case types.ClassOpen, types.ClassAdd, types.ClassTWAPSlice, types.ClassCloseFull, types.ClassClosePartial, types.ClassReverseFlip:
		return types.RetryCritical
	default:
		return types.RetryAPI
	}
}
