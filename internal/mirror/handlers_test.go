package mirror

import (
	"context"
	"testing"
	"time"

	"mirror-engine/internal/registry"
	"mirror-engine/internal/sizing"
	"mirror-engine/internal/venue"
	"mirror-engine/pkg/types"

	"github.com/shopspring/decimal"
)

func btcHandlers(fv *fakeVenue) *Handlers {
	reg := registry.New(map[string]registry.Symbol{
		"BTC": {Contract: "BTCUSDT", MinQty: decimal.NewFromFloat(0.001), QtyStep: decimal.NewFromFloat(0.001), Listed: true},
	})
	calc := sizing.New(sizing.Policy{
		Mode:             types.SizingRatio,
		BaseMarginAmount: decimal.NewFromFloat(1.0),
		MinCopyValue:     decimal.Zero,
	}, reg)
	return &Handlers{
		Venue:    fv,
		Calc:     calc,
		Registry: reg,
		Leverage: LeveragePolicy{Default: 5},
		State:    NewState(),
	}
}

// TestHandleOpenAdd_AtMostOnceDispatch covers invariant 1: a fill already
// marked terminal is never re-dispatched to the venue.
func TestHandleOpenAdd_AtMostOnceDispatch(t *testing.T) {
	t.Parallel()
	fv := &fakeVenue{}
	h := btcHandlers(fv)
	ev := SourceFill{ID: 42, Coin: "BTC", Side: types.Buy, Size: 0.1, Price: 50000}
	h.State.Markers[42] = types.StatusProcessed

	_, status, err := h.HandleOpenAdd(context.Background(), ev, "BTCUSDT")
	if err != nil {
		t.Fatalf("HandleOpenAdd() error = %v", err)
	}
	if status != types.StatusProcessed {
		t.Errorf("status = %v, want Processed (cached marker)", status)
	}
	if len(fv.placedOrders) != 0 {
		t.Errorf("placedOrders = %+v, want none (already-terminal fill must not re-dispatch)", fv.placedOrders)
	}
}

// TestHandlePlace_OrderIDMapRoundTrip covers invariant 6: a PLACE followed
// by a CANCEL resolves through OrderIDMap, not a book scan.
func TestHandlePlace_OrderIDMapRoundTrip(t *testing.T) {
	t.Parallel()
	fv := &fakeVenue{}
	h := btcHandlers(fv)

	placeEv := SourceOrder{OrderID: "src-1", Coin: "BTC", Side: types.Buy, Size: 0.1, Price: 50000}
	_, status, err := h.HandlePlace(context.Background(), placeEv, "BTCUSDT")
	if err != nil {
		t.Fatalf("HandlePlace() error = %v", err)
	}
	if status != types.StatusProcessed {
		t.Fatalf("status = %v, want Processed", status)
	}
	destID, ok := h.State.OrderIDMap["src-1"]
	if !ok || destID != "ord-1" {
		t.Fatalf("OrderIDMap[src-1] = %q, %v, want ord-1, true", destID, ok)
	}

	cancelEv := SourceOrder{OrderID: "src-1", Coin: "BTC", Side: types.Buy, Size: 0.1, Price: 50000}
	_, status, err = h.HandleCancel(context.Background(), cancelEv, "BTCUSDT")
	if err != nil {
		t.Fatalf("HandleCancel() error = %v", err)
	}
	if status != types.StatusProcessed {
		t.Fatalf("status = %v, want Processed", status)
	}
	if len(fv.canceled) != 1 || fv.canceled[0] != "ord-1" {
		t.Errorf("canceled = %+v, want [ord-1] (resolved via OrderIDMap)", fv.canceled)
	}
	if _, ok := h.State.OrderIDMap["src-1"]; ok {
		t.Errorf("OrderIDMap[src-1] still present after cancel succeeded")
	}
}

// TestHandleClose_PositionIsZeroRecovery covers the failure half of the
// invariant-8 recovery path: after a position-is-zero business reject the
// handler waits before requerying, and when the requery still shows an open
// position it reports failure rather than success.
func TestHandleClose_PositionIsZeroRecovery(t *testing.T) {
	t.Parallel()
	fv := &fakeVenue{
		positions: []venue.Position{{Symbol: "BTCUSDT", Side: "Buy", Size: "0.2"}},
		closeErr:  venue.NewPositionIsZeroError(),
	}
	h := btcHandlers(fv)

	ev := SourceFill{ID: 7, Coin: "BTC", Side: types.Sell, Size: 0.2, StartPosition: 0.2}

	start := time.Now()
	_, status, err := h.HandleClose(context.Background(), ev, "BTCUSDT", true)
	elapsed := time.Since(start)

	if elapsed < positionZeroRecoveryDelay {
		t.Errorf("elapsed = %v, want >= %v (recovery must wait before requery)", elapsed, positionZeroRecoveryDelay)
	}
	// The fake's Positions() call is not mutated to reflect the close, so the
	// requery still reports 0.2 and the recovery path correctly reports
	// failure rather than false success.
	if err == nil {
		t.Fatalf("HandleClose() error = nil, want failure (fake position was never actually zeroed)")
	}
	if status != types.StatusFailed {
		t.Errorf("status = %v, want Failed", status)
	}
}

// TestHandleClose_PositionIsZeroRecoverySucceeds exercises the success path
// of invariant 8 directly: once the requery shows size 0, the handler
// reports success with no error.
func TestHandleClose_PositionIsZeroRecoverySucceeds(t *testing.T) {
	t.Parallel()
	fv := &flatteningVenue{
		before: []venue.Position{{Symbol: "BTCUSDT", Side: "Buy", Size: "0.2"}},
	}
	h := btcHandlers(nil)
	h.Venue = fv

	ev := SourceFill{ID: 8, Coin: "BTC", Side: types.Sell, Size: 0.2, StartPosition: 0.2}
	_, status, err := h.HandleClose(context.Background(), ev, "BTCUSDT", true)
	if err != nil {
		t.Fatalf("HandleClose() error = %v, want nil (recovery confirms flat)", err)
	}
	if status != types.StatusProcessed {
		t.Errorf("status = %v, want Processed", status)
	}
}

// TestHandleClose_ReduceBelowMinLotForcesFullClose covers S4: a reduce
// whose close quantity falls below the minimum lot is promoted to a
// full close and recorded with ForcedLiquidationMemoKind "forced".
func TestHandleClose_ReduceBelowMinLotForcesFullClose(t *testing.T) {
	t.Parallel()
	fv := &fakeVenue{
		positions: []venue.Position{{Symbol: "BTCUSDT", Side: "Buy", Size: "0.0015"}},
	}
	h := btcHandlers(fv)

	// min(source_size, position_size) = min(0.0005, 0.0015) = 0.0005, below
	// the registry's 0.001 minimum lot, so the reduce is promoted to a full
	// close of the entire 0.0015 position (S4).
	ev := SourceFill{ID: 9, Coin: "BTC", Side: types.Sell, Size: 0.0005, StartPosition: 0.0015}
	_, status, err := h.HandleClose(context.Background(), ev, "BTCUSDT", false)
	if err != nil {
		t.Fatalf("HandleClose() error = %v", err)
	}
	if status != types.StatusProcessed {
		t.Fatalf("status = %v, want Processed", status)
	}
	if len(fv.closedPositions) != 1 || !fv.closedPositions[0].Full {
		t.Fatalf("closedPositions = %+v, want one full close (forced by min-lot)", fv.closedPositions)
	}
	if !fv.closedPositions[0].Qty.Equal(decimal.NewFromFloat(0.0015)) {
		t.Errorf("closed qty = %s, want the full 0.0015 position", fv.closedPositions[0].Qty)
	}
	memo, ok := h.State.Memos.Get("BTCUSDT", types.Buy)
	if !ok || memo.Kind != MemoForced {
		t.Errorf("memo = %+v, %v, want Kind=forced", memo, ok)
	}
}

// TestHandleClose_GenuinePartialReduceWritesNoMemo covers spec.md §3/§4.5:
// a ForcedLiquidationMemo is written only when the close actually executes
// full (whether requested full or promoted by the min-lot check) — an
// ordinary partial reduce that stays partial must leave no memo behind.
func TestHandleClose_GenuinePartialReduceWritesNoMemo(t *testing.T) {
	t.Parallel()
	fv := &fakeVenue{
		positions: []venue.Position{{Symbol: "BTCUSDT", Side: "Buy", Size: "1.0"}},
	}
	h := btcHandlers(fv)

	ev := SourceFill{ID: 11, Coin: "BTC", Side: types.Sell, Size: 0.1, StartPosition: 1.0}
	_, status, err := h.HandleClose(context.Background(), ev, "BTCUSDT", false)
	if err != nil {
		t.Fatalf("HandleClose() error = %v", err)
	}
	if status != types.StatusProcessed {
		t.Fatalf("status = %v, want Processed", status)
	}
	if len(fv.closedPositions) != 1 || fv.closedPositions[0].Full {
		t.Fatalf("closedPositions = %+v, want one partial close", fv.closedPositions)
	}
	if _, ok := h.State.Memos.Get("BTCUSDT", types.Buy); ok {
		t.Error("memo present after a genuine partial reduce, want none")
	}
}

// TestHandleOpenAdd_DuplicateFillNeverReachesVenue covers S5: a fill
// already marked duplicate never triggers a venue call. Classify is the
// component responsible for detecting the duplicate tx_hash; this test
// confirms the handler layer also refuses to act on an already-terminal
// marker, which is what the worker loop relies on to keep S5 true end to
// end regardless of which layer catches it first.
func TestHandleOpenAdd_DuplicateFillNeverReachesVenue(t *testing.T) {
	t.Parallel()
	fv := &fakeVenue{}
	h := btcHandlers(fv)
	ev := SourceFill{ID: 10, TxHash: "0xabc", Coin: "BTC", Side: types.Buy, Size: 0.1, Price: 50000}
	h.State.Markers[10] = types.StatusDuplicate

	_, status, err := h.HandleOpenAdd(context.Background(), ev, "BTCUSDT")
	if err != nil {
		t.Fatalf("HandleOpenAdd() error = %v", err)
	}
	if status != types.StatusDuplicate {
		t.Errorf("status = %v, want Duplicate (cached)", status)
	}
	if len(fv.placedOrders) != 0 {
		t.Errorf("placedOrders = %+v, want none", fv.placedOrders)
	}
}

// countingVenue wraps fakeVenue to return no executions on the first call
// and a fill on every call after, so tests can tell whether awaitFill woke
// up early (via OrderUpdates) rather than only on its next poll tick.
type countingVenue struct {
	*fakeVenue
	calls int
}

func (v *countingVenue) Executions(ctx context.Context, symbol, orderLinkID string) ([]venue.Execution, error) {
	v.calls++
	if v.calls < 2 {
		return nil, nil
	}
	return []venue.Execution{{ExecQty: "0.1", ExecPrice: "50000"}}, nil
}

// TestAwaitFill_OrderUpdateWakesEarly covers SPEC_FULL.md's order-update
// stream wiring: a pending update on Handlers.OrderUpdates wakes awaitFill's
// wait loop well before the next fillPollInterval tick, even though the
// REST Executions query is still what resolves the actual fill (§4.5 — the
// stream is an accelerant, never the source of truth).
func TestAwaitFill_OrderUpdateWakesEarly(t *testing.T) {
	t.Parallel()
	cv := &countingVenue{fakeVenue: &fakeVenue{}}
	h := btcHandlers(nil)
	h.Venue = cv

	updates := make(chan venue.OrderUpdate, 1)
	updates <- venue.OrderUpdate{OrderLinkID: "link-1"}
	h.OrderUpdates = updates

	start := time.Now()
	qty, price := h.awaitFill(context.Background(), "BTCUSDT", "link-1", decimal.NewFromFloat(0.1), decimal.NewFromFloat(49000))
	elapsed := time.Since(start)

	if elapsed >= fillPollInterval {
		t.Errorf("elapsed = %v, want well under the %v poll interval (the stream update should wake the loop early)", elapsed, fillPollInterval)
	}
	if !qty.Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("qty = %s, want 0.1", qty)
	}
	if !price.Equal(decimal.NewFromFloat(50000)) {
		t.Errorf("price = %s, want 50000", price)
	}
	if cv.calls != 2 {
		t.Errorf("Executions called %d times, want 2 (empty, then filled)", cv.calls)
	}
}

// TestHandleCancel_FallsBackToBookScan covers S6: with no OrderIDMap entry,
// the handler resolves the destination order by scanning open orders for a
// matching symbol/side/price within one cent.
func TestHandleCancel_FallsBackToBookScan(t *testing.T) {
	t.Parallel()
	fv := &fakeVenue{
		openOrders: []venue.OpenOrder{
			{OrderID: "book-1", Symbol: "BTCUSDT", Side: "Buy", Price: "50000.004"},
		},
	}
	h := btcHandlers(fv)

	ev := SourceOrder{OrderID: "src-unknown", Coin: "BTC", Side: types.Buy, Size: 0.1, Price: 50000}
	_, status, err := h.HandleCancel(context.Background(), ev, "BTCUSDT")
	if err != nil {
		t.Fatalf("HandleCancel() error = %v", err)
	}
	if status != types.StatusProcessed {
		t.Fatalf("status = %v, want Processed", status)
	}
	if len(fv.canceled) != 1 || fv.canceled[0] != "book-1" {
		t.Errorf("canceled = %+v, want [book-1] (resolved via book scan)", fv.canceled)
	}
}

// TestHandleCancel_NothingFoundIsNoopSuccess covers the S6 edge case: no map
// entry and no matching resting order is a no-op success, not a failure.
func TestHandleCancel_NothingFoundIsNoopSuccess(t *testing.T) {
	t.Parallel()
	fv := &fakeVenue{}
	h := btcHandlers(fv)

	ev := SourceOrder{OrderID: "src-gone", Coin: "BTC", Side: types.Buy, Size: 0.1, Price: 50000}
	_, status, err := h.HandleCancel(context.Background(), ev, "BTCUSDT")
	if err != nil {
		t.Fatalf("HandleCancel() error = %v", err)
	}
	if status != types.StatusProcessed {
		t.Errorf("status = %v, want Processed (no-op)", status)
	}
	if len(fv.canceled) != 0 {
		t.Errorf("canceled = %+v, want none", fv.canceled)
	}
}
