package mirror

import (
	"context"
	"errors"

	"mirror-engine/internal/venue"
	"mirror-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// fakeVenue is a minimal in-memory VenueAdapter double for handler tests.
type fakeVenue struct {
	positions       []venue.Position
	openOrders      []venue.OpenOrder
	executions      []venue.Execution
	placeErr        error
	closeErr        error
	cancelErr       error
	placedOrders    []placedOrder
	closedPositions []closedPosition
	canceled        []string
}

type placedOrder struct {
	Symbol string
	Side   types.Side
	Qty    decimal.Decimal
	Price  decimal.Decimal
	Link   string
}

type closedPosition struct {
	Symbol string
	Side   types.Side
	Qty    decimal.Decimal
	Full   bool
}

func (f *fakeVenue) Positions(ctx context.Context, symbol string) ([]venue.Position, error) {
	return f.positions, nil
}

func (f *fakeVenue) OpenOrders(ctx context.Context, symbol string) ([]venue.OpenOrder, error) {
	return f.openOrders, nil
}

func (f *fakeVenue) Executions(ctx context.Context, symbol, orderLinkID string) ([]venue.Execution, error) {
	return f.executions, nil
}

func (f *fakeVenue) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, orderLinkID string) (venue.OrderResult, error) {
	if f.placeErr != nil {
		return venue.OrderResult{}, f.placeErr
	}
	f.placedOrders = append(f.placedOrders, placedOrder{Symbol: symbol, Side: side, Qty: qty, Link: orderLinkID})
	return venue.OrderResult{OrderID: "ord-1", OrderLinkID: orderLinkID}, nil
}

func (f *fakeVenue) PlaceLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal, orderLinkID string) (venue.OrderResult, error) {
	if f.placeErr != nil {
		return venue.OrderResult{}, f.placeErr
	}
	f.placedOrders = append(f.placedOrders, placedOrder{Symbol: symbol, Side: side, Qty: qty, Price: price, Link: orderLinkID})
	return venue.OrderResult{OrderID: "ord-1", OrderLinkID: orderLinkID}, nil
}

func (f *fakeVenue) ClosePosition(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, fullClose bool) (venue.CloseResult, error) {
	if f.closeErr != nil {
		return venue.CloseResult{}, f.closeErr
	}
	f.closedPositions = append(f.closedPositions, closedPosition{Symbol: symbol, Side: side, Qty: qty, Full: fullClose})
	return venue.CloseResult{OrderResult: venue.OrderResult{OrderID: "close-1"}, RealizedPnL: "0"}, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

var errFakeVenue = errors.New("fake venue error")

// flatteningVenue simulates a destination venue that rejects a close with
// "position is zero" but has, in fact, already been flattened by the time
// the recovery path requeries it — the success half of invariant 8.
type flatteningVenue struct {
	before  []venue.Position
	queried int
}

func (f *flatteningVenue) Positions(ctx context.Context, symbol string) ([]venue.Position, error) {
	f.queried++
	if f.queried == 1 {
		return f.before, nil
	}
	return nil, nil
}

func (f *flatteningVenue) OpenOrders(ctx context.Context, symbol string) ([]venue.OpenOrder, error) {
	return nil, nil
}

func (f *flatteningVenue) Executions(ctx context.Context, symbol, orderLinkID string) ([]venue.Execution, error) {
	return nil, nil
}

func (f *flatteningVenue) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, orderLinkID string) (venue.OrderResult, error) {
	return venue.OrderResult{}, nil
}

func (f *flatteningVenue) PlaceLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal, orderLinkID string) (venue.OrderResult, error) {
	return venue.OrderResult{}, nil
}

func (f *flatteningVenue) ClosePosition(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, fullClose bool) (venue.CloseResult, error) {
	return venue.CloseResult{}, venue.NewPositionIsZeroError()
}

func (f *flatteningVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (f *flatteningVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}
