package mirror

import (
	"context"

	"mirror-engine/internal/venue"
	"mirror-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// VenueAdapter is the subset of the Destination Venue Adapter's typed
// operations the Mirror Engine's handlers need. It is declared here, not in
// package venue, so handlers can be tested against a fake without pulling
// in resty/websocket.
type VenueAdapter interface {
	Positions(ctx context.Context, symbol string) ([]venue.Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]venue.OpenOrder, error)
	Executions(ctx context.Context, symbol, orderLinkID string) ([]venue.Execution, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, orderLinkID string) (venue.OrderResult, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal, orderLinkID string) (venue.OrderResult, error)
	ClosePosition(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, fullClose bool) (venue.CloseResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
