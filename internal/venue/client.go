package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mirror-engine/pkg/types"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// executionsWindow is the §6 sentinel: query executions over the 30s
// preceding "now".
const executionsWindow = 30 * time.Second

// Client is the Destination Venue Adapter (§2, §6): typed operations over
// the destination's HTTP API, built on resty exactly the way the teacher's
// exchange.Client wraps Polymarket's CLOB API — timeouts, retry-on-5xx,
// dry-run short circuit, and a shared rate limiter.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	mode   types.VenueMode
	dryRun bool
	logger *slog.Logger
}

// Config configures a destination venue Client.
type Config struct {
	BaseURL string
	Creds   Credentials
	Mode    types.VenueMode
	DryRun  bool
}

// NewClient builds a Client, mirroring exchange.NewClient's resty tuning
// (10s timeout, 3 retries on error/5xx, exponential wait).
func NewClient(cfg Config, logger *slog.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(300*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &Client{
		http:   http,
		auth:   NewAuth(cfg.Creds, 5*time.Second),
		rl:     NewRateLimiter(),
		mode:   cfg.Mode,
		dryRun: cfg.DryRun,
		logger: logger.With("component", "venue_client"),
	}
}

// businessRejectPositionZero is the well-known reject code the close-
// position recovery path (§4.5) watches for.
const businessRejectPositionZero = "position_is_zero"

// Positions returns live destination positions for symbol (both sides may
// be present for a hedge-mode account).
func (c *Client) Positions(ctx context.Context, symbol string) ([]Position, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var env apiEnvelope[struct {
		List []Position `json:"list"`
	}]
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&env).
		Get("/v5/position/list")
	if err != nil {
		return nil, classifyTransport(err)
	}
	if err := checkEnvelope(resp, env.RetCode, env.RetMsg); err != nil {
		return nil, err
	}
	return env.Result.List, nil
}

// OpenOrders returns live resting orders for symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var env apiEnvelope[struct {
		List []OpenOrder `json:"list"`
	}]
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&env).
		Get("/v5/order/realtime")
	if err != nil {
		return nil, classifyTransport(err)
	}
	if err := checkEnvelope(resp, env.RetCode, env.RetMsg); err != nil {
		return nil, err
	}
	return env.Result.List, nil
}

// Executions returns fills for symbol within the last 30s, optionally
// filtered by client order link id (§4.5's volume-weighted fill lookup).
func (c *Client) Executions(ctx context.Context, symbol, orderLinkID string) ([]Execution, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("startTime", msTime(time.Now().Add(-executionsWindow)))
	if orderLinkID != "" {
		req.SetQueryParam("orderLinkId", orderLinkID)
	}

	var env apiEnvelope[struct {
		List []Execution `json:"list"`
	}]
	resp, err := req.SetResult(&env).Get("/v5/execution/list")
	if err != nil {
		return nil, classifyTransport(err)
	}
	if err := checkEnvelope(resp, env.RetCode, env.RetMsg); err != nil {
		return nil, err
	}
	return env.Result.List, nil
}

// PlaceMarketOrder places a market order for symbol/side/qty, tagged with
// orderLinkID for later execution lookup.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, orderLinkID string) (OrderResult, error) {
	return c.placeOrder(ctx, symbol, side, "Market", qty, decimal.Decimal{}, orderLinkID)
}

// PlaceLimitOrder places a limit order for symbol/side/qty/price.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal, orderLinkID string) (OrderResult, error) {
	return c.placeOrder(ctx, symbol, side, "Limit", qty, price, orderLinkID)
}

func (c *Client) placeOrder(ctx context.Context, symbol string, side types.Side, orderType string, qty, price decimal.Decimal, orderLinkID string) (OrderResult, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return OrderResult{}, err
	}

	body := map[string]any{
		"symbol":      symbol,
		"side":        string(side),
		"orderType":   orderType,
		"qty":         qty.String(),
		"orderLinkId": orderLinkID,
	}
	if orderType == "Limit" {
		body["price"] = price.String()
	}

	if c.dryRun {
		c.logger.Info("dry run: would place order", "symbol", symbol, "side", side, "qty", qty, "type", orderType)
		return OrderResult{OrderID: "dry-run", OrderLinkID: orderLinkID}, nil
	}

	var env apiEnvelope[OrderResult]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers(mustJSON(body))).
		SetBody(body).
		SetResult(&env).
		Post("/v5/order/create")
	if err != nil {
		return OrderResult{}, classifyTransport(err)
	}
	if err := checkEnvelope(resp, env.RetCode, env.RetMsg); err != nil {
		return OrderResult{}, err
	}
	return env.Result, nil
}

// ClosePosition closes symbol/side, either fully (fullClose=true) or for
// the given qty.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, fullClose bool) (CloseResult, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return CloseResult{}, err
	}

	body := map[string]any{
		"symbol":    symbol,
		"side":      string(side.Opposite()), // closing is the reduce-only opposite-side order
		"orderType": "Market",
		"reduceOnly": true,
	}
	if fullClose {
		body["closeFull"] = true
	} else {
		body["qty"] = qty.String()
	}

	if c.dryRun {
		c.logger.Info("dry run: would close position", "symbol", symbol, "side", side, "qty", qty, "full", fullClose)
		return CloseResult{OrderResult: OrderResult{OrderID: "dry-run"}}, nil
	}

	var env apiEnvelope[CloseResult]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers(mustJSON(body))).
		SetBody(body).
		SetResult(&env).
		Post("/v5/position/close")
	if err != nil {
		return CloseResult{}, classifyTransport(err)
	}
	if env.RetMsg == businessRejectPositionZero {
		return CloseResult{}, fmt.Errorf("close position: %w", errPositionIsZero)
	}
	if err := checkEnvelope(resp, env.RetCode, env.RetMsg); err != nil {
		return CloseResult{}, err
	}
	return env.Result, nil
}

// CancelOrder cancels a resting order by destination order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := map[string]any{"symbol": symbol, "orderId": orderID}

	var env apiEnvelope[struct{}]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers(mustJSON(body))).
		SetBody(body).
		SetResult(&env).
		Post("/v5/order/cancel")
	if err != nil {
		return classifyTransport(err)
	}
	return checkEnvelope(resp, env.RetCode, env.RetMsg)
}

// SetLeverage sets symbol's leverage. Idempotent per §6.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}

	body := map[string]any{"symbol": symbol, "buyLeverage": leverage, "sellLeverage": leverage}
	var env apiEnvelope[struct{}]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers(mustJSON(body))).
		SetBody(body).
		SetResult(&env).
		Post("/v5/position/set-leverage")
	if err != nil {
		return classifyTransport(err)
	}
	return checkEnvelope(resp, env.RetCode, env.RetMsg)
}

func msTime(t time.Time) string { return fmt.Sprintf("%d", t.UnixMilli()) }

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
