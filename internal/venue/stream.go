package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// OrderUpdate is a push notification for an order lifecycle change on the
// destination venue's private stream.
type OrderUpdate struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Status      string `json:"orderStatus"`
	ExecQty     string `json:"cumExecQty"`
}

const (
	streamPingInterval = 20 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamMaxReconnect = 30 * time.Second
)

// OrderStream is the destination venue's private WebSocket feed for order
// lifecycle events. It is an accelerant only: the Mirror Engine never
// treats it as authoritative (REST queries remain the source of truth per
// §4.5) — it exists so handlers waiting on a fill can wake up promptly
// instead of only polling. Modeled on the teacher's exchange.WSFeed:
// auto-reconnect with exponential backoff, a read deadline, and a typed
// output channel.
type OrderStream struct {
	url  string
	auth *Auth

	connMu sync.Mutex
	conn   *websocket.Conn

	updates chan OrderUpdate
	logger  *slog.Logger
}

// NewOrderStream creates a private order-update stream.
func NewOrderStream(wsURL string, auth *Auth, logger *slog.Logger) *OrderStream {
	return &OrderStream{
		url:     wsURL,
		auth:    auth,
		updates: make(chan OrderUpdate, 64),
		logger:  logger.With("component", "venue_order_stream"),
	}
}

// Updates returns the read-only channel of order lifecycle events.
func (s *OrderStream) Updates() <-chan OrderUpdate { return s.updates }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (s *OrderStream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("order stream disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > streamMaxReconnect {
			backoff = streamMaxReconnect
		}
	}
}

func (s *OrderStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	authMsg := map[string]any{"op": "auth", "headers": s.auth.Headers("")}
	if err := s.writeJSON(authMsg); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := s.writeJSON(map[string]any{"op": "subscribe", "args": []string{"order"}}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.dispatch(msg)
	}
}

func (s *OrderStream) dispatch(data []byte) {
	var envelope struct {
		Topic string        `json:"topic"`
		Data  []OrderUpdate `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("ignoring non-json stream message")
		return
	}
	if envelope.Topic != "order" {
		return
	}
	for _, u := range envelope.Data {
		select {
		case s.updates <- u:
		default:
			s.logger.Warn("order stream channel full, dropping update", "order_id", u.OrderID)
		}
	}
}

func (s *OrderStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]any{"op": "ping"}); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *OrderStream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("order stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(v)
}

// Close gracefully closes the connection.
func (s *OrderStream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
