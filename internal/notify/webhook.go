package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookSink delivers notifications by POSTing the structured event JSON
// to a configured URL, built on the same resty pattern as the destination
// venue client (internal/venue.Client).
type WebhookSink struct {
	http *resty.Client
	url  string
}

// NewWebhookSink builds a sink posting to url.
func NewWebhookSink(url string) *WebhookSink {
	http := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &WebhookSink{http: http, url: url}
}

// Send POSTs n as JSON. A non-2xx response is returned as an error; the
// caller (the engine loop) logs it and moves on — notification delivery
// never blocks or retries a handler (§7).
func (s *WebhookSink) Send(ctx context.Context, n Notification) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(n).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("notify webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify webhook: status %d", resp.StatusCode())
	}
	return nil
}
