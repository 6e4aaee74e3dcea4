package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mirror-engine/pkg/types"
)

func TestWebhookSink_PostsStructuredEvent(t *testing.T) {
	t.Parallel()

	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	n := Notification{
		Title: "position opened",
		Kind:  types.NotifySuccess,
		Table: Table{Account: "acct-1", Symbol: "BTCUSDT", Side: types.Buy, Size: 0.1, Price: 50000},
	}

	if err := sink.Send(context.Background(), n); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if received.Title != n.Title || received.Table.Symbol != "BTCUSDT" {
		t.Errorf("received = %+v, want %+v", received, n)
	}
}

func TestWebhookSink_ServerErrorReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	err := sink.Send(context.Background(), Notification{Title: "x"})
	if err == nil {
		t.Fatal("Send() error = nil, want error for 5xx response")
	}
}
