package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/wotideas/ideas-engine/internal/api"
	"github.com/wotideas/ideas-engine/internal/model"
)

func TestWSHub_BroadcastsIdeaEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewWSHub(nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Account-only events are never broadcast.
	if err := hub.Publish(ctx, &model.Event{Seq: 1, Type: model.EventLoggedIn, AccountID: "alice"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	bet := &model.Event{
		Seq:        2,
		Type:       model.EventBetPlaced,
		AccountID:  "alice",
		IdeaID:     "idea-1",
		Side:       model.BoolPtr(true),
		Coins:      model.Amount(decimal.NewFromInt(25)),
		Balance:    model.Amount(decimal.NewFromInt(975)),
		StakeIndex: model.IntPtr(0),
	}

	// The client registers asynchronously; keep publishing until it is heard.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			hub.Publish(ctx, bet)
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg api.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "BetPlaced" || msg.IdeaID != "idea-1" || msg.Coins != "25" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Side == nil || !*msg.Side {
		t.Error("expected side true")
	}
	if strings.Contains(string(data), "975") || strings.Contains(string(data), "alice") {
		t.Errorf("balances and account ids must not be broadcast: %s", data)
	}
}
