package store

import (
	"testing"

	"github.com/bytedance/sonic"
)

// Декод payload триггера: numeric-поля приходят и числами, и строками,
// null-полосы остаются невалидными.
func TestEventDecode(t *testing.T) {
	payload := `{
		"eventType": "UPDATE",
		"new": {
			"id": "sig-1",
			"symbol": "btc/usdt",
			"direction": "long",
			"entry_price": "68800",
			"take_profit": 72000,
			"stop_loss": null,
			"leverage": "",
			"status": "entered"
		},
		"old": {
			"id": "sig-1",
			"symbol": "BTCUSDT",
			"direction": "long",
			"entry_price": 68800,
			"status": "pending_entry"
		}
	}`

	var ev Event
	if err := sonic.Unmarshal([]byte(payload), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if ev.EventType != EventUpdate {
		t.Fatalf("eventType = %q", ev.EventType)
	}
	if ev.New == nil || ev.Old == nil {
		t.Fatal("both rows must be present on update")
	}

	ev.New.Normalize()
	if ev.New.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %q", ev.New.Symbol)
	}
	if !ev.New.EntryPrice.Valid || ev.New.EntryPrice.Value != 68800 {
		t.Fatalf("entry_price = %+v", ev.New.EntryPrice)
	}
	if !ev.New.TakeProfit.Valid || ev.New.TakeProfit.Value != 72000 {
		t.Fatalf("take_profit = %+v", ev.New.TakeProfit)
	}
	if ev.New.StopLoss.Valid {
		t.Fatalf("null stop_loss decoded as valid: %+v", ev.New.StopLoss)
	}
	if got := ev.New.LeverageOrDefault(); got != 1 {
		t.Fatalf("empty leverage should default to 1, got %v", got)
	}
	if ev.Old.Status != "pending_entry" {
		t.Fatalf("old status = %q", ev.Old.Status)
	}
}

func TestEventDecodeDelete(t *testing.T) {
	payload := `{"eventType":"DELETE","old":{"id":"sig-9","symbol":"ETHUSDT","direction":"short","status":"active"}}`

	var ev Event
	if err := sonic.Unmarshal([]byte(payload), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.EventType != EventDelete || ev.New != nil || ev.Old == nil || ev.Old.ID != "sig-9" {
		t.Fatalf("event = %+v", ev)
	}
}
