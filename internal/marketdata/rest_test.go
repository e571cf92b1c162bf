package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"signal_monitor/internal/modules/config"
)

func TestRestFetchPrices(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("symbols")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","price":"68800.5"},
			{"symbol":"ETHUSDT","price":"abc"},
			{"symbol":"SOLUSDT","price":"-1"},
			{"symbol":"xrpusdt","price":"0.52"}
		]`))
	}))
	defer srv.Close()

	r := NewRestClient(&config.Config{RestBaseURL: srv.URL})
	ticks, err := r.FetchPrices(context.Background(), []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"})
	if err != nil {
		t.Fatalf("FetchPrices: %v", err)
	}

	if gotQuery != `["BTCUSDT","ETHUSDT","SOLUSDT","XRPUSDT"]` {
		t.Fatalf("symbols query = %q", gotQuery)
	}

	// битая и отрицательная цена выпадают из снапшота
	if len(ticks) != 2 {
		t.Fatalf("ticks = %+v", ticks)
	}
	if ticks[0].Symbol != "BTCUSDT" || ticks[0].Price != 68800.5 {
		t.Fatalf("tick[0] = %+v", ticks[0])
	}
	if ticks[1].Symbol != "XRPUSDT" || ticks[1].Price != 0.52 {
		t.Fatalf("tick[1] = %+v", ticks[1])
	}
}

func TestRestFetchPricesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	r := NewRestClient(&config.Config{RestBaseURL: srv.URL})
	if _, err := r.FetchPrices(context.Background(), []string{"NOPE"}); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

func TestRestFetchPricesEmptySet(t *testing.T) {
	r := NewRestClient(&config.Config{RestBaseURL: "http://unused"})
	ticks, err := r.FetchPrices(context.Background(), nil)
	if err != nil || ticks != nil {
		t.Fatalf("empty set: ticks=%v err=%v", ticks, err)
	}
}
