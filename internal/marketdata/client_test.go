package marketdata

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"signal_monitor/internal/models"
	"signal_monitor/internal/modules/config"
	"signal_monitor/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init("error")
	os.Exit(m.Run())
}

type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs:   make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.msgs:
		return 1, m, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	attempts []string
	dial     func(url string) (Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, url)
	d.mu.Unlock()
	return d.dial(url)
}

func (d *fakeDialer) urls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.attempts))
	copy(out, d.attempts)
	return out
}

func wsTestConfig() *config.Config {
	return &config.Config{
		WSEndpoints:        []string{"wss://primary", "wss://secondary"},
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  8 * time.Millisecond,
	}
}

func waitCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClientFailoverAndTicks(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{
		dial: func(url string) (Conn, error) {
			if strings.HasPrefix(url, "wss://primary") {
				return nil, errors.New("refused")
			}
			return conn, nil
		},
	}

	ticks := make(chan models.Tick, 16)
	c := NewClient(context.Background(), wsTestConfig(), dialer, ticks)
	defer c.Close()

	c.Resubscribe([]string{"BTCUSDT"})

	waitCond(t, "connection open", c.Connected)

	urls := dialer.urls()
	if len(urls) < 2 || !strings.HasPrefix(urls[0], "wss://primary") || !strings.HasPrefix(urls[1], "wss://secondary") {
		t.Fatalf("failover order wrong: %v", urls)
	}
	if !strings.Contains(urls[0], "/stream?streams=btcusdt@trade") {
		t.Fatalf("stream url wrong: %s", urls[0])
	}

	conn.msgs <- []byte(`{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"68800.5"}}`)
	select {
	case tk := <-ticks:
		if tk.Symbol != "BTCUSDT" || tk.Price != 68800.5 {
			t.Fatalf("unexpected tick %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}

	// битые кадры роняются молча, валидный после них доходит
	conn.msgs <- []byte(`not json`)
	conn.msgs <- []byte(`{"stream":"x","data":{"s":"","p":"1"}}`)
	conn.msgs <- []byte(`{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"-5"}}`)
	conn.msgs <- []byte(`{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"69000"}}`)
	select {
	case tk := <-ticks:
		if tk.Price != 69000 {
			t.Fatalf("malformed frame leaked through: %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second tick")
	}
}

func TestClientFallbackWhenAllEndpointsFail(t *testing.T) {
	var mu sync.Mutex
	failing := true
	conn := newFakeConn()
	dialer := &fakeDialer{
		dial: func(url string) (Conn, error) {
			mu.Lock()
			defer mu.Unlock()
			if failing {
				return nil, errors.New("refused")
			}
			return conn, nil
		},
	}

	ticks := make(chan models.Tick, 16)
	c := NewClient(context.Background(), wsTestConfig(), dialer, ticks)
	defer c.Close()

	c.Resubscribe([]string{"ETHUSDT"})

	waitCond(t, "fallback active after full sweep", c.FallbackActive)
	if c.Connected() {
		t.Fatal("must not report connected while failing")
	}

	// эндпоинты ожили — реконнект снимает фолбэк
	mu.Lock()
	failing = false
	mu.Unlock()

	waitCond(t, "reconnect after backoff", c.Connected)
	if c.FallbackActive() {
		t.Fatal("fallback flag must clear on successful open")
	}
}

func TestClientResubscribeSameSetIsNoop(t *testing.T) {
	dialer := &fakeDialer{
		dial: func(url string) (Conn, error) {
			return newFakeConn(), nil
		},
	}

	c := NewClient(context.Background(), wsTestConfig(), dialer, make(chan models.Tick, 1))
	defer c.Close()

	c.Resubscribe([]string{"BTCUSDT"})
	waitCond(t, "connection open", c.Connected)

	before := len(dialer.urls())
	c.Resubscribe([]string{"BTCUSDT"})
	time.Sleep(20 * time.Millisecond)
	if after := len(dialer.urls()); after != before {
		t.Fatalf("same symbol set must not reconnect: %d -> %d dials", before, after)
	}
}

func TestClientEmptySetGoesIdle(t *testing.T) {
	dialer := &fakeDialer{
		dial: func(url string) (Conn, error) {
			return newFakeConn(), nil
		},
	}

	c := NewClient(context.Background(), wsTestConfig(), dialer, make(chan models.Tick, 1))
	defer c.Close()

	c.Resubscribe([]string{"BTCUSDT"})
	waitCond(t, "connection open", c.Connected)

	c.Resubscribe(nil)
	waitCond(t, "idle after empty set", func() bool {
		return !c.Connected() && !c.FallbackActive()
	})
}

func TestStreamURL(t *testing.T) {
	got := streamURL("wss://stream.binance.com:9443/", []string{"BTCUSDT", "ETHUSDT"})
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade"
	if got != want {
		t.Fatalf("streamURL = %q, want %q", got, want)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // упёрлись в потолок
		{10, 10 * time.Second},
	}
	for _, c := range cases {
		if got := backoffDelay(base, max, c.attempt); got != c.want {
			t.Fatalf("backoffDelay(attempt=%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}

func TestParseTick(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"valid", `{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"100.5"}}`, true},
		{"garbage", `{{{`, false},
		{"no symbol", `{"data":{"s":"","p":"1"}}`, false},
		{"bad price", `{"data":{"s":"BTCUSDT","p":"abc"}}`, false},
		{"zero price", `{"data":{"s":"BTCUSDT","p":"0"}}`, false},
	}
	for _, c := range cases {
		tk, ok := parseTick([]byte(c.raw))
		if ok != c.ok {
			t.Fatalf("%s: ok = %v, want %v", c.name, ok, c.ok)
		}
		if ok && (tk.Symbol != "BTCUSDT" || tk.Price != 100.5) {
			t.Fatalf("%s: tick = %+v", c.name, tk)
		}
	}
}
