package marketdata

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"signal_monitor/internal/models"
	"signal_monitor/internal/modules/config"
	"signal_monitor/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// Состояние коннектора — маленький enum вместо россыпи флагов.
const (
	StateIdle int32 = iota
	StateConnecting
	StateOpen
	StateFailing
)

// Conn / Dialer — транспорт за интерфейсом, чтобы гонять коннектор
// в тестах без настоящего сокета.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct {
	d *websocket.Dialer
}

func NewWSDialer() Dialer {
	return wsDialer{d: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

func (w wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := w.d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Client держит один мультиплексированный стрим сделок на весь набор
// символов. Каждая попытка подключения получает токен поколения; всё,
// что приходит от пережитого поколения, молча игнорируется — устаревший
// сокет не имеет права трогать состояние.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg    *config.Config
	dialer Dialer
	ticks  chan<- models.Tick

	mu      sync.Mutex
	gen     uint64
	symbols []string
	conn    Conn

	state    atomic.Int32
	fallback atomic.Bool
	lastMsg  atomic.Int64 // unix nano
}

func NewClient(ctx context.Context, cfg *config.Config, dialer Dialer, ticks chan<- models.Tick) *Client {
	cctx, cancel := context.WithCancel(ctx)
	return &Client{
		ctx:    cctx,
		cancel: cancel,
		cfg:    cfg,
		dialer: dialer,
		ticks:  ticks,
	}
}

// Resubscribe сверяет желаемый набор символов с текущим; одинаковый
// набор при живой попытке — no-op, иначе рвём соединение и поднимаем
// новое поколение.
func (c *Client) Resubscribe(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if equalSymbols(symbols, c.symbols) && c.state.Load() != StateIdle {
		return
	}
	c.symbols = append([]string(nil), symbols...)
	c.restartLocked()
}

// ForceReconnect передёргивает соединение с тем же набором символов.
func (c *Client) ForceReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartLocked()
}

func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state.Store(StateIdle)
}

func (c *Client) Connected() bool      { return c.state.Load() == StateOpen }
func (c *Client) FallbackActive() bool { return c.fallback.Load() }

func (c *Client) LastMessage() time.Time {
	n := c.lastMsg.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// требует удерживаемого c.mu
func (c *Client) restartLocked() {
	c.gen++
	gen := c.gen
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	if len(c.symbols) == 0 {
		// подписываться не на что — фолбэк тоже не нужен
		c.state.Store(StateIdle)
		c.fallback.Store(false)
		return
	}

	symbols := append([]string(nil), c.symbols...)
	go c.run(gen, symbols)
}

func (c *Client) run(gen uint64, symbols []string) {
	sweep := 0 // полных неудачных обходов списка эндпоинтов подряд

	for {
		if c.stale(gen) {
			return
		}
		c.state.Store(StateConnecting)

		opened := false
		for _, base := range c.cfg.WSEndpoints {
			if c.stale(gen) {
				return
			}

			url := streamURL(base, symbols)
			conn, err := c.dialer.Dial(c.ctx, url)
			if err != nil {
				logger.Warn("[WS] dial %s failed: %v", base, err)
				if !c.sleep(gen, c.cfg.ReconnectBaseDelay) {
					return
				}
				continue
			}

			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				_ = conn.Close()
				return
			}
			c.conn = conn
			c.mu.Unlock()

			sweep = 0 // успешное открытие сбрасывает бэкофф
			c.fallback.Store(false)
			c.state.Store(StateOpen)
			c.touch()
			logger.Info("[WS] connected %s, %d streams", base, len(symbols))

			c.readLoop(gen, conn)
			if c.stale(gen) {
				return
			}
			opened = true
			break // после разрыва заходим заново с первого эндпоинта
		}

		if c.stale(gen) {
			return
		}
		c.state.Store(StateFailing)

		if opened {
			if !c.sleep(gen, c.cfg.ReconnectBaseDelay) {
				return
			}
			continue
		}

		// весь список исчерпан без единого открытия — включаем фолбэк
		// и ждём с экспоненциальной задержкой
		c.fallback.Store(true)
		delay := backoffDelay(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, sweep)
		sweep++
		logger.Warn("[WS] all endpoints failed, retry in %s", delay)
		if !c.sleep(gen, delay) {
			return
		}
	}
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	defer func() { _ = conn.Close() }()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !c.stale(gen) {
				logger.Warn("[WS] read error: %v", err)
			}
			return
		}
		if c.stale(gen) {
			return
		}
		c.touch()

		tick, ok := parseTick(msg)
		if !ok {
			continue // битый кадр роняем молча
		}

		select {
		case c.ticks <- tick:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) stale(gen uint64) bool {
	if c.ctx.Err() != nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen
}

func (c *Client) sleep(gen uint64, d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return !c.stale(gen)
	}
}

func (c *Client) touch() {
	c.lastMsg.Store(time.Now().UnixNano())
}

// streamURL: база + "/stream?streams=btcusdt@trade/ethusdt@trade".
func streamURL(base string, symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@trade")
	}
	return strings.TrimSuffix(base, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

type streamFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
	} `json:"data"`
}

// parseTick достаёт символ и цену из кадра; всё невалидное — мимо.
func parseTick(msg []byte) (models.Tick, bool) {
	var frame streamFrame
	if err := sonic.Unmarshal(msg, &frame); err != nil {
		return models.Tick{}, false
	}
	if frame.Data.Symbol == "" {
		return models.Tick{}, false
	}
	price, err := strconv.ParseFloat(frame.Data.Price, 64)
	if err != nil || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return models.Tick{}, false
	}
	return models.Tick{
		Symbol: models.NormalizeSymbol(frame.Data.Symbol),
		Price:  price,
	}, true
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func equalSymbols(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
