package watcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"signal_monitor/internal/models"
	"signal_monitor/internal/modules/config"
	"signal_monitor/internal/modules/health/service"
	"signal_monitor/internal/store"
	"signal_monitor/pkg/logger"
)

// Store — шлюз к стору сигналов (см. internal/store).
type Store interface {
	LoadActive(ctx context.Context) ([]models.Signal, error)
	ConditionalUpdate(ctx context.Context, id, expected string, patch models.SignalPatch) (bool, error)
}

// Connector — живой поток цен.
type Connector interface {
	Resubscribe(symbols []string)
	ForceReconnect()
	Connected() bool
	FallbackActive() bool
	LastMessage() time.Time
	Close()
}

// Poller — батч-снапшот цен по REST для деградированного режима.
type Poller interface {
	FetchPrices(ctx context.Context, symbols []string) ([]models.Tick, error)
}

// Notifier — пассивные опс-уведомления; может быть nil.
type Notifier interface {
	Sendf(format string, args ...any)
}

// Monitor — связующий цикл: тики -> эвалюатор -> условные записи в стор,
// плюс шедулер (heartbeat, resync, fallback poll) и фолдинг change feed
// в индекс.
type Monitor struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg    *config.Config
	store  Store
	index  *Index
	conn   Connector
	poller Poller
	state  *service.State
	n      Notifier

	ticks chan models.Tick

	mu           sync.Mutex
	inFlight     map[string]bool // id -> эвалюация ещё не доехала до стора
	refreshTimer *time.Timer
}

func NewMonitor(
	cfg *config.Config,
	st Store,
	conn Connector,
	poller Poller,
	ticks chan models.Tick,
	state *service.State,
	n Notifier,
) *Monitor {
	return &Monitor{
		cfg:      cfg,
		store:    st,
		index:    NewIndex(),
		conn:     conn,
		poller:   poller,
		state:    state,
		n:        n,
		ticks:    ticks,
		inFlight: make(map[string]bool),
	}
}

func (m *Monitor) Index() *Index { return m.index }

// Start грузит начальное состояние (фатально при ошибке — без индекса
// работать нельзя) и поднимает рабочие циклы.
func (m *Monitor) Start(parent context.Context) error {
	m.ctx, m.cancel = context.WithCancel(parent)

	signals, err := m.store.LoadActive(m.ctx)
	if err != nil {
		return err
	}
	m.index.ReplaceAll(signals)
	logger.Info("[RESYNC] initial load: %d signals, %d symbols", m.index.Len(), len(m.index.Symbols()))

	m.refreshSubscriptions()

	go m.tickLoop(m.ctx)
	go m.heartbeatLoop(m.ctx)
	go m.resyncLoop(m.ctx)
	go m.pollLoop(m.ctx)

	if m.state != nil {
		m.state.SetReady(true)
	}
	if m.n != nil {
		m.n.Sendf("🚀 signal monitor started: %d signals / %d symbols", m.index.Len(), len(m.index.Symbols()))
	}
	return nil
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.conn.Close()
}

func (m *Monitor) tickLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-m.ticks:
			m.HandleTick(ctx, tick)
		}
	}
}

// HandleTick прогоняет цену по всем сигналам символа. Сигнал, у которого
// запись уже в полёте, на этот тик пропускаем — следующий тик дообработает.
func (m *Monitor) HandleTick(ctx context.Context, tick models.Tick) {
	if m.state != nil {
		m.state.TouchTick(time.Now())
	}

	ids := m.index.IDsForSymbol(tick.Symbol)
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids) // детерминированный порядок внутри тика

	now := time.Now()
	for _, id := range ids {
		sig, ok := m.index.Get(id)
		if !ok {
			continue
		}

		dec := Evaluate(sig, tick.Price, now)
		if dec == nil {
			continue
		}

		m.mu.Lock()
		if m.inFlight[id] {
			m.mu.Unlock()
			continue
		}
		m.inFlight[id] = true
		m.mu.Unlock()

		go m.apply(ctx, sig, dec, tick.Price)
	}
}

// apply доводит решение до стора. Несовпадение условия — штатный исход:
// переход уже сделал кто-то другой.
func (m *Monitor) apply(ctx context.Context, sig models.Signal, dec *Decision, price float64) {
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, sig.ID)
		m.mu.Unlock()
	}()

	ok, err := m.store.ConditionalUpdate(ctx, sig.ID, dec.Expected, dec.Patch)
	if err != nil {
		logger.Error("[EVAL] signal %s: conditional update failed: %v", sig.ID, err)
		return
	}
	if !ok && dec.FallbackExpected != "" && dec.FallbackExpected != dec.Expected {
		// локальная копия могла отстать от свежего pending_entry -> entered
		ok, err = m.store.ConditionalUpdate(ctx, sig.ID, dec.FallbackExpected, dec.Patch)
		if err != nil {
			logger.Error("[EVAL] signal %s: fallback update failed: %v", sig.ID, err)
			return
		}
	}
	if !ok {
		logger.Info("[EVAL] signal %s: transition to %s already applied elsewhere", sig.ID, dec.NextStatus)
		return
	}

	switch dec.NextStatus {
	case models.StatusEntered:
		at := time.Now()
		if dec.Patch.EntryTime != nil {
			at = *dec.Patch.EntryTime
		}
		m.index.MarkEntered(sig.ID, at)
		logger.Info("[EVAL] signal %s %s: entered at %.8f", sig.ID, sig.Symbol, price)
	case models.StatusClosed:
		m.index.Remove(sig.ID)
		m.armRefresh()
		logger.Info("[EVAL] signal %s %s: closed (%s) at %.8f", sig.ID, sig.Symbol, dec.ExitType, price)
		if m.n != nil {
			pnl := 0.0
			if dec.Patch.PnlPercentage != nil {
				pnl = *dec.Patch.PnlPercentage
			}
			m.n.Sendf("✅ %s %s closed: %s, pnl %.4f%%", sig.Symbol, sig.Direction, dec.ExitType, pnl)
		}
	}
}

// OnFeedEvent фолдит нотификацию change feed в индекс.
func (m *Monitor) OnFeedEvent(ev store.Event) {
	switch ev.EventType {
	case store.EventDelete:
		if ev.Old != nil {
			m.index.Remove(ev.Old.ID)
		}
	case store.EventInsert, store.EventUpdate:
		if ev.New == nil {
			return
		}
		// Upsert сам превращает не-активный статус в удаление
		m.index.Upsert(*ev.New)
	default:
		return
	}
	m.armRefresh()
}

// armRefresh — дебаунс пересмотра подписки: шквал событий фида
// схлопывается в один пересчёт набора символов.
func (m *Monitor) armRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}
	m.refreshTimer = time.AfterFunc(m.cfg.ResubscribeDebounce, m.refreshSubscriptions)
}

func (m *Monitor) refreshSubscriptions() {
	symbols := m.index.Symbols()
	sort.Strings(symbols)
	m.conn.Resubscribe(symbols)
}

func (m *Monitor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			signals := m.index.Len()
			symbols := len(m.index.Symbols())
			connected := m.conn.Connected()
			fallback := m.conn.FallbackActive()

			if m.state != nil {
				m.state.SetWSConnected(connected)
				m.state.SetFallbackActive(fallback)
				m.state.SetCounts(signals, symbols)
			}
			logger.Info("[HEALTH] signals=%d symbols=%d ws=%v fallback=%v", signals, symbols, connected, fallback)

			// соединение числится живым, но молчит — принудительный реконнект
			if connected && time.Since(m.conn.LastMessage()) > m.staleAfter() {
				logger.Warn("[HEALTH] ws silent for too long, forcing reconnect")
				m.conn.ForceReconnect()
			}
		}
	}
}

func (m *Monitor) resyncLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			signals, err := m.store.LoadActive(ctx)
			if err != nil {
				// не фатально: живём на прошлом индексе до следующего цикла
				logger.Error("[RESYNC] load failed: %v", err)
				continue
			}
			m.index.ReplaceAll(signals)
			m.refreshSubscriptions()
			logger.Info("[RESYNC] done: %d signals, %d symbols", m.index.Len(), len(m.index.Symbols()))
		}
	}
}

// pollLoop — деградированный режим: пока живого потока нет (или он
// протух), цены тянем батч-запросом и гоним тем же путём эвалюации.
func (m *Monitor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RestPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.liveFresh() {
				continue
			}
			symbols := m.index.Symbols()
			if len(symbols) == 0 {
				continue
			}
			sort.Strings(symbols)

			ticks, err := m.poller.FetchPrices(ctx, symbols)
			if err != nil {
				logger.Error("[REST] snapshot failed: %v", err)
				continue
			}
			for _, tick := range ticks {
				m.HandleTick(ctx, tick)
			}
		}
	}
}

func (m *Monitor) liveFresh() bool {
	return m.conn.Connected() && time.Since(m.conn.LastMessage()) <= m.staleAfter()
}

func (m *Monitor) staleAfter() time.Duration {
	return 2 * m.cfg.HeartbeatInterval
}
