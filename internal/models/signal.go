package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Статусы сигнала. "Активное семейство" — то, что держим в индексе
// и по чему подписываемся на поток цен.
const (
	StatusPendingEntry = "pending_entry"
	StatusEntered      = "entered"
	StatusActive       = "active"
	StatusClosed       = "closed"
	StatusCancelled    = "cancelled" // выставляется только снаружи
)

const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

const (
	ExitTakeProfit = "take_profit"
	ExitStopLoss   = "stop_loss"
)

// Numeric — числовое поле, которое из стора/фида может прийти числом,
// строкой или пустым значением. Пустое и нечисловое считаем null.
type Numeric struct {
	Value float64
	Valid bool
}

func Num(v float64) Numeric { return Numeric{Value: v, Valid: true} }

func (n *Numeric) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` || s == "" {
		*n = Numeric{}
		return nil
	}
	s = strings.Trim(s, `"`)
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		// мусор в поле не должен ронять обработку события
		*n = Numeric{}
		return nil
	}
	*n = Numeric{Value: f, Valid: true}
	return nil
}

func (n Numeric) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(n.Value, 'f', -1, 64)), nil
}

// Signal — условная заявка: вход, тейк, стоп.
type Signal struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Direction  string     `json:"direction"`
	EntryPrice Numeric    `json:"entry_price"`
	TakeProfit Numeric    `json:"take_profit"`
	StopLoss   Numeric    `json:"stop_loss"`
	Leverage   Numeric    `json:"leverage"`
	Status     string     `json:"status"`
	EntryTime  *time.Time `json:"entry_time"`
	CreatedAt  *time.Time `json:"created_at"`
}

// Normalize пересчитывает производные поля после загрузки/события:
// канонический символ и дефолт плеча.
func (s *Signal) Normalize() {
	s.Symbol = NormalizeSymbol(s.Symbol)
	if !s.Leverage.Valid || s.Leverage.Value <= 0 ||
		math.IsNaN(s.Leverage.Value) || math.IsInf(s.Leverage.Value, 0) {
		s.Leverage = Num(1)
	}
}

// LeverageOrDefault — плечо после нормализации, на всякий случай с тем же дефолтом.
func (s *Signal) LeverageOrDefault() float64 {
	if s.Leverage.Valid && s.Leverage.Value > 0 {
		return s.Leverage.Value
	}
	return 1
}

// IsActiveFamily — сигнал ещё живой и должен быть в индексе.
func IsActiveFamily(status string) bool {
	switch status {
	case StatusPendingEntry, StatusEntered, StatusActive:
		return true
	}
	return false
}

func ActiveStatuses() []string {
	return []string{StatusPendingEntry, StatusEntered, StatusActive}
}

// NormalizeSymbol приводит символ к каноническому виду: "BTC/USDT" -> "BTCUSDT".
func NormalizeSymbol(raw string) string {
	s := strings.TrimSpace(strings.ToUpper(raw))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// Tick — последняя цена по символу из любого источника (WS или REST).
type Tick struct {
	Symbol string
	Price  float64
}

// SignalPatch — поля условного обновления; пишем только заполненные.
type SignalPatch struct {
	Status        string
	EntryTime     *time.Time
	ExitPrice     *float64
	ExitType      *string
	PnlPercentage *float64
	PnlRatio      *string // текстом, чтобы не терять точность
	Duration      *string
	ClosedAt      *time.Time
}
