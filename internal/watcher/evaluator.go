package watcher

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"signal_monitor/internal/models"
)

// Decision — решение эвалюатора: какой переход просить у стора.
type Decision struct {
	NextStatus string // entered | closed
	Expected   string // ожидаемый статус строки в сторе
	// Fallback для закрытия из active: in-memory копия могла устареть
	// относительно только что применённого pending_entry -> entered.
	FallbackExpected string
	ExitType         string
	Patch            models.SignalPatch
}

// Evaluate — чистая логика переходов по свежей цене.
// nil — ничего делать не нужно.
func Evaluate(sig models.Signal, price float64, now time.Time) *Decision {
	switch sig.Status {
	case models.StatusPendingEntry:
		return evaluateEntry(sig, price, now)
	case models.StatusEntered, models.StatusActive:
		return evaluateExit(sig, price, now)
	}
	// closed/cancelled и всё неизвестное — no-op
	return nil
}

func evaluateEntry(sig models.Signal, price float64, now time.Time) *Decision {
	if !sig.EntryPrice.Valid {
		return nil
	}

	entry := sig.EntryPrice.Value
	hit := (sig.Direction == models.DirectionLong && price <= entry) ||
		(sig.Direction == models.DirectionShort && price >= entry)
	if !hit {
		return nil
	}

	entryAt := now
	return &Decision{
		NextStatus: models.StatusEntered,
		Expected:   models.StatusPendingEntry,
		Patch: models.SignalPatch{
			Status:    models.StatusEntered,
			EntryTime: &entryAt,
		},
	}
}

func evaluateExit(sig models.Signal, price float64, now time.Time) *Decision {
	exitType := exitTypeFor(sig, price)
	if exitType == "" {
		return nil
	}

	lev := sig.LeverageOrDefault()
	raw := 0.0
	if sig.EntryPrice.Valid && sig.EntryPrice.Value > 0 {
		entry := sig.EntryPrice.Value
		if sig.Direction == models.DirectionShort {
			raw = (entry - price) / entry
		} else {
			raw = (price - entry) / entry
		}
	}

	pnlPct := math.Round(raw*lev*100*1e4) / 1e4
	pnlRatio := strconv.FormatFloat(raw*lev, 'f', 6, 64)
	duration := formatDuration(entryStart(sig), now)
	closedAt := now
	exitPrice := price
	et := exitType

	dec := &Decision{
		NextStatus: models.StatusClosed,
		Expected:   sig.Status,
		ExitType:   exitType,
		Patch: models.SignalPatch{
			Status:        models.StatusClosed,
			ExitPrice:     &exitPrice,
			ExitType:      &et,
			PnlPercentage: &pnlPct,
			PnlRatio:      &pnlRatio,
			Duration:      &duration,
			ClosedAt:      &closedAt,
		},
	}
	if sig.Status == models.StatusActive {
		dec.FallbackExpected = models.StatusEntered
	}
	return dec
}

// exitTypeFor: тейк проверяем первым, стоп — вторым.
func exitTypeFor(sig models.Signal, price float64) string {
	long := sig.Direction != models.DirectionShort
	if sig.TakeProfit.Valid {
		tp := sig.TakeProfit.Value
		if (long && price >= tp) || (!long && price <= tp) {
			return models.ExitTakeProfit
		}
	}
	if sig.StopLoss.Valid {
		sl := sig.StopLoss.Value
		if (long && price <= sl) || (!long && price >= sl) {
			return models.ExitStopLoss
		}
	}
	return ""
}

// entryStart — от чего считать длительность сделки:
// момент входа, а если его нет — момент создания.
func entryStart(sig models.Signal) *time.Time {
	if sig.EntryTime != nil {
		return sig.EntryTime
	}
	return sig.CreatedAt
}

// formatDuration: "47m" до часа, "3h 21m" дальше; кривая дельта -> "0m".
func formatDuration(from *time.Time, now time.Time) string {
	if from == nil {
		return "0m"
	}
	delta := now.Sub(*from)
	if delta <= 0 {
		return "0m"
	}
	mins := int(delta.Minutes())
	if mins < 60 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dh %dm", mins/60, mins%60)
}
