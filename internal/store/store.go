package store

import (
	"context"
	"fmt"
	"strings"

	"signal_monitor/internal/models"
	"signal_monitor/pkg/db"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

// Store — шлюз к таблице сигналов. Единственный механизм защиты от
// двойной обработки — условный апдейт по ожидаемому статусу, поэтому
// обычного "прочитал-записал" здесь нет и быть не должно.
type Store struct {
	tm *db.PgTxManager
}

func New(tm *db.PgTxManager) *Store {
	return &Store{tm: tm}
}

const loadActiveQuery = `
	SELECT id, symbol, direction, entry_price, take_profit, stop_loss,
	       leverage, status, entry_time, created_at
	FROM signals
	WHERE status = ANY($1)
`

// LoadActive вытаскивает все сигналы активного семейства.
func (s *Store) LoadActive(ctx context.Context) ([]models.Signal, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.load_active")
	defer span.Finish()

	rows, err := s.tm.Conn().Query(ctx, loadActiveQuery, models.ActiveStatuses())
	if err != nil {
		return nil, errors.Wrap(err, "load active signals")
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var (
			sig        models.Signal
			entryPrice *float64
			takeProfit *float64
			stopLoss   *float64
			leverage   *float64
		)
		if err := rows.Scan(
			&sig.ID, &sig.Symbol, &sig.Direction,
			&entryPrice, &takeProfit, &stopLoss,
			&leverage, &sig.Status, &sig.EntryTime, &sig.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan signal row")
		}
		sig.EntryPrice = numFromPtr(entryPrice)
		sig.TakeProfit = numFromPtr(takeProfit)
		sig.StopLoss = numFromPtr(stopLoss)
		sig.Leverage = numFromPtr(leverage)
		sig.Normalize()
		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate signal rows")
	}
	return signals, nil
}

// ConditionalUpdate — compare-and-swap: пишем patch только если текущий
// статус в сторе равен expected. false без ошибки означает "кто-то уже
// перевёл сигнал" — это штатный исход, не повод ретраить.
func (s *Store) ConditionalUpdate(ctx context.Context, id, expected string, patch models.SignalPatch) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.conditional_update")
	span.SetTag("signal.id", id)
	span.SetTag("signal.expected_status", expected)
	span.SetTag("signal.next_status", patch.Status)
	defer span.Finish()

	set := []string{"status = $1", "updated_at = now()"}
	args := []any{patch.Status}

	appendSet := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.EntryTime != nil {
		appendSet("entry_time", *patch.EntryTime)
	}
	if patch.ExitPrice != nil {
		appendSet("exit_price", *patch.ExitPrice)
	}
	if patch.ExitType != nil {
		appendSet("exit_type", *patch.ExitType)
	}
	if patch.PnlPercentage != nil {
		appendSet("pnl_percentage", *patch.PnlPercentage)
	}
	if patch.PnlRatio != nil {
		appendSet("pnl_ratio", *patch.PnlRatio)
	}
	if patch.Duration != nil {
		appendSet("duration", *patch.Duration)
	}
	if patch.ClosedAt != nil {
		appendSet("closed_at", *patch.ClosedAt)
	}

	args = append(args, id, expected)
	query := fmt.Sprintf(
		"UPDATE signals SET %s WHERE id = $%d AND status = $%d",
		strings.Join(set, ", "), len(args)-1, len(args),
	)

	var matched bool
	err := s.tm.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		tag, err := tx.Exec(ctxTx, query, args...)
		if err != nil {
			return err
		}
		matched = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "conditional update signal %s", id)
	}
	return matched, nil
}

func numFromPtr(p *float64) models.Numeric {
	if p == nil {
		return models.Numeric{}
	}
	return models.Num(*p)
}
