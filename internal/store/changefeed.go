package store

import (
	"context"
	"time"

	"signal_monitor/internal/models"
	"signal_monitor/pkg/db"
	"signal_monitor/pkg/logger"

	"github.com/bytedance/sonic"
)

const feedChannel = "signal_events"

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Event — нотификация об изменении строки сигналов,
// как её шлёт триггер: {eventType, new, old}.
type Event struct {
	EventType string         `json:"eventType"`
	New       *models.Signal `json:"new"`
	Old       *models.Signal `json:"old"`
}

// ChangeFeed слушает NOTIFY по каналу сигналов на выделенном соединении
// и отдаёт распарсенные события в хендлер.
type ChangeFeed struct {
	tm      *db.PgTxManager
	handler func(Event)
}

func NewChangeFeed(tm *db.PgTxManager, handler func(Event)) *ChangeFeed {
	return &ChangeFeed{tm: tm, handler: handler}
}

// Run крутится до отмены контекста; потерянное соединение
// переподнимается через секунду (дрифт позже исправит resync).
func (f *ChangeFeed) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.listen(ctx); err != nil && ctx.Err() == nil {
			logger.Error("[FEED] listen error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (f *ChangeFeed) listen(ctx context.Context) error {
	conn, err := f.tm.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+feedChannel); err != nil {
		return err
	}
	logger.Info("[FEED] listening on %s", feedChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var ev Event
		if err := sonic.Unmarshal([]byte(n.Payload), &ev); err != nil {
			// битый payload просто пропускаем
			logger.Warn("[FEED] malformed payload: %v", err)
			continue
		}
		if ev.New != nil {
			ev.New.Normalize()
		}
		if ev.Old != nil {
			ev.Old.Normalize()
		}
		f.handler(ev)
	}
}
