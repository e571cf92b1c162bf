package watcher

import (
	"sync"
	"time"

	"signal_monitor/internal/models"
)

// Index — in-memory представление всех живых сигналов: by-id плюс
// бакеты по символу. Вся мутация только через Upsert/Remove/ReplaceAll,
// наружу глобальное состояние не торчит.
type Index struct {
	mu       sync.RWMutex
	byID     map[string]*models.Signal
	bySymbol map[string]map[string]struct{} // symbol -> set of ids
}

func NewIndex() *Index {
	return &Index{
		byID:     make(map[string]*models.Signal),
		bySymbol: make(map[string]map[string]struct{}),
	}
}

// Upsert пересчитывает производные поля и кладёт сигнал в индекс.
// Не-активный статус эквивалентен удалению. Если символ поменялся,
// сигнал атомарно переезжает в новый бакет.
func (ix *Index) Upsert(sig models.Signal) {
	sig.Normalize()

	if !models.IsActiveFamily(sig.Status) {
		ix.Remove(sig.ID)
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.byID[sig.ID]; ok && old.Symbol != sig.Symbol {
		ix.dropFromBucket(old.Symbol, sig.ID)
	}

	ix.byID[sig.ID] = &sig
	bucket, ok := ix.bySymbol[sig.Symbol]
	if !ok {
		bucket = make(map[string]struct{})
		ix.bySymbol[sig.Symbol] = bucket
	}
	bucket[sig.ID] = struct{}{}
}

func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	sig, ok := ix.byID[id]
	if !ok {
		return
	}
	delete(ix.byID, id)
	ix.dropFromBucket(sig.Symbol, id)
}

// ReplaceAll целиком заменяет индекс свежей выборкой из стора (resync).
func (ix *Index) ReplaceAll(signals []models.Signal) {
	byID := make(map[string]*models.Signal, len(signals))
	bySymbol := make(map[string]map[string]struct{})
	for i := range signals {
		sig := signals[i]
		sig.Normalize()
		if !models.IsActiveFamily(sig.Status) {
			continue
		}
		byID[sig.ID] = &sig
		bucket, ok := bySymbol[sig.Symbol]
		if !ok {
			bucket = make(map[string]struct{})
			bySymbol[sig.Symbol] = bucket
		}
		bucket[sig.ID] = struct{}{}
	}

	ix.mu.Lock()
	ix.byID = byID
	ix.bySymbol = bySymbol
	ix.mu.Unlock()
}

// Get отдаёт копию, чтобы снаружи никто не мутировал индекс мимо Upsert.
func (ix *Index) Get(id string) (models.Signal, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	sig, ok := ix.byID[id]
	if !ok {
		return models.Signal{}, false
	}
	return *sig, true
}

// MarkEntered фиксирует пройденный entry gate на in-memory копии.
func (ix *Index) MarkEntered(id string, at time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if sig, ok := ix.byID[id]; ok {
		sig.Status = models.StatusEntered
		if sig.EntryTime == nil {
			sig.EntryTime = &at
		}
	}
}

func (ix *Index) IDsForSymbol(symbol string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	bucket, ok := ix.bySymbol[symbol]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	return ids
}

func (ix *Index) Symbols() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	symbols := make([]string, 0, len(ix.bySymbol))
	for s := range ix.bySymbol {
		symbols = append(symbols, s)
	}
	return symbols
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// требует удерживаемого ix.mu
func (ix *Index) dropFromBucket(symbol, id string) {
	bucket, ok := ix.bySymbol[symbol]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(ix.bySymbol, symbol)
	}
}
