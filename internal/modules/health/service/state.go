package service

import (
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected    atomic.Bool
	fallbackActive atomic.Bool
	lastTickUnix   atomic.Int64 // unix seconds

	signals atomic.Int64
	symbols atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) SetFallbackActive(v bool) { s.fallbackActive.Store(v) }
func (s *State) FallbackActive() bool     { return s.fallbackActive.Load() }

func (s *State) SetCounts(signals, symbols int) {
	s.signals.Store(int64(signals))
	s.symbols.Store(int64(symbols))
}
func (s *State) Signals() int64 { return s.signals.Load() }
func (s *State) Symbols() int64 { return s.symbols.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
