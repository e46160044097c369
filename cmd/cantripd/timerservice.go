package main

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cantripos/cantripos"
	"github.com/cantripos/cantripos/sdkruntime"
)

// realTimerService is the in-process analogue of the seL4 platform timer
// driver: each runtime-global id gets its own time.Timer, and firing sets
// the corresponding bit in a shared pending mask that Wait/Poll drain.
type realTimerService struct {
	mu      sync.Mutex
	timers  map[sdkruntime.TimerID]*time.Timer
	periods map[sdkruntime.TimerID]time.Duration

	pending atomic.Uint32
	waiters chan struct{}
}

func newRealTimerService() *realTimerService {
	return &realTimerService{
		timers:  make(map[sdkruntime.TimerID]*time.Timer),
		periods: make(map[sdkruntime.TimerID]time.Duration),
		waiters: make(chan struct{}, 1),
	}
}

func (s *realTimerService) signal(id sdkruntime.TimerID) {
	for {
		old := s.pending.Load()
		if s.pending.CompareAndSwap(old, old|(1<<uint(id))) {
			break
		}
	}
	select {
	case s.waiters <- struct{}{}:
	default:
	}
}

func (s *realTimerService) Oneshot(id sdkruntime.TimerID, durationMs uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	delete(s.periods, id)
	s.timers[id] = time.AfterFunc(time.Duration(durationMs)*time.Millisecond, func() { s.signal(id) })
	return nil
}

func (s *realTimerService) Periodic(id sdkruntime.TimerID, durationMs uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	period := time.Duration(durationMs) * time.Millisecond
	s.periods[id] = period
	var rearm func()
	rearm = func() {
		s.signal(id)
		s.mu.Lock()
		if _, stillPeriodic := s.periods[id]; stillPeriodic {
			s.timers[id] = time.AfterFunc(period, rearm)
		}
		s.mu.Unlock()
	}
	s.timers[id] = time.AfterFunc(period, rearm)
	return nil
}

func (s *realTimerService) Cancel(id sdkruntime.TimerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return cantripos.NewError("realTimerService.Cancel", cantripos.ErrCodeNoSuchTimer, "timer not armed")
	}
	t.Stop()
	delete(s.timers, id)
	delete(s.periods, id)
	return nil
}

func (s *realTimerService) Poll() (uint32, error) {
	return s.pending.Swap(0), nil
}

func (s *realTimerService) Wait() (uint32, error) {
	for {
		if mask := s.pending.Swap(0); mask != 0 {
			return mask, nil
		}
		<-s.waiters
	}
}

var _ sdkruntime.TimerService = (*realTimerService)(nil)
