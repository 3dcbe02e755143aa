package calls

import (
	"sync"
	"time"
)

// Timers arms one-shot callbacks keyed by call id. Timers are per-process and not durable;
// every callback re-validates against the store.
type Timers interface {
	Schedule(key string, d time.Duration, fn func())
	Cancel(key string)
	Stop()
}

// LocalTimers backs Timers with time.AfterFunc.
type LocalTimers struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewLocalTimers() *LocalTimers {
	return &LocalTimers{timers: make(map[string]*time.Timer)}
}

// Schedule replaces any timer already armed for key.
func (t *LocalTimers) Schedule(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if old, ok := t.timers[key]; ok {
		old.Stop()
	}
	var tm *time.Timer
	tm = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.timers[key] == tm {
			delete(t.timers, key)
		}
		t.mu.Unlock()
		fn()
	})
	t.timers[key] = tm
}

func (t *LocalTimers) Cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.timers[key]; ok {
		tm.Stop()
		delete(t.timers, key)
	}
}

// Stop cancels every pending timer; later Schedule calls are ignored.
func (t *LocalTimers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for k, tm := range t.timers {
		tm.Stop()
		delete(t.timers, k)
	}
}

// Pending reports how many timers are armed.
func (t *LocalTimers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
