package session

import (
	"context"
	"sync"
)

// Tracker, kapanışta beklenmesi gereken arka plan işlerini sayar. Wait sürerken yeni iş eklenebilir.
type Tracker struct {
	mu      sync.Mutex
	pending int
	idle    chan struct{}
}

func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{idle: idle}
}

func (t *Tracker) Go(fn func()) {
	t.mu.Lock()
	if t.pending == 0 {
		t.idle = make(chan struct{})
	}
	t.pending++
	t.mu.Unlock()

	go func() {
		defer t.done()
		fn()
	}()
}

func (t *Tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending--
	if t.pending == 0 {
		close(t.idle)
	}
}

func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Wait, tüm işler bitince true; context önce biterse false döner. Beklerken başlayan işler de beklenir.
func (t *Tracker) Wait(ctx context.Context) bool {
	for {
		t.mu.Lock()
		if t.pending == 0 {
			t.mu.Unlock()
			return true
		}
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return false
		}
	}
}
