package session

import (
	"errors"
	"sync"
	"time"
)

var ErrSessionExists = errors.New("bu akış için zaten aktif bir oturum var")

// Registry, akış kimliğinden oturuma eşzamanlı erişime güvenli bir tablodur.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (r *Registry) Create(p Params) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[p.StreamID]; exists {
		return nil, ErrSessionExists
	}
	s := newSession(p, r.now())
	r.sessions[p.StreamID] = s
	return s, nil
}

func (r *Registry) Get(streamID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[streamID]
	return s, ok
}

// FindByExternalCallID, sağlayıcı çağrı kimliğiyle canlı oturumu arar.
func (r *Registry) FindByExternalCallID(externalCallID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.ExternalCallID == externalCallID {
			return s, true
		}
	}
	return nil, false
}

// Remove, oturumu tablodan çıkarır. Yalnızca gerçekten silen çağrı true döner.
func (r *Registry) Remove(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[streamID]; !ok {
		return false
	}
	delete(r.sessions, streamID)
	return true
}

// Live, oturumun hâlâ tabloda olduğunu ve bitmediğini doğrular. Zamanlayıcılar harekete geçmeden önce bunu kullanır.
func (r *Registry) Live(s *Session) bool {
	if s == nil || s.Ended() {
		return false
	}
	cur, ok := r.Get(s.StreamID)
	return ok && cur == s
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
