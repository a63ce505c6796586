// Package session, canlı çağrı oturumlarını ve arka plan işlerini tutar.
package session

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentiric/sentiric-receptionist-service/internal/constants"
	"github.com/sentiric/sentiric-receptionist-service/internal/model"
	"github.com/sentiric/sentiric-receptionist-service/internal/relay"
)

// Params, yeni bir oturum için gereken sabit bilgilerdir.
type Params struct {
	ID             string
	ExternalCallID string
	StreamID       string
	CallerNumber   string
	CalleeNumber   string
	Language       string
	Telephony      relay.Conn
}

// Session, tek bir canlı çağrının bellekteki durumudur. Transkript ve özet yalnızca
// orkestratörün olay işleyicileri tarafından değiştirilir.
type Session struct {
	ID             string
	ExternalCallID string
	StreamID       string
	CallerNumber   string
	CalleeNumber   string
	StartedAt      time.Time
	Telephony      relay.Conn

	ended atomic.Bool

	mu          sync.Mutex
	state       constants.SessionState
	agent       relay.Conn
	turns       []model.TranscriptTurn
	summary     *model.Summary
	language    string
	transferred bool
	timers      []*time.Timer
	closers     []io.Closer
}

func newSession(p Params, now time.Time) *Session {
	return &Session{
		ID:             p.ID,
		ExternalCallID: p.ExternalCallID,
		StreamID:       p.StreamID,
		CallerNumber:   p.CallerNumber,
		CalleeNumber:   p.CalleeNumber,
		StartedAt:      now,
		Telephony:      p.Telephony,
		state:          constants.StateInitializing,
		language:       p.Language,
	}
}

// End, ended bayrağını atomik olarak false'tan true'ya çevirir. Yalnızca ilk çağrı true döner.
// Bayrak mu altında çevrilir; End döndükten sonra SetSummary başarılı olamaz.
func (s *Session) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended.CompareAndSwap(false, true)
}

func (s *Session) Ended() bool {
	return s.ended.Load()
}

func (s *Session) State() constants.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetState(state constants.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Activate, Connected durumundaki oturumu Active'e taşır; diğer durumlarda bir şey yapmaz.
func (s *Session) Activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != constants.StateConnected {
		return false
	}
	s.state = constants.StateActive
	return true
}

// AttachAgent, ajan soketini oturuma bağlar ve durumu Connected yapar.
func (s *Session) AttachAgent(c relay.Conn) {
	s.mu.Lock()
	s.agent = c
	if s.state == constants.StateInitializing {
		s.state = constants.StateConnected
	}
	s.mu.Unlock()
}

// CloseAgent, ajan soketi açıksa kapatır. Birden fazla çağrı güvenlidir.
func (s *Session) CloseAgent() {
	s.mu.Lock()
	c := s.agent
	s.agent = nil
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// AppendTurn, turu geliş sırasına göre ekler ve sıra numarasını atar.
func (s *Session) AppendTurn(role model.Role, text string) model.TranscriptTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn := model.TranscriptTurn{Role: role, Text: text, Seq: len(s.turns)}
	s.turns = append(s.turns, turn)
	return turn
}

func (s *Session) Transcript() []model.TranscriptTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TranscriptTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

// SetSummary, özeti yalnızca ilk kez ve oturum bitmemişken yazar.
func (s *Session) SetSummary(summary *model.Summary) bool {
	if summary == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended.Load() || s.summary != nil {
		return false
	}
	s.summary = summary.Clone()
	return true
}

func (s *Session) Summary() *model.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary.Clone()
}

func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

func (s *Session) SetLanguage(lang string) {
	if lang == "" {
		return
	}
	s.mu.Lock()
	s.language = lang
	s.mu.Unlock()
}

// MarkTransferred, aktarım ilk kez işaretlendiğinde true döner.
func (s *Session) MarkTransferred() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferred {
		return false
	}
	s.transferred = true
	return true
}

func (s *Session) Transferred() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferred
}

// AddTimer, oturuma ait zamanlayıcıyı kaydeder. Oturum bitmişse zamanlayıcı hemen durdurulur.
func (s *Session) AddTimer(t *time.Timer) {
	if s.Ended() {
		t.Stop()
		return
	}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
}

func (s *Session) StopTimers() {
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

// AddCloser, oturum kapanırken serbest bırakılacak bir kaynağı kaydeder.
func (s *Session) AddCloser(c io.Closer) {
	s.mu.Lock()
	s.closers = append(s.closers, c)
	s.mu.Unlock()
}

// CloseResources, kayıtlı kaynakları eklenme sırasının tersiyle kapatır.
func (s *Session) CloseResources() []error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (s *Session) Duration(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}
