// Package service, çağrı oturumlarının yaşam döngüsünü yöneten orkestratörü içerir.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-receptionist-service/internal/agent"
	"github.com/sentiric/sentiric-receptionist-service/internal/constants"
	"github.com/sentiric/sentiric-receptionist-service/internal/ctxlogger"
	"github.com/sentiric/sentiric-receptionist-service/internal/model"
	"github.com/sentiric/sentiric-receptionist-service/internal/notify"
	"github.com/sentiric/sentiric-receptionist-service/internal/persona"
	"github.com/sentiric/sentiric-receptionist-service/internal/relay"
	"github.com/sentiric/sentiric-receptionist-service/internal/session"
	"github.com/sentiric/sentiric-receptionist-service/internal/state"
	"github.com/sentiric/sentiric-receptionist-service/internal/storage"
)

const (
	defaultMaxCallDuration     = 10 * time.Minute
	defaultRecordingFallback   = 90 * time.Second
	defaultTransferGracePeriod = 4 * time.Second
	defaultAgentConnectTimeout = 10 * time.Second
	finalizeTimeout            = 30 * time.Second
)

// Notifier, sahibe giden bildirim türleridir.
type Notifier interface {
	SendSummary(ctx context.Context, n notify.Notice) error
	SendRecordingOnly(ctx context.Context, n notify.Notice) error
	SendCombined(ctx context.Context, n notify.Notice) error
	SendSummaryOnly(ctx context.Context, n notify.Notice) error
	SendEscalation(ctx context.Context, callID, callerNumber, reason string) error
	SendTransferNoAnswer(ctx context.Context, callID, callerNumber string) error
}

// CallController, canlı çağrıyı başka bir çağrı akışına yönlendirir.
type CallController interface {
	RedirectCall(ctx context.Context, externalCallID, url string) error
}

type AgentDialer interface {
	Dial(ctx context.Context) (relay.Conn, error)
}

// EventPublisher, yaşam döngüsü olaylarını dışarı yayınlar.
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, body interface{}) error
}

// Recorder, arayan sesinin isteğe bağlı kopyasıdır.
type Recorder interface {
	relay.AudioSink
	Close() error
}

type Deps struct {
	Store     storage.Store
	Notifier  Notifier
	Calls     CallController
	Dialer    AgentDialer
	Guard     state.Guard
	Publisher EventPublisher
	Persona   *persona.Persona
	// NewRecorder nil ise ses kaydı yapılmaz.
	NewRecorder func(callID string) (Recorder, error)
	Log         zerolog.Logger
}

type Options struct {
	MaxCallDuration        time.Duration
	RecordingFallbackDelay time.Duration
	TransferGracePeriod    time.Duration
	AgentConnectTimeout    time.Duration
	TransferURL            string
	NoAnswerURL            string
	ApologyURL             string
	DefaultLanguage        string
}

func (o *Options) applyDefaults() {
	if o.MaxCallDuration <= 0 {
		o.MaxCallDuration = defaultMaxCallDuration
	}
	if o.RecordingFallbackDelay <= 0 {
		o.RecordingFallbackDelay = defaultRecordingFallback
	}
	if o.TransferGracePeriod <= 0 {
		o.TransferGracePeriod = defaultTransferGracePeriod
	}
	if o.AgentConnectTimeout <= 0 {
		o.AgentConnectTimeout = defaultAgentConnectTimeout
	}
	if o.DefaultLanguage == "" {
		o.DefaultLanguage = fallbackLanguage
	}
}

// Orchestrator, telefon akışlarını kabul eder, oturumları yürütür ve her çağrıyı tam olarak bir kez sonlandırır.
type Orchestrator struct {
	deps     Deps
	opts     Options
	registry *session.Registry
	tracker  *session.Tracker
	log      zerolog.Logger
	now      func() time.Time

	fallbackMu     sync.Mutex
	fallbackTimers map[string]*time.Timer
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	opts.applyDefaults()
	if deps.Persona == nil {
		deps.Persona = persona.Default()
	}
	if deps.Guard == nil {
		deps.Guard = state.NewMemoryGuard()
	}
	return &Orchestrator{
		deps:           deps,
		opts:           opts,
		registry:       session.NewRegistry(),
		tracker:        session.NewTracker(),
		log:            deps.Log.With().Str("component", "orchestrator").Logger(),
		now:            time.Now,
		fallbackTimers: make(map[string]*time.Timer),
	}
}

// ActiveSessionCount, kayıt defterindeki canlı oturum sayısıdır.
func (o *Orchestrator) ActiveSessionCount() int {
	return o.registry.Count()
}

// liveCall, tek bir akışın olay işleyicilerinin paylaştığı bağlamdır.
type liveCall struct {
	s      *session.Session
	engine *relay.Engine
	ctx    context.Context
	log    zerolog.Logger
}

// HandleInboundStream, bir telefon medya akışını baştan sona yürütür. Akış bitene kadar bloklar.
func (o *Orchestrator) HandleInboundStream(ctx context.Context, telephony relay.Conn) error {
	tel := relay.NewLockedConn(telephony)
	start, err := awaitStart(tel)
	if err != nil {
		_ = tel.Close()
		return err
	}

	l := o.log.With().Str("stream_id", start.StreamSID).Str("external_call_id", start.ExternalCallID).Logger()
	rec, err := o.deps.Store.EnsureCallRecord(ctx, storage.CallInit{
		ExternalCallID: start.ExternalCallID,
		Kind:           string(constants.CallKindVoice),
		CallerNumber:   start.From,
		CalleeNumber:   start.To,
		StartedAt:      o.now().UTC(),
	})
	if err != nil {
		l.Error().Err(err).Msg("Çağrı kaydı oluşturulamadı, akış kapatılıyor.")
		_ = tel.Close()
		return fmt.Errorf("çağrı kaydı oluşturulamadı: %w", err)
	}

	callerCtx := o.loadCallerContext(ctx, rec.CallerNumber, rec.ID, l)
	s, err := o.registry.Create(session.Params{
		ID:             rec.ID,
		ExternalCallID: rec.ExternalCallID,
		StreamID:       start.StreamSID,
		CallerNumber:   rec.CallerNumber,
		CalleeNumber:   rec.CalleeNumber,
		Language:       resolveLanguage(start.Parameters, callerCtx, o.opts.DefaultLanguage),
		Telephony:      tel,
	})
	if err != nil {
		l.Warn().Err(err).Msg("Aynı akış için ikinci bağlantı reddedildi.")
		_ = tel.Close()
		return err
	}
	l = l.With().Str("call_id", s.ID).Logger()
	ctx = ctxlogger.ToContext(ctx, l)
	l.Info().Str("caller", s.CallerNumber).Msg("📞 Yeni çağrı oturumu başladı.")

	agentConn, err := o.connectAgent(ctx, s, callerCtx)
	if err != nil {
		l.Error().Err(err).Msg("Ajan bağlantısı kurulamadı, özür akışına yönlendiriliyor.")
		o.redirect(ctx, s, o.opts.ApologyURL, l)
		o.endSession(s, constants.EndReasonAgentFailed)
		return nil
	}

	call := &liveCall{
		s:      s,
		engine: relay.NewEngine(start.StreamSID, tel, agentConn, o.openRecorder(s, l), l),
		ctx:    ctx,
		log:    l,
	}
	s.AddTimer(time.AfterFunc(o.opts.MaxCallDuration, func() {
		if o.registry.Live(s) {
			l.Warn().Dur("max", o.opts.MaxCallDuration).Msg("⏱️ Azami çağrı süresi doldu.")
			o.endSession(s, constants.EndReasonMaxDuration)
		}
	}))

	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		err := call.engine.PumpAgent(func(ev agent.Event) { o.interpret(call, ev) })
		o.endSession(s, agentEndReason(err))
	}()

	telErr := call.engine.PumpTelephony()
	o.endSession(s, telephonyEndReason(telErr))
	<-agentDone
	return nil
}

// awaitStart, "start" çerçevesi gelene kadar bağlantı ve işaret çerçevelerini atlar.
func awaitStart(tel relay.Conn) (*relay.StartInfo, error) {
	for {
		_, data, err := tel.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("start çerçevesi gelmeden akış kapandı: %w", err)
		}
		frame, err := relay.DecodeTelephony(data)
		if err != nil {
			continue
		}
		switch frame.Event {
		case relay.FrameStart:
			info := frame.StartInfo()
			if info == nil || info.StreamSID == "" || info.ExternalCallID == "" {
				return nil, errors.New("start çerçevesinde akış veya çağrı kimliği eksik")
			}
			return info, nil
		case relay.FrameStop:
			return nil, relay.ErrStreamStopped
		}
	}
}

func (o *Orchestrator) connectAgent(ctx context.Context, s *session.Session, callerCtx *model.CallerContext) (relay.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, o.opts.AgentConnectTimeout)
	defer cancel()
	conn, err := o.deps.Dialer.Dial(dialCtx)
	if err != nil {
		return nil, err
	}
	ag := relay.NewLockedConn(conn)

	p := o.deps.Persona
	lang := s.Language()
	cfg := agent.NewSessionConfig(p.Instructions(), lang, p.Greeting(lang, callerCtx), persona.ContextBlock(callerCtx), p.Voice)
	payload, err := cfg.Encode()
	if err == nil {
		err = ag.WriteMessage(websocket.TextMessage, payload)
	}
	if err != nil {
		_ = ag.Close()
		return nil, fmt.Errorf("%w: yapılandırma gönderilemedi: %v", agent.ErrAgentUnavailable, err)
	}
	s.AttachAgent(ag)
	return ag, nil
}

func (o *Orchestrator) openRecorder(s *session.Session, l zerolog.Logger) relay.AudioSink {
	if o.deps.NewRecorder == nil {
		return nil
	}
	rec, err := o.deps.NewRecorder(s.ID)
	if err != nil {
		l.Warn().Err(err).Msg("Ses kaydı başlatılamadı, çağrı kayıtsız devam ediyor.")
		return nil
	}
	s.AddCloser(rec)
	return rec
}

func (o *Orchestrator) redirect(ctx context.Context, s *session.Session, url string, l zerolog.Logger) {
	if url == "" || o.deps.Calls == nil {
		return
	}
	if err := o.deps.Calls.RedirectCall(ctx, s.ExternalCallID, url); err != nil {
		l.Error().Err(err).Str("url", url).Msg("Çağrı yönlendirilemedi.")
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType constants.EventType, body interface{}, l zerolog.Logger) {
	if o.deps.Publisher == nil {
		return
	}
	if err := o.deps.Publisher.PublishJSON(ctx, string(eventType), body); err != nil {
		l.Warn().Err(err).Str("event_type", string(eventType)).Msg("Yaşam döngüsü olayı yayınlanamadı.")
	}
}

// Shutdown, canlı tüm oturumları "shutdown" sebebiyle sonlandırır ve arka plan işlerini ctx süresince bekler.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	live := o.registry.Snapshot()
	o.log.Info().Int("sessions", len(live)).Msg("Canlı oturumlar kapatılıyor...")
	for _, s := range live {
		o.endSession(s, constants.EndReasonShutdown)
	}

	o.fallbackMu.Lock()
	for id, t := range o.fallbackTimers {
		t.Stop()
		delete(o.fallbackTimers, id)
	}
	o.fallbackMu.Unlock()

	if !o.tracker.Wait(ctx) {
		o.log.Warn().Int("pending", o.tracker.Pending()).Msg("Arka plan işleri zaman aşımında tamamlanamadı.")
		return ctx.Err()
	}
	o.log.Info().Msg("Tüm oturumlar sonlandırıldı.")
	return nil
}
