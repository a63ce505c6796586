package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-receptionist-service/internal/constants"
	"github.com/sentiric/sentiric-receptionist-service/internal/metrics"
	"github.com/sentiric/sentiric-receptionist-service/internal/model"
	"github.com/sentiric/sentiric-receptionist-service/internal/notify"
	"github.com/sentiric/sentiric-receptionist-service/internal/relay"
	"github.com/sentiric/sentiric-receptionist-service/internal/session"
	"github.com/sentiric/sentiric-receptionist-service/internal/storage"
	"github.com/sentiric/sentiric-receptionist-service/internal/transcript"
)

const (
	summarySourceAgent    = "agent"
	summarySourceFallback = "fallback"
)

// CallFinalizedEvent, sonlandırma sonrası yayınlanan olaydır.
type CallFinalizedEvent struct {
	EventType       string    `json:"eventType"`
	CallID          string    `json:"callId"`
	ExternalCallID  string    `json:"externalCallId"`
	CallerNumber    string    `json:"callerNumber"`
	Reason          string    `json:"reason"`
	Urgency         string    `json:"urgency"`
	UsedFallback    bool      `json:"usedFallback"`
	Transferred     bool      `json:"transferred"`
	DurationSeconds int       `json:"durationSeconds"`
	EndedAt         time.Time `json:"endedAt"`
}

// endSession, tüm sonlandırma tetikleyicilerinin ortak giriş noktasıdır. Oturum zaten bittiyse bir şey yapmaz.
func (o *Orchestrator) endSession(s *session.Session, reason constants.EndReason) {
	if s.Ended() {
		return
	}
	o.tracker.Go(func() { o.finalize(s, reason) })
}

// finalize, bir oturumu tam olarak bir kez kapatır. ended bayrağı ilk iştir; ikinci çağrı hemen döner.
func (o *Orchestrator) finalize(s *session.Session, reason constants.EndReason) {
	if !s.End() {
		return
	}
	s.SetState(constants.StateFinalizing)
	o.registry.Remove(s.StreamID)
	s.StopTimers()
	s.CloseAgent()
	if s.Telephony != nil {
		_ = s.Telephony.Close()
	}

	l := o.log.With().Str("call_id", s.ID).Str("external_call_id", s.ExternalCallID).Str("end_reason", string(reason)).Logger()
	for _, err := range s.CloseResources() {
		l.Warn().Err(err).Msg("Oturum kaynağı kapatılamadı.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	endedAt := o.now().UTC()
	duration := s.Duration(endedAt)
	turns := s.Transcript()
	summary := s.Summary()
	usedFallback := summary == nil
	if usedFallback {
		summary = transcript.Fallback(turns)
		l.Info().Msg("Yapılandırılmış özet yok, transkriptten yedek özet üretildi.")
	}

	failed := false
	err := o.deps.Store.FinalizeCall(ctx, s.ID, storage.CallOutcome{
		Status:          string(constants.CallStatusCompleted),
		EndedAt:         endedAt,
		DurationSeconds: int(duration / time.Second),
		Summary:         summary,
		UsedFallback:    usedFallback,
		Transferred:     s.Transferred(),
		EndReason:       string(reason),
		Language:        s.Language(),
	})
	if err != nil {
		failed = true
		l.Error().Err(err).Msg("❌ Çağrı kaydı sonlandırılamadı.")
		o.markFailed(ctx, s.ID, l)
	}

	notice := notify.Notice{
		CallID:       s.ID,
		CallerNumber: s.CallerNumber,
		Summary:      summary,
		Transcript:   transcript.Render(turns),
		Duration:     duration,
	}
	if err := o.sendFinalNotice(ctx, notice, l); err != nil {
		l.Error().Err(err).Msg("❌ Özet bildirimi gönderilemedi.")
		if !failed {
			o.markFailed(ctx, s.ID, l)
		}
		failed = true
	} else if err := o.deps.Store.MarkSummaryNotified(ctx, s.ID); err != nil {
		l.Warn().Err(err).Msg("Özet bildirildi olarak işaretlenemedi.")
	}
	s.SetState(constants.StateClosed)

	source := summarySourceAgent
	if usedFallback {
		source = summarySourceFallback
	}
	metrics.CallsFinalized.WithLabelValues(string(reason), source).Inc()
	metrics.CallDuration.Observe(duration.Seconds())

	o.publish(ctx, constants.EventTypeCallFinalized, CallFinalizedEvent{
		EventType:       string(constants.EventTypeCallFinalized),
		CallID:          s.ID,
		ExternalCallID:  s.ExternalCallID,
		CallerNumber:    s.CallerNumber,
		Reason:          summary.Reason,
		Urgency:         string(summary.Urgency),
		UsedFallback:    usedFallback,
		Transferred:     s.Transferred(),
		DurationSeconds: int(duration / time.Second),
		EndedAt:         endedAt,
	}, l)
	l.Info().Dur("duration", duration).Bool("used_fallback", usedFallback).Bool("failed", failed).Msg("✅ Çağrı sonlandırıldı.")
}

// markFailed, çağrıyı 'failed' olarak işaretler.
func (o *Orchestrator) markFailed(ctx context.Context, callID string, l zerolog.Logger) {
	if err := o.deps.Store.SetCallStatus(ctx, callID, string(constants.CallStatusFailed)); err != nil {
		l.Error().Err(err).Msg("Çağrı durumu 'failed' olarak işaretlenemedi.")
	}
}

// sendFinalNotice, kayıt referansı sonlandırmadan önce geldiyse özeti ve kaydı tek mesajda birleştirir.
func (o *Orchestrator) sendFinalNotice(ctx context.Context, n notify.Notice, l zerolog.Logger) error {
	rec, err := o.deps.Store.GetCall(ctx, n.CallID)
	if err != nil {
		l.Warn().Err(err).Msg("Kayıt referansı kontrol edilemedi, yalnızca özet gönderiliyor.")
		return o.deps.Notifier.SendSummary(ctx, n)
	}
	if rec.RecordingRef != "" && o.claim(ctx, constants.GuardRecordingNotice+n.CallID, l) {
		n.RecordingRef = rec.RecordingRef
		return o.deps.Notifier.SendCombined(ctx, n)
	}
	return o.deps.Notifier.SendSummary(ctx, n)
}

// claim, kilit alınamazsa (ör. Redis hatası) false döner; yinelenen bildirim yerine eksik bildirim tercih edilir.
func (o *Orchestrator) claim(ctx context.Context, key string, l zerolog.Logger) bool {
	won, err := o.deps.Guard.Claim(ctx, key)
	if err != nil {
		l.Error().Err(err).Str("key", key).Msg("Tekil işlem kilidi alınamadı.")
		return false
	}
	return won
}

func telephonyEndReason(err error) constants.EndReason {
	switch {
	case errors.Is(err, relay.ErrStreamStopped):
		return constants.EndReasonStreamStop
	case err == nil || relay.IsClosed(err):
		return constants.EndReasonTelephonyClose
	default:
		return constants.EndReasonTelephonyError
	}
}

func agentEndReason(err error) constants.EndReason {
	if err == nil || relay.IsClosed(err) {
		return constants.EndReasonAgentClose
	}
	return constants.EndReasonAgentError
}

func noticeFromRecord(rec *model.CallRecord, turns []model.TranscriptTurn) notify.Notice {
	return notify.Notice{
		CallID:       rec.ID,
		CallerNumber: rec.CallerNumber,
		Summary:      rec.Summary,
		Transcript:   transcript.Render(turns),
		RecordingRef: rec.RecordingRef,
		Duration:     time.Duration(rec.DurationSeconds) * time.Second,
	}
}
