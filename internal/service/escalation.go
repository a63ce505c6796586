package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sentiric/sentiric-receptionist-service/internal/agent"
	"github.com/sentiric/sentiric-receptionist-service/internal/constants"
	"github.com/sentiric/sentiric-receptionist-service/internal/ctxlogger"
)

const escalationNoticeTimeout = 15 * time.Second

// CallEscalatedEvent, canlı çağrı sahibe aktarılırken yayınlanır.
type CallEscalatedEvent struct {
	EventType      string `json:"eventType"`
	CallID         string `json:"callId"`
	ExternalCallID string `json:"externalCallId"`
	CallerNumber   string `json:"callerNumber"`
	Reason         string `json:"reason"`
}

// escalate, ajana "bekletin" onayı verir, sahibi uyarır ve kısa bir süre sonra çağrıyı aktarım akışına yönlendirir.
func (o *Orchestrator) escalate(c *liveCall, e agent.TransferRequest) {
	s := c.s
	if !s.MarkTransferred() {
		o.ack(c, e.CallID, map[string]string{"status": "already_transferring"})
		return
	}
	o.ack(c, e.CallID, map[string]string{"status": "transferring"})
	l := c.log.With().Str("transfer_reason", e.Reason).Logger()
	l.Info().Msg("🚨 Arayan sahiple görüşmek istiyor, aktarım başlatılıyor.")

	o.tracker.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), escalationNoticeTimeout)
		defer cancel()
		if err := o.deps.Notifier.SendEscalation(ctx, s.ID, s.CallerNumber, e.Reason); err != nil {
			l.Error().Err(err).Msg("Aktarım uyarısı gönderilemedi.")
		}
	})
	o.publish(c.ctx, constants.EventTypeCallEscalated, CallEscalatedEvent{
		EventType:      string(constants.EventTypeCallEscalated),
		CallID:         s.ID,
		ExternalCallID: s.ExternalCallID,
		CallerNumber:   s.CallerNumber,
		Reason:         e.Reason,
	}, l)

	s.AddTimer(time.AfterFunc(o.opts.TransferGracePeriod, func() {
		if !o.registry.Live(s) {
			return
		}
		o.redirect(context.Background(), s, o.opts.TransferURL, l)
	}))
}

// HandleRedirectOutcome, aktarılan çağrının sahip tarafından açılıp açılmadığını işler. Açılmadıysa sahibe
// geri arama bildirimi bir kez gönderilir ve arayan kapanış mesajına yönlendirilir.
func (o *Orchestrator) HandleRedirectOutcome(ctx context.Context, externalCallID string, answered bool) error {
	l := ctxlogger.FromContextOr(ctx, o.log).With().Str("external_call_id", externalCallID).Bool("answered", answered).Logger()
	if answered {
		l.Info().Msg("✅ Aktarılan çağrı sahip tarafından açıldı.")
		return nil
	}
	rec, err := o.deps.Store.GetCallByExternalID(ctx, externalCallID)
	if err != nil {
		return fmt.Errorf("aktarım sonucu için çağrı bulunamadı: %w", err)
	}
	if !o.claim(ctx, constants.GuardNoAnswerNotice+rec.ID, l) {
		l.Debug().Msg("Cevapsız aktarım zaten işlendi.")
		return nil
	}

	l.Info().Msg("📵 Aktarılan çağrı cevapsız kaldı.")
	notifyErr := o.deps.Notifier.SendTransferNoAnswer(ctx, rec.ID, rec.CallerNumber)
	if notifyErr != nil {
		l.Error().Err(notifyErr).Msg("Cevapsız aktarım bildirimi gönderilemedi.")
	}
	if o.opts.NoAnswerURL != "" && o.deps.Calls != nil {
		if err := o.deps.Calls.RedirectCall(ctx, externalCallID, o.opts.NoAnswerURL); err != nil {
			l.Warn().Err(err).Msg("Arayan kapanış mesajına yönlendirilemedi (çağrı bitmiş olabilir).")
		}
	}
	return notifyErr
}
