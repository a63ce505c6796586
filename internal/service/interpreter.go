package service

import (
	"context"
	"time"

	"github.com/sentiric/sentiric-receptionist-service/internal/agent"
)

const turnPersistTimeout = 5 * time.Second

// interpret, ajan olaylarını geliş sırasıyla oturum üzerinde uygular. Bilinmeyen olaylar yok sayılır.
func (o *Orchestrator) interpret(c *liveCall, ev agent.Event) {
	switch e := ev.(type) {
	case agent.ConversationTurn:
		o.recordTurn(c, e)
	case agent.SummaryRequest:
		o.storeSummary(c, e)
	case agent.TransferRequest:
		o.escalate(c, e)
	case agent.InvalidToolCall:
		c.log.Warn().Str("tool", e.Name).Str("reason", e.Reason).Msg("Araç çağrısı argümanları çözülemedi.")
		o.ack(c, e.CallID, map[string]string{"status": "error", "error": "invalid_arguments"})
	case agent.Lifecycle:
		if e.Kind == agent.LifecycleInterruption {
			if err := c.engine.Clear(); err != nil {
				c.log.Debug().Err(err).Msg("Clear çerçevesi gönderilemedi.")
			}
			return
		}
		c.log.Debug().Str("lifecycle", string(e.Kind)).Msg("Ajan yaşam döngüsü olayı.")
	case agent.LanguageDetected:
		c.s.SetLanguage(e.Language)
		c.log.Info().Str("language", e.Language).Msg("Konuşma dili algılandı.")
	default:
		c.log.Debug().Str("event", agent.Name(ev)).Msg("Tanınmayan ajan olayı yok sayıldı.")
	}
}

// recordTurn, turu bellekteki transkripte ekler ve arka planda kalıcı hale getirir.
// Kalıcılık hatası çağrıyı etkilemez; bellekteki transkript esastır.
func (o *Orchestrator) recordTurn(c *liveCall, e agent.ConversationTurn) {
	if e.Text == "" {
		return
	}
	turn := c.s.AppendTurn(e.Role, e.Text)
	c.s.Activate()
	callID := c.s.ID
	l := c.log
	o.tracker.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), turnPersistTimeout)
		defer cancel()
		if err := o.deps.Store.AppendTurn(ctx, callID, turn); err != nil {
			l.Error().Err(err).Int("seq", turn.Seq).Msg("Transkript turu kaydedilemedi.")
		}
	})
}

func (o *Orchestrator) storeSummary(c *liveCall, e agent.SummaryRequest) {
	status := "saved"
	switch {
	case c.s.SetSummary(e.Summary):
		c.log.Info().Str("urgency", string(e.Summary.Urgency)).Float64("confidence", e.Summary.ConfidenceScore).Msg("📝 Yapılandırılmış özet alındı.")
	case c.s.Ended():
		status = "call_ended"
		c.log.Warn().Msg("Özet, çağrı sonlandırıldıktan sonra geldi; yok sayıldı.")
	default:
		status = "already_saved"
		c.log.Warn().Msg("Çağrı için özet zaten kaydedilmiş, ikincisi yok sayıldı.")
	}
	o.ack(c, e.CallID, map[string]string{"status": status})
}

// ack, ajanın konuşmaya devam edebilmesi için araç çağrısını onaylar.
func (o *Orchestrator) ack(c *liveCall, callID string, output interface{}) {
	payload, err := agent.EncodeFunctionResult(callID, output)
	if err != nil {
		c.log.Error().Err(err).Msg("Araç sonucu kodlanamadı.")
		return
	}
	if err := c.engine.SendAgent(payload); err != nil {
		c.log.Warn().Err(err).Msg("Araç sonucu ajana gönderilemedi.")
	}
}
