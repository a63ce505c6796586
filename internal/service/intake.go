package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sentiric/sentiric-receptionist-service/internal/constants"
	"github.com/sentiric/sentiric-receptionist-service/internal/ctxlogger"
	"github.com/sentiric/sentiric-receptionist-service/internal/metrics"
	"github.com/sentiric/sentiric-receptionist-service/internal/model"
	"github.com/sentiric/sentiric-receptionist-service/internal/notify"
	"github.com/sentiric/sentiric-receptionist-service/internal/storage"
	"github.com/sentiric/sentiric-receptionist-service/internal/transcript"
)

// smsConfidence, yazılı mesajların ses transkriptinden daha güvenilir kabul edildiği sabit skordur.
const smsConfidence = 0.85

// HandleInboundCall, gelen çağrı webhook'unda çağrı kaydını oluşturur. Tekrarlanan olaylar aynı kaydı döndürür.
func (o *Orchestrator) HandleInboundCall(ctx context.Context, externalCallID, from, to string) (*model.CallRecord, error) {
	rec, err := o.deps.Store.EnsureCallRecord(ctx, storage.CallInit{
		ExternalCallID: externalCallID,
		Kind:           string(constants.CallKindVoice),
		CallerNumber:   from,
		CalleeNumber:   to,
		StartedAt:      o.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	l := ctxlogger.FromContextOr(ctx, o.log)
	l.Info().Str("call_id", rec.ID).Str("external_call_id", externalCallID).Str("caller", from).Msg("Gelen çağrı kaydedildi.")
	return rec, nil
}

// HandleInboundSMS, sahibin numarasına gelen SMS'i doğrudan özetleyip bildirir.
func (o *Orchestrator) HandleInboundSMS(ctx context.Context, messageSID, from, to, body string) error {
	body = strings.TrimSpace(body)
	if messageSID == "" {
		messageSID = "sms-" + uuid.NewString()
	}
	l := ctxlogger.FromContextOr(ctx, o.log).With().Str("message_sid", messageSID).Str("caller", from).Logger()

	rec, err := o.deps.Store.EnsureCallRecord(ctx, storage.CallInit{
		ExternalCallID: messageSID,
		Kind:           string(constants.CallKindSMS),
		CallerNumber:   from,
		CalleeNumber:   to,
		StartedAt:      o.now().UTC(),
	})
	if err != nil {
		return err
	}
	if rec.Finalized() {
		l.Debug().Msg("SMS zaten işlenmiş, yinelenen olay yok sayıldı.")
		return nil
	}

	summary := &model.Summary{
		Reason:          transcript.ShortReason(body),
		Urgency:         model.UrgencyMedium,
		PromisedActions: []string{},
		ConfidenceScore: smsConfidence,
		Narrative:       body,
	}
	turn := model.TranscriptTurn{Role: model.RoleCaller, Text: body, Seq: 0}
	if err := o.deps.Store.AppendTurn(ctx, rec.ID, turn); err != nil {
		l.Warn().Err(err).Msg("SMS metni transkript olarak kaydedilemedi.")
	}

	err = o.deps.Store.FinalizeCall(ctx, rec.ID, storage.CallOutcome{
		Status:    string(constants.CallStatusCompleted),
		EndedAt:   o.now().UTC(),
		Summary:   summary,
		EndReason: string(constants.CallKindSMS),
	})
	if err != nil {
		return fmt.Errorf("sms kaydı sonlandırılamadı: %w", err)
	}

	notice := notify.Notice{
		CallID:       rec.ID,
		CallerNumber: from,
		Summary:      summary,
		Transcript:   transcript.Render([]model.TranscriptTurn{turn}),
	}
	if err := o.deps.Notifier.SendSummary(ctx, notice); err != nil {
		if statusErr := o.deps.Store.SetCallStatus(ctx, rec.ID, string(constants.CallStatusFailed)); statusErr != nil {
			l.Error().Err(statusErr).Msg("SMS kaydı 'failed' olarak işaretlenemedi.")
		}
		return err
	}
	if err := o.deps.Store.MarkSummaryNotified(ctx, rec.ID); err != nil {
		l.Warn().Err(err).Msg("Özet bildirildi olarak işaretlenemedi.")
	}
	metrics.CallsFinalized.WithLabelValues(string(constants.CallKindSMS), summarySourceAgent).Inc()
	l.Info().Msg("✉️ Gelen SMS özetlenip sahibe iletildi.")
	return nil
}

// HandleMessageStatus, sağlayıcının teslim durumu bildirimini ilgili bildirim kaydına yansıtır.
func (o *Orchestrator) HandleMessageStatus(ctx context.Context, providerMessageID, status, errText string) error {
	l := ctxlogger.FromContextOr(ctx, o.log).With().Str("message_sid", providerMessageID).Str("status", status).Logger()
	mapped, ok := mapDeliveryStatus(status)
	if !ok {
		l.Debug().Msg("Ara teslim durumu yok sayıldı.")
		return nil
	}
	found, err := o.deps.Store.UpdateNotificationStatus(ctx, providerMessageID, mapped, errText)
	if err != nil {
		return err
	}
	if !found {
		l.Warn().Msg("Teslim durumu bilinmeyen bir mesaj için geldi.")
	}
	return nil
}

func mapDeliveryStatus(status string) (model.NotificationStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "sent", "delivered", "read":
		return model.NotificationSent, true
	case "failed", "undelivered":
		return model.NotificationFailed, true
	default:
		return "", false
	}
}

// isNotFound, depodan gelen hatanın eksik kayıttan kaynaklanıp kaynaklanmadığını söyler.
func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
