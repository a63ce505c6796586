// Package notify, çağrı sahibine SMS ve WhatsApp üzerinden bildirim gönderir.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-receptionist-service/internal/client"
	"github.com/sentiric/sentiric-receptionist-service/internal/constants"
	"github.com/sentiric/sentiric-receptionist-service/internal/metrics"
	"github.com/sentiric/sentiric-receptionist-service/internal/model"
)

// Sender, mesaj kanallarının sağlayıcı tarafıdır.
type Sender interface {
	SendSMS(ctx context.Context, from, to, body string) (string, error)
	SendWhatsApp(ctx context.Context, from, to, body, mediaURL string) (string, error)
}

// RecordStore, her gönderim denemesinin denetim kaydını tutar.
type RecordStore interface {
	SaveNotification(ctx context.Context, rec *model.NotificationRecord) error
}

// Recipients, sahibin ve gönderen hatların numaralarıdır. WhatsAppTo boşsa WhatsApp kanalı atlanır.
type Recipients struct {
	SMSFrom      string
	SMSTo        string
	WhatsAppFrom string
	WhatsAppTo   string
	// RecordingBaseURL, kayıt referansı tam URL değilse önüne eklenir.
	RecordingBaseURL string
}

type Dispatcher struct {
	sender     Sender
	records    RecordStore
	recipients Recipients
	log        zerolog.Logger
	now        func() time.Time
}

func NewDispatcher(sender Sender, records RecordStore, recipients Recipients, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:     sender,
		records:    records,
		recipients: recipients,
		log:        log.With().Str("component", "notify").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// message, tek bir bildirimin kanal bazlı gövdeleridir.
type message struct {
	kind     constants.NotificationKind
	callID   string
	sms      string
	whatsapp string
	mediaURL string
}

// SendSummary, çağrı sonu özetini gönderir. WhatsApp mesajı transkripti de içerir.
func (d *Dispatcher) SendSummary(ctx context.Context, n Notice) error {
	body := SummaryText(n)
	return d.dispatch(ctx, message{
		kind:     constants.NotificationSummary,
		callID:   n.CallID,
		sms:      body,
		whatsapp: withTranscript(body, n.Transcript),
	})
}

// SendRecordingOnly, özet zaten gönderilmişken gelen kaydı iletir.
func (d *Dispatcher) SendRecordingOnly(ctx context.Context, n Notice) error {
	link := d.recordingLink(n.RecordingRef)
	body := recordingOnlyText(n, link)
	return d.dispatch(ctx, message{
		kind:     constants.NotificationRecordingOnly,
		callID:   n.CallID,
		sms:      body,
		whatsapp: body,
		mediaURL: link,
	})
}

// SendCombined, özet ve kayıt aynı anda hazırsa tek mesaj gönderir.
func (d *Dispatcher) SendCombined(ctx context.Context, n Notice) error {
	link := d.recordingLink(n.RecordingRef)
	body := withRecording(SummaryText(n), link)
	return d.dispatch(ctx, message{
		kind:     constants.NotificationCombined,
		callID:   n.CallID,
		sms:      body,
		whatsapp: withTranscript(body, n.Transcript),
		mediaURL: link,
	})
}

// SendSummaryOnly, kayıt hiç gelmediğinde son çare olarak gönderilir.
func (d *Dispatcher) SendSummaryOnly(ctx context.Context, n Notice) error {
	body := summaryOnlyText(n)
	return d.dispatch(ctx, message{
		kind:     constants.NotificationSummaryOnly,
		callID:   n.CallID,
		sms:      body,
		whatsapp: withTranscript(body, n.Transcript),
	})
}

func (d *Dispatcher) SendEscalation(ctx context.Context, callID, callerNumber, reason string) error {
	body := escalationText(callerNumber, reason)
	return d.dispatch(ctx, message{kind: constants.NotificationEscalation, callID: callID, sms: body, whatsapp: body})
}

func (d *Dispatcher) SendTransferNoAnswer(ctx context.Context, callID, callerNumber string) error {
	body := transferNoAnswerText(callerNumber)
	return d.dispatch(ctx, message{kind: constants.NotificationTransferNoAnswer, callID: callID, sms: body, whatsapp: body})
}

func (d *Dispatcher) recordingLink(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || d.recipients.RecordingBaseURL == "" {
		return ref
	}
	return strings.TrimRight(d.recipients.RecordingBaseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}

// dispatch, önce SMS'i dener ve sonucunu döndürür. WhatsApp yapılandırılmışsa ayrıca denenir;
// WhatsApp hatası yalnızca loglanır.
func (d *Dispatcher) dispatch(ctx context.Context, m message) error {
	l := d.log.With().Str("call_id", m.callID).Str("kind", string(m.kind)).Logger()

	sid, smsErr := d.sender.SendSMS(ctx, d.recipients.SMSFrom, d.recipients.SMSTo, m.sms)
	d.audit(ctx, l, m, model.ChannelSMS, d.recipients.SMSTo, sid, smsErr)
	if smsErr != nil {
		l.Error().Err(smsErr).Msg("❌ SMS bildirimi gönderilemedi.")
	} else {
		l.Info().Str("message_sid", sid).Msg("✅ SMS bildirimi gönderildi.")
	}

	if d.recipients.WhatsAppTo != "" {
		d.sendWhatsApp(ctx, l, m)
	}

	if smsErr != nil {
		return fmt.Errorf("sms bildirimi başarısız: %w", smsErr)
	}
	return nil
}

func (d *Dispatcher) sendWhatsApp(ctx context.Context, l zerolog.Logger, m message) {
	from := d.recipients.WhatsAppFrom
	if from == "" {
		from = d.recipients.SMSFrom
	}
	to := d.recipients.WhatsAppTo

	sid, err := d.sender.SendWhatsApp(ctx, from, to, m.whatsapp, m.mediaURL)
	d.audit(ctx, l, m, model.ChannelWhatsApp, to, sid, err)
	if err != nil && m.mediaURL != "" && errors.Is(err, client.ErrMediaRejected) {
		l.Warn().Err(err).Msg("Kayıt eki reddedildi, bağlantılı metin mesajına düşülüyor.")
		body := m.whatsapp
		if !strings.Contains(body, m.mediaURL) {
			body = withRecording(body, m.mediaURL)
		}
		sid, err = d.sender.SendWhatsApp(ctx, from, to, body, "")
		d.audit(ctx, l, m, model.ChannelWhatsApp, to, sid, err)
	}
	if err != nil {
		l.Warn().Err(err).Msg("WhatsApp bildirimi gönderilemedi (SMS yeterli).")
		return
	}
	l.Info().Str("message_sid", sid).Msg("✅ WhatsApp bildirimi gönderildi.")
}

// audit, denemenin sonucundan bağımsız olarak tek bir NotificationRecord yazar.
func (d *Dispatcher) audit(ctx context.Context, l zerolog.Logger, m message, channel model.Channel, recipient, sid string, sendErr error) {
	rec := &model.NotificationRecord{
		CallID:            m.callID,
		Kind:              string(m.kind),
		Channel:           channel,
		Recipient:         recipient,
		Status:            model.NotificationSent,
		ProviderMessageID: sid,
		SentAt:            d.now(),
	}
	if sendErr != nil {
		rec.Status = model.NotificationFailed
		rec.ProviderMessageID = ""
		rec.Error = sendErr.Error()
	}
	metrics.NotificationsSent.WithLabelValues(string(channel), string(rec.Status)).Inc()

	if err := d.records.SaveNotification(ctx, rec); err != nil {
		l.Error().Err(err).Str("channel", string(channel)).Msg("Bildirim denetim kaydı yazılamadı.")
	}
}
