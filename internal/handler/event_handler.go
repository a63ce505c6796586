package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-receptionist-service/internal/constants"
	"github.com/sentiric/sentiric-receptionist-service/internal/ctxlogger"
	"github.com/sentiric/sentiric-receptionist-service/internal/model"
	"github.com/sentiric/sentiric-receptionist-service/internal/storage"
)

const eventTimeout = 30 * time.Second

// TelephonyEvent, telefon sağlayıcısının webhook'larından kuyruğa aktarılan olaylardır.
type TelephonyEvent struct {
	EventType       string `json:"eventType"`
	TraceID         string `json:"traceId,omitempty"`
	CallSID         string `json:"callSid,omitempty"`
	From            string `json:"from,omitempty"`
	To              string `json:"to,omitempty"`
	Status          string `json:"status,omitempty"`
	DurationSeconds int    `json:"duration,omitempty"`
	RecordingURL    string `json:"recordingUrl,omitempty"`
	Answered        bool   `json:"answered,omitempty"`
	MessageSID      string `json:"messageSid,omitempty"`
	Body            string `json:"body,omitempty"`
	ErrorCode       string `json:"errorCode,omitempty"`
}

// CallService, olay işleyicinin orkestratörden kullandığı işlemlerdir.
type CallService interface {
	HandleInboundCall(ctx context.Context, externalCallID, from, to string) (*model.CallRecord, error)
	HandleStatusUpdate(ctx context.Context, externalCallID, status string, durationSeconds int) error
	HandleRecordingReady(ctx context.Context, externalCallID, recordingRef string) error
	HandleRedirectOutcome(ctx context.Context, externalCallID string, answered bool) error
	HandleMessageStatus(ctx context.Context, providerMessageID, status, errText string) error
	HandleInboundSMS(ctx context.Context, messageSID, from, to, body string) error
}

var (
	errMissingCallSID = errors.New("olayda callSid yok")
	errUnknownEvent   = errors.New("bilinmeyen olay türü")
)

type EventHandler struct {
	calls           CallService
	log             zerolog.Logger
	eventsProcessed *prometheus.CounterVec
	eventsFailed    *prometheus.CounterVec
}

func NewEventHandler(calls CallService, log zerolog.Logger, processed, failed *prometheus.CounterVec) *EventHandler {
	return &EventHandler{
		calls:           calls,
		log:             log,
		eventsProcessed: processed,
		eventsFailed:    failed,
	}
}

// HandleRabbitMQMessage, kuyruk mesajını çözer ve ilgili orkestratör işlemine yönlendirir.
// Tüketici her mesajı kendi goroutine'inde çağırdığı için işlem senkron yürütülür.
func (h *EventHandler) HandleRabbitMQMessage(body []byte) {
	var event TelephonyEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.log.Error().Err(err).Bytes("raw_message", body).Msg("Hata: Mesaj JSON formatında değil")
		h.eventsFailed.WithLabelValues("unknown", "json_unmarshal").Inc()
		return
	}
	h.eventsProcessed.WithLabelValues(event.EventType).Inc()
	l := h.log.With().Str("external_call_id", event.CallSID).Str("trace_id", event.TraceID).Str("event_type", event.EventType).Logger()
	l.Debug().Msg("Olay alındı")

	ctx, cancel := context.WithTimeout(ctxlogger.ToContext(context.Background(), l), eventTimeout)
	defer cancel()

	if err := h.route(ctx, &event); err != nil {
		reason := "handler_error"
		switch {
		case errors.Is(err, errUnknownEvent):
			l.Debug().Msg("Bilinmeyen olay türü yok sayıldı.")
			return
		case errors.Is(err, errMissingCallSID):
			reason = "invalid_payload"
		case errors.Is(err, storage.ErrNotFound):
			reason = "unknown_call"
		}
		l.Error().Err(err).Msg("Olay işlenemedi.")
		h.eventsFailed.WithLabelValues(event.EventType, reason).Inc()
	}
}

func (h *EventHandler) route(ctx context.Context, e *TelephonyEvent) error {
	switch constants.EventType(e.EventType) {
	case constants.EventTypeCallInbound:
		if e.CallSID == "" {
			return errMissingCallSID
		}
		_, err := h.calls.HandleInboundCall(ctx, e.CallSID, e.From, e.To)
		return err
	case constants.EventTypeCallStatus:
		if e.CallSID == "" {
			return errMissingCallSID
		}
		return h.calls.HandleStatusUpdate(ctx, e.CallSID, e.Status, e.DurationSeconds)
	case constants.EventTypeRecordingReady:
		if e.CallSID == "" {
			return errMissingCallSID
		}
		return h.calls.HandleRecordingReady(ctx, e.CallSID, e.RecordingURL)
	case constants.EventTypeRedirectOutcome:
		if e.CallSID == "" {
			return errMissingCallSID
		}
		return h.calls.HandleRedirectOutcome(ctx, e.CallSID, e.Answered)
	case constants.EventTypeMessageStatus:
		return h.calls.HandleMessageStatus(ctx, e.MessageSID, e.Status, e.ErrorCode)
	case constants.EventTypeSMSReceived:
		return h.calls.HandleInboundSMS(ctx, e.MessageSID, e.From, e.To, e.Body)
	default:
		return errUnknownEvent
	}
}
