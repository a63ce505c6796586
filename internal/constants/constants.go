package constants

// SessionState, bir çağrı oturumunun yaşam döngüsündeki aşamayı tanımlar.
type SessionState string

const (
	StateInitializing SessionState = "INITIALIZING"
	StateConnected    SessionState = "CONNECTED"
	StateActive       SessionState = "ACTIVE"
	StateFinalizing   SessionState = "FINALIZING"
	StateClosed       SessionState = "CLOSED"
)

// EventType, RabbitMQ üzerinden gelen telefon sağlayıcı olaylarını tanımlar.
type EventType string

const (
	EventTypeCallInbound     EventType = "telephony.call.inbound"
	EventTypeCallStatus      EventType = "telephony.call.status"
	EventTypeRecordingReady  EventType = "telephony.recording.ready"
	EventTypeRedirectOutcome EventType = "telephony.redirect.outcome"
	EventTypeMessageStatus   EventType = "telephony.message.status"
	EventTypeSMSReceived     EventType = "telephony.sms.received"
	EventTypeCallFinalized   EventType = "call.finalized"
	EventTypeCallEscalated   EventType = "call.escalated"
)

// EndReason, bir oturumun neden sonlandırıldığını tanımlar.
type EndReason string

const (
	EndReasonStreamStop     EndReason = "stream_stop"
	EndReasonTelephonyClose EndReason = "telephony_close"
	EndReasonTelephonyError EndReason = "telephony_error"
	EndReasonAgentClose     EndReason = "agent_close"
	EndReasonAgentError     EndReason = "agent_error"
	EndReasonMaxDuration    EndReason = "max_duration"
	EndReasonAgentFailed    EndReason = "agent_unavailable"
	EndReasonShutdown       EndReason = "shutdown"
)

// CallStatus, çağrı kaydının kalıcı durumunu tanımlar.
type CallStatus string

const (
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// CallKind, kaydın sesli arama mı yoksa gelen SMS mi olduğunu belirtir.
type CallKind string

const (
	CallKindVoice CallKind = "voice"
	CallKindSMS   CallKind = "sms"
)

// NotificationKind, sahibe gönderilen bildirim türünü tanımlar.
type NotificationKind string

const (
	NotificationSummary          NotificationKind = "summary"
	NotificationCombined         NotificationKind = "summary_recording"
	NotificationRecordingOnly    NotificationKind = "recording_only"
	NotificationSummaryOnly      NotificationKind = "summary_only"
	NotificationEscalation       NotificationKind = "escalation"
	NotificationTransferNoAnswer NotificationKind = "transfer_no_answer"
)

// GuardKey, tam olarak bir kez çalışması gereken yan etkilerin kilit ön ekleri.
const (
	GuardRecordingNotice = "lock:recording_notice:"
	GuardNoAnswerNotice  = "lock:no_answer_notice:"
)
