// Package model, çağrı orkestrasyonunda kullanılan kalıcı ve geçici veri tiplerini içerir.
package model

import (
	"math"
	"strings"
	"time"
)

type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// TranscriptTurn, arayan veya asistana ait tek bir ifadedir. Seq geliş sırasıdır.
type TranscriptTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
	Seq  int    `json:"seq"`
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ParseUrgency, bilinmeyen veya boş değerleri medium'a çeker.
func ParseUrgency(raw string) Urgency {
	switch Urgency(strings.ToLower(strings.TrimSpace(raw))) {
	case UrgencyLow:
		return UrgencyLow
	case UrgencyHigh:
		return UrgencyHigh
	default:
		return UrgencyMedium
	}
}

func (u Urgency) Valid() bool {
	return u == UrgencyLow || u == UrgencyMedium || u == UrgencyHigh
}

type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentFrustrated Sentiment = "frustrated"
)

// ParseSentiment, tanınmayan değerler için boş döner (alan opsiyoneldir).
func ParseSentiment(raw string) Sentiment {
	switch s := Sentiment(strings.ToLower(strings.TrimSpace(raw))); s {
	case SentimentPositive, SentimentNeutral, SentimentNegative, SentimentFrustrated:
		return s
	default:
		return ""
	}
}

// ClampConfidence, güven skorunu [0,1] aralığına sıkıştırır.
func ClampConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Summary, çağrının yapılandırılmış özetidir. Oturuma bir kez yazıldıktan sonra değişmez.
type Summary struct {
	CallerName      string    `json:"caller_name,omitempty"`
	Company         string    `json:"company,omitempty"`
	Reason          string    `json:"reason"`
	Urgency         Urgency   `json:"urgency"`
	CallbackWindow  string    `json:"callback_window,omitempty"`
	PromisedActions []string  `json:"promised_actions"`
	Sentiment       Sentiment `json:"sentiment,omitempty"`
	ConfidenceScore float64   `json:"confidence_score"`
	Narrative       string    `json:"narrative"`
}

// Clone, dilimleri paylaşmayan bir kopya döndürür.
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	c := *s
	c.PromisedActions = append([]string(nil), s.PromisedActions...)
	return &c
}

type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

type NotificationStatus string

const (
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationPending NotificationStatus = "pending"
)

// NotificationRecord, her gönderim denemesi için bir adet yazılır (başarılı ya da değil).
type NotificationRecord struct {
	ID                string
	CallID            string
	Kind              string
	Channel           Channel
	Recipient         string
	Status            NotificationStatus
	ProviderMessageID string
	Error             string
	SentAt            time.Time
}

// Contact, sahibin rehberindeki bir kişidir.
type Contact struct {
	ID                string
	Phone             string
	Name              string
	VIP               bool
	Notes             string
	PreferredLanguage string
}

// PriorCall, arayanın önceki çağrılarından kısa bir özet satırıdır.
type PriorCall struct {
	At      time.Time
	Reason  string
	Urgency Urgency
}

// CallerContext, asistan bağlanmadan önce toplanır ve yalnızca başlangıç yapılandırmasını şekillendirir.
type CallerContext struct {
	Contact     *Contact
	RecentCalls []PriorCall
}

// CallRecord, kalıcı çağrı kaydıdır.
type CallRecord struct {
	ID              string
	ExternalCallID  string
	Kind            string
	CallerNumber    string
	CalleeNumber    string
	Status          string
	TelephonyStatus string
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds int
	Summary         *Summary
	UsedFallback    bool
	Transferred     bool
	EndReason       string
	Language        string
	RecordingRef    string
	SummaryNotified bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Finalized, çağrının sonlandırma rutininden geçip geçmediğini söyler.
func (r *CallRecord) Finalized() bool {
	return r != nil && r.EndedAt != nil
}
