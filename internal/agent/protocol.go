// Package agent, yönetilen konuşma servisiyle konuşulan WebSocket protokolünü tanımlar.
package agent

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sentiric/sentiric-receptionist-service/internal/model"
	"github.com/sentiric/sentiric-receptionist-service/internal/transcript"
)

const (
	ToolSubmitSummary   = "submit_call_summary"
	ToolTransferToOwner = "transfer_to_owner"
)

// DefaultConfidence, ajan güven skoru göndermediğinde sesli aramalarda kullanılan değerdir.
const DefaultConfidence = 0.5

type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badFrame(message string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message}
}

// Event, ajan kanalından gelen olayların kapalı kümesidir.
type Event interface {
	eventName() string
}

type ConversationTurn struct {
	Role model.Role
	Text string
}

// SummaryRequest, ajanın çağrı sonu yapılandırılmış çıkarımıdır; alanlar varsayılanlarla doldurulmuş haldedir.
type SummaryRequest struct {
	CallID  string
	Summary *model.Summary
}

type TransferRequest struct {
	CallID string
	Reason string
}

type LifecycleKind string

const (
	LifecycleThinking        LifecycleKind = "thinking"
	LifecycleSpeakingStarted LifecycleKind = "speaking_started"
	LifecycleSpeakingDone    LifecycleKind = "speaking_done"
	LifecycleInterruption    LifecycleKind = "interruption"
)

type Lifecycle struct {
	Kind LifecycleKind
}

type LanguageDetected struct {
	Language string
}

// Audio, JSON zarfı içinde base64 olarak gelen sentezlenmiş ses parçasıdır.
type Audio struct {
	Data []byte
}

// InvalidToolCall, tanınan bir araç çağrısının argümanları çözülemediğinde üretilir. Ajan sonucu
// beklediği için bu çağrı da hata durumuyla onaylanmalıdır.
type InvalidToolCall struct {
	CallID string
	Name   string
	Reason string
}

// Unknown, tanınmayan veya eksik olayları temsil eder; hiçbir zaman hata sayılmaz.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (ConversationTurn) eventName() string { return "conversation_turn" }
func (SummaryRequest) eventName() string   { return "summary_request" }
func (TransferRequest) eventName() string  { return "transfer_request" }
func (Lifecycle) eventName() string        { return "lifecycle" }
func (LanguageDetected) eventName() string { return "language_detected" }
func (Audio) eventName() string            { return "audio" }
func (InvalidToolCall) eventName() string  { return "invalid_tool_call" }
func (Unknown) eventName() string          { return "unknown" }

// Name, log alanlarında kullanılacak olay adını döndürür.
func Name(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}

type envelope struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Text      string          `json:"text"`
	Name      string          `json:"name"`
	CallID    string          `json:"call_id"`
	Arguments json.RawMessage `json:"arguments"`
	Language  string          `json:"language"`
	Audio     string          `json:"audio"`
}

// Decode, bir metin çerçevesini olaya çevirir. JSON olmayan çerçeveler *DecodeError döner;
// çağıran taraf bu çerçeveyi opak ses olarak değerlendirir.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badFrame("invalid json frame")
	}
	typ := strings.TrimSpace(env.Type)

	switch typ {
	case "conversation_turn", "transcript":
		role, ok := parseRole(env.Role)
		if !ok {
			return Unknown{Type: typ, Raw: data}, nil
		}
		return ConversationTurn{Role: role, Text: env.Text}, nil
	case "function_call":
		return decodeFunctionCall(env, data), nil
	case string(LifecycleThinking), string(LifecycleSpeakingStarted), string(LifecycleSpeakingDone), string(LifecycleInterruption):
		return Lifecycle{Kind: LifecycleKind(typ)}, nil
	case "language_detected":
		return LanguageDetected{Language: strings.ToLower(strings.TrimSpace(env.Language))}, nil
	case "audio":
		pcm, err := base64.StdEncoding.DecodeString(env.Audio)
		if err != nil {
			return nil, badFrame("audio payload is not base64")
		}
		return Audio{Data: pcm}, nil
	default:
		return Unknown{Type: typ, Raw: data}, nil
	}
}

func parseRole(raw string) (model.Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "caller":
		return model.RoleCaller, true
	case "assistant", "agent":
		return model.RoleAgent, true
	default:
		return "", false
	}
}

func decodeFunctionCall(env envelope, data []byte) Event {
	args := unwrapArguments(env.Arguments)
	switch env.Name {
	case ToolSubmitSummary:
		summary, err := CoerceSummary(args)
		if err != nil {
			return InvalidToolCall{CallID: env.CallID, Name: env.Name, Reason: err.Error()}
		}
		return SummaryRequest{CallID: env.CallID, Summary: summary}
	case ToolTransferToOwner:
		var in struct {
			Reason looseString `json:"reason"`
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return InvalidToolCall{CallID: env.CallID, Name: env.Name, Reason: err.Error()}
			}
		}
		return TransferRequest{CallID: env.CallID, Reason: strings.TrimSpace(string(in.Reason))}
	default:
		return Unknown{Type: "function_call", Raw: data}
	}
}

// unwrapArguments, bazı sağlayıcıların argümanları JSON string olarak göndermesini tolere eder.
func unwrapArguments(raw json.RawMessage) json.RawMessage {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return json.RawMessage(s)
	}
	return raw
}

// looseString, metin alanına gelen sayı veya bool değerlerini metne çevirir; diğer tipler boş kalır.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		*s = looseString(x)
	case float64:
		*s = looseString(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*s = looseString(strconv.FormatBool(x))
	default:
		*s = ""
	}
	return nil
}

// looseFloat, sayı veya sayısal metin kabul eder. Çözülemeyen değerler set edilmemiş sayılır.
type looseFloat struct {
	value float64
	set   bool
}

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	f.value, f.set = n, true
	return nil
}

type rawSummary struct {
	CallerName      looseString     `json:"caller_name"`
	Company         looseString     `json:"company"`
	Reason          looseString     `json:"reason"`
	Urgency         looseString     `json:"urgency"`
	CallbackWindow  looseString     `json:"callback_window"`
	PromisedActions json.RawMessage `json:"promised_actions"`
	Sentiment       looseString     `json:"sentiment"`
	ConfidenceScore looseFloat      `json:"confidence_score"`
	Narrative       looseString     `json:"narrative"`
	Summary         looseString     `json:"summary"`
}

// CoerceSummary, ajanın gönderdiği argümanları doğrulayıp eksik alanları varsayılanlarla doldurur.
// Yanlış tipli alanlar varsayılana düşer; yalnızca argümanlar bir JSON nesnesi değilse hata döner.
func CoerceSummary(args json.RawMessage) (*model.Summary, error) {
	var raw rawSummary
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, &raw); err != nil {
		return nil, fmt.Errorf("özet argümanları çözümlenemedi: %w", err)
	}

	confidence := DefaultConfidence
	if raw.ConfidenceScore.set {
		confidence = model.ClampConfidence(raw.ConfidenceScore.value)
	}

	narrative := strings.TrimSpace(string(raw.Narrative))
	if narrative == "" {
		narrative = strings.TrimSpace(string(raw.Summary))
	}
	reason := strings.TrimSpace(string(raw.Reason))
	if reason == "" && narrative != "" {
		reason = transcript.ShortReason(narrative)
	}
	if narrative == "" {
		narrative = reason
	}

	return &model.Summary{
		CallerName:      strings.TrimSpace(string(raw.CallerName)),
		Company:         strings.TrimSpace(string(raw.Company)),
		Reason:          reason,
		Urgency:         model.ParseUrgency(string(raw.Urgency)),
		CallbackWindow:  strings.TrimSpace(string(raw.CallbackWindow)),
		PromisedActions: parseActions(raw.PromisedActions),
		Sentiment:       model.ParseSentiment(string(raw.Sentiment)),
		ConfidenceScore: confidence,
		Narrative:       narrative,
	}, nil
}

func parseActions(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			if a = strings.TrimSpace(a); a != "" {
				out = append(out, a)
			}
		}
		return out
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && strings.TrimSpace(single) != "" {
		return []string{strings.TrimSpace(single)}
	}
	return []string{}
}

// FunctionResult, ajana gönderilen araç çağrısı onayıdır.
type FunctionResult struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output any    `json:"output"`
}

func EncodeFunctionResult(callID string, output any) ([]byte, error) {
	return json.Marshal(FunctionResult{Type: "function_result", CallID: callID, Output: output})
}
