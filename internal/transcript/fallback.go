package transcript

import (
	"strings"

	"github.com/sentiric/sentiric-receptionist-service/internal/model"
)

const (
	FallbackConfidence   = 0.2
	fallbackReasonMax    = 120
	fallbackReasonCut    = 80
	fallbackNarrativeMax = 400
	ellipsis             = "..."
	fallbackPromised     = "Review transcript and return call"
	noSpeechReason       = "Caller hung up without leaving a message"
	noSpeechNarrative    = "No caller speech was detected on this call. The caller may have hung up immediately."
)

// Fallback, yapılandırılmış özet üretilmediğinde ham transkriptten sezgisel bir özet türetir.
func Fallback(turns []model.TranscriptTurn) *model.Summary {
	var parts []string
	for _, turn := range turns {
		if turn.Role != model.RoleCaller {
			continue
		}
		if text := strings.TrimSpace(turn.Text); text != "" {
			parts = append(parts, text)
		}
	}
	callerText := CollapseSpace(strings.Join(parts, " "))

	s := &model.Summary{
		Urgency:         model.UrgencyMedium,
		ConfidenceScore: FallbackConfidence,
		PromisedActions: []string{fallbackPromised},
	}
	if callerText == "" {
		s.Reason = noSpeechReason
		s.Narrative = noSpeechNarrative
		return s
	}
	s.Reason = ShortReason(callerText)
	s.Narrative = Truncate(callerText, fallbackNarrativeMax)
	return s
}

// ShortReason, metnin ilk cümlesini (120 karaktere kadar) veya ilk 80 karakteri döndürür.
func ShortReason(text string) string {
	text = CollapseSpace(text)
	first := text
	if idx := strings.IndexAny(text, ".!?"); idx >= 0 {
		first = strings.TrimSpace(text[:idx])
	}
	if first != "" && len([]rune(first)) <= fallbackReasonMax {
		return first
	}
	r := []rune(text)
	if len(r) <= fallbackReasonCut {
		return text
	}
	return strings.TrimSpace(string(r[:fallbackReasonCut])) + ellipsis
}

// Truncate, metni rune sınırında keser ve kesildiyse üç nokta ekler.
func Truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return strings.TrimSpace(string(r[:limit])) + ellipsis
}

func CollapseSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
