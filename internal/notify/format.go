package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/sentiric/sentiric-receptionist-service/internal/model"
	"github.com/sentiric/sentiric-receptionist-service/internal/transcript"
)

const (
	whatsappTranscriptMax = 3000
	lowConfidence         = 0.5
)

var urgencyIcon = map[model.Urgency]string{
	model.UrgencyLow:    "🟢",
	model.UrgencyMedium: "🟡",
	model.UrgencyHigh:   "🔴",
}

// Notice, bir bildirim mesajını oluşturmak için gereken çağrı bilgileridir.
type Notice struct {
	CallID       string
	CallerNumber string
	Summary      *model.Summary
	Transcript   string
	RecordingRef string
	Duration     time.Duration
}

func callerLabel(n Notice) string {
	name := ""
	if n.Summary != nil {
		name = n.Summary.CallerName
		if n.Summary.Company != "" {
			if name == "" {
				name = n.Summary.Company
			} else {
				name = fmt.Sprintf("%s (%s)", name, n.Summary.Company)
			}
		}
	}
	number := n.CallerNumber
	if number == "" {
		number = "unknown number"
	}
	if name == "" {
		return number
	}
	return fmt.Sprintf("%s, %s", name, number)
}

func summaryLines(s *model.Summary) []string {
	if s == nil {
		return nil
	}
	var lines []string
	icon := urgencyIcon[s.Urgency]
	lines = append(lines, fmt.Sprintf("%s Urgency: %s", icon, strings.ToUpper(string(s.Urgency))))
	lines = append(lines, transcript.ReasonLines(s.Reason, s.Narrative)...)
	if s.CallbackWindow != "" {
		lines = append(lines, "Callback: "+s.CallbackWindow)
	}
	if len(s.PromisedActions) > 0 {
		lines = append(lines, "Promised: "+strings.Join(s.PromisedActions, "; "))
	}
	if s.ConfidenceScore < lowConfidence {
		lines = append(lines, "(auto-summary, please review the transcript)")
	}
	return lines
}

// SummaryText, SMS ve WhatsApp için ortak özet gövdesini üretir.
func SummaryText(n Notice) string {
	lines := []string{"📞 Missed call from " + callerLabel(n)}
	if n.Duration > 0 {
		lines[0] += fmt.Sprintf(" (%s)", n.Duration.Round(time.Second))
	}
	lines = append(lines, summaryLines(n.Summary)...)
	return strings.Join(lines, "\n")
}

func withTranscript(body, rendered string) string {
	rendered = strings.TrimSpace(rendered)
	if rendered == "" {
		return body
	}
	return body + "\n\nTranscript:\n" + transcript.Truncate(rendered, whatsappTranscriptMax)
}

func withRecording(body, link string) string {
	return body + "\n🎧 Recording: " + link
}

func recordingOnlyText(n Notice, link string) string {
	return fmt.Sprintf("🎧 Recording ready for the call from %s: %s", callerLabel(n), link)
}

func summaryOnlyText(n Notice) string {
	return SummaryText(n) + "\n(No recording available for this call.)"
}

func escalationText(callerNumber, reason string) string {
	if reason == "" {
		reason = "Caller asked to speak with you"
	}
	return fmt.Sprintf("🚨 Transferring a live call from %s to you now. Reason: %s", orUnknown(callerNumber), reason)
}

func transferNoAnswerText(callerNumber string) string {
	return fmt.Sprintf("📵 The transferred call from %s was not answered. Please call them back at %s.", orUnknown(callerNumber), orUnknown(callerNumber))
}

func orUnknown(number string) string {
	if number == "" {
		return "unknown number"
	}
	return number
}
