// Package transcript, konuşma turlarını sahibin okuyacağı metne çeviren saf fonksiyonları içerir.
package transcript

import (
	"strings"

	"github.com/sentiric/sentiric-receptionist-service/internal/model"
)

const (
	echoPrefixLen       = 15
	echoMinLen          = 5
	dedupReasonPrefix   = 40
	dedupShortReason    = 80
	dedupNarrativeExtra = 30
)

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Render, yankı turlarını eleyip kalan turları "Caller: ..." / "Agent: ..." satırları olarak yazar.
func Render(turns []model.TranscriptTurn) string {
	lines := make([]string, 0, len(turns))
	for i, turn := range turns {
		if IsEcho(turns, i) {
			continue
		}
		text := strings.TrimSpace(lineBreaks.Replace(turn.Text))
		if text == "" {
			continue
		}
		switch turn.Role {
		case model.RoleCaller:
			lines = append(lines, "Caller: "+text)
		case model.RoleAgent:
			lines = append(lines, "Agent: "+text)
		}
	}
	return strings.Join(lines, "\n")
}

// IsEcho, i'nci turun asistanın kendi sesinin arayana yanlış atfedilmiş hali olup olmadığını söyler.
// İki kontrol yapılır: hemen önceki asistan turu ve geriye doğru en yakın asistan turu.
func IsEcho(turns []model.TranscriptTurn, i int) bool {
	if i < 0 || i >= len(turns) || turns[i].Role != model.RoleCaller {
		return false
	}
	t := strings.ToLower(strings.TrimSpace(turns[i].Text))
	if t == "" {
		return false
	}

	if i > 0 && turns[i-1].Role == model.RoleAgent {
		p := strings.ToLower(strings.TrimSpace(turns[i-1].Text))
		if p != "" {
			if p == t || strings.Contains(p, t) || strings.Contains(t, p) {
				return true
			}
			if r := []rune(t); len(r) >= echoMinLen {
				prefix := string(r[:min(echoPrefixLen, len(r))])
				if strings.Contains(p, prefix) {
					return true
				}
			}
		}
	}

	for j := i - 1; j >= 0; j-- {
		if turns[j].Role != model.RoleAgent {
			continue
		}
		l := strings.ToLower(strings.TrimSpace(turns[j].Text))
		if l == "" {
			return false
		}
		return l == t || strings.Contains(l, t) || strings.Contains(t, l)
	}
	return false
}

// ReasonLines, kısa gerekçe ile uzun anlatımın neredeyse aynı olduğu durumlarda yalnızca anlatımı döndürür.
func ReasonLines(reason, narrative string) []string {
	reason = strings.TrimSpace(reason)
	narrative = strings.TrimSpace(narrative)

	switch {
	case reason == "" && narrative == "":
		return nil
	case reason == "":
		return []string{narrative}
	case narrative == "":
		return []string{reason}
	}

	if reason == narrative || strings.HasPrefix(narrative, reason) {
		return []string{narrative}
	}
	rr := []rune(reason)
	head := strings.ToLower(string(rr[:min(dedupReasonPrefix, len(rr))]))
	if strings.Contains(strings.ToLower(narrative), head) {
		return []string{narrative}
	}
	if len(rr) < dedupShortReason && len([]rune(narrative)) >= len(rr)+dedupNarrativeExtra {
		return []string{narrative}
	}
	return []string{reason, narrative}
}
