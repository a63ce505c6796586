package agent

import "encoding/json"

// SessionConfig, ajan soketi açıldıktan hemen sonra gönderilen ilk mesajdır.
type SessionConfig struct {
	Type          string `json:"type"`
	Instructions  string `json:"instructions"`
	Language      string `json:"language"`
	Greeting      string `json:"greeting"`
	CallerContext string `json:"caller_context,omitempty"`
	Voice         string `json:"voice,omitempty"`
	AudioEncoding string `json:"audio_encoding"`
	SampleRate    int    `json:"sample_rate"`
	Tools         []Tool `json:"tools"`
}

type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NewSessionConfig, telefon hattının 8 kHz mu-law formatıyla ve varsayılan araçlarla bir yapılandırma oluşturur.
func NewSessionConfig(instructions, language, greeting, callerContext, voice string) SessionConfig {
	return SessionConfig{
		Type:          "session.config",
		Instructions:  instructions,
		Language:      language,
		Greeting:      greeting,
		CallerContext: callerContext,
		Voice:         voice,
		AudioEncoding: "g711_ulaw",
		SampleRate:    8000,
		Tools:         DefaultTools(),
	}
}

func (c SessionConfig) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func DefaultTools() []Tool {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	return []Tool{
		{
			Type:        "function",
			Name:        ToolSubmitSummary,
			Description: "Record the structured outcome of the call once the caller has explained why they called.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"caller_name":     str("Caller's name if given"),
					"company":         str("Caller's company if given"),
					"reason":          str("One sentence reason for the call"),
					"urgency":         map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
					"callback_window": str("When the caller wants to be called back"),
					"promised_actions": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					"sentiment":        map[string]any{"type": "string", "enum": []string{"positive", "neutral", "negative", "frustrated"}},
					"confidence_score": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"narrative":        str("Two to four sentence summary for the owner"),
				},
				"required": []string{"reason", "urgency", "narrative"},
			},
		},
		{
			Type:        "function",
			Name:        ToolTransferToOwner,
			Description: "Transfer the live call to the owner when the caller has an emergency or insists on speaking to them.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": str("Why the call needs the owner right now"),
				},
				"required": []string{"reason"},
			},
		},
	}
}
