// Package relay, telefon ses akışı ile ajan soketi arasında çerçeve taşıyan motoru içerir.
package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	FrameConnected = "connected"
	FrameStart     = "start"
	FrameMedia     = "media"
	FrameStop      = "stop"
	FrameMark      = "mark"
	FrameClear     = "clear"
)

// TelephonyFrame, telefon sağlayıcısının medya akışı zarfıdır.
type TelephonyFrame struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Mark      *MarkPayload  `json:"mark,omitempty"`
}

type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type MediaPayload struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

// StartInfo, "start" çerçevesinden çıkarılan çağrı bilgileridir.
type StartInfo struct {
	StreamSID      string
	ExternalCallID string
	From           string
	To             string
	Parameters     map[string]string
}

func DecodeTelephony(data []byte) (*TelephonyFrame, error) {
	var f TelephonyFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("telefon çerçevesi çözümlenemedi: %w", err)
	}
	f.Event = strings.ToLower(strings.TrimSpace(f.Event))
	return &f, nil
}

// StartInfo, çerçeve bir "start" çerçevesi değilse nil döner.
func (f *TelephonyFrame) StartInfo() *StartInfo {
	if f == nil || f.Event != FrameStart || f.Start == nil {
		return nil
	}
	info := &StartInfo{
		StreamSID:      f.Start.StreamSID,
		ExternalCallID: f.Start.CallSID,
		Parameters:     f.Start.CustomParameters,
	}
	if info.StreamSID == "" {
		info.StreamSID = f.StreamSID
	}
	if p := f.Start.CustomParameters; p != nil {
		info.From = firstNonEmpty(p["from"], p["From"], p["caller"])
		info.To = firstNonEmpty(p["to"], p["To"], p["callee"])
	}
	return info
}

// Audio, medya çerçevesindeki base64 yükü çözer.
func (f *TelephonyFrame) Audio() ([]byte, error) {
	if f == nil || f.Media == nil {
		return nil, fmt.Errorf("medya yükü yok")
	}
	return base64.StdEncoding.DecodeString(f.Media.Payload)
}

func EncodeMedia(streamSID string, audio []byte) ([]byte, error) {
	return json.Marshal(TelephonyFrame{
		Event:     FrameMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	})
}

func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(TelephonyFrame{Event: FrameClear, StreamSID: streamSID})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
