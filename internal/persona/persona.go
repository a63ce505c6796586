// Package persona, asistanın karşılama cümlesini ve talimatlarını YAML dosyasından yükler.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sentiric/sentiric-receptionist-service/internal/model"
)

// Persona, sahibin adına konuşan resepsiyonistin kimliğidir.
type Persona struct {
	OwnerName    string            `yaml:"owner_name"`
	BusinessName string            `yaml:"business_name"`
	AgentName    string            `yaml:"agent_name"`
	Voice        string            `yaml:"voice"`
	Warmth       string            `yaml:"warmth"`
	Prompt       string            `yaml:"prompt"`
	Greetings    map[string]string `yaml:"greetings"`
	VIPGreeting  string            `yaml:"vip_greeting"`
}

const defaultLanguage = "en"

// Default, persona dosyası yoksa kullanılan yerleşik kimliktir.
func Default() *Persona {
	return &Persona{
		OwnerName: "the owner",
		AgentName: "Ada",
		Voice:     "alloy",
		Warmth:    "friendly",
		Prompt:    "You answer missed calls on behalf of {owner}. Find out who is calling, why, how urgent it is " +
			"and when they can be called back. Never promise anything the owner has not agreed to. " +
			"When you have enough information call submit_call_summary. If the caller insists on speaking " +
			"to {owner} right now, call transfer_to_owner.",
		Greetings: map[string]string{
			"en": "Hi, you've reached {owner}. I'm {agent}, their assistant. How can I help?",
			"tr": "Merhaba, {owner} hattına ulaştınız. Ben asistanı {agent}, size nasıl yardımcı olabilirim?",
		},
		VIPGreeting: "Hi {name}, thanks for calling. {owner} can't pick up right now, what can I pass on?",
	}
}

// Load, YAML dosyasını okur. Boş bırakılan alanlar Default değerleriyle doldurulur.
func Load(path string) (*Persona, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona dosyası okunamadı: %w", err)
	}
	var fromFile Persona
	if err := yaml.Unmarshal(raw, &fromFile); err != nil {
		return nil, fmt.Errorf("persona dosyası çözümlenemedi: %w", err)
	}
	p.merge(&fromFile)
	return p, nil
}

func (p *Persona) merge(o *Persona) {
	if o.OwnerName != "" {
		p.OwnerName = o.OwnerName
	}
	if o.BusinessName != "" {
		p.BusinessName = o.BusinessName
	}
	if o.AgentName != "" {
		p.AgentName = o.AgentName
	}
	if o.Voice != "" {
		p.Voice = o.Voice
	}
	if o.Warmth != "" {
		p.Warmth = o.Warmth
	}
	if o.Prompt != "" {
		p.Prompt = o.Prompt
	}
	if o.VIPGreeting != "" {
		p.VIPGreeting = o.VIPGreeting
	}
	for lang, text := range o.Greetings {
		p.Greetings[strings.ToLower(lang)] = text
	}
}

func (p *Persona) fill(text string, cc *model.CallerContext) string {
	name := ""
	if cc != nil && cc.Contact != nil {
		name = cc.Contact.Name
	}
	return strings.NewReplacer("{owner}", p.OwnerName, "{agent}", p.AgentName, "{name}", name).Replace(text)
}

// Greeting, arayanın diline ve VIP durumuna göre açılış cümlesini seçer.
func (p *Persona) Greeting(language string, cc *model.CallerContext) string {
	if cc != nil && cc.Contact != nil && cc.Contact.VIP && cc.Contact.Name != "" && p.VIPGreeting != "" {
		return p.fill(p.VIPGreeting, cc)
	}
	if g, ok := p.Greetings[strings.ToLower(language)]; ok {
		return p.fill(g, cc)
	}
	return p.fill(p.Greetings[defaultLanguage], cc)
}

func (p *Persona) Instructions() string {
	text := p.fill(p.Prompt, nil)
	if p.BusinessName != "" {
		text += " The business is " + p.BusinessName + "."
	}
	if p.Warmth != "" {
		text += " Keep a " + p.Warmth + " tone."
	}
	return text
}

// ContextBlock, arayan hakkında bilinenleri asistana verilecek kısa bir metne çevirir.
func ContextBlock(cc *model.CallerContext) string {
	if cc == nil {
		return ""
	}
	var lines []string
	if c := cc.Contact; c != nil {
		line := "Known contact: " + c.Name
		if c.VIP {
			line += " (VIP)"
		}
		lines = append(lines, line)
		if c.Notes != "" {
			lines = append(lines, "Notes: "+c.Notes)
		}
	}
	for _, pc := range cc.RecentCalls {
		lines = append(lines, fmt.Sprintf("Called on %s about: %s (%s)", pc.At.Format("2006-01-02"), pc.Reason, pc.Urgency))
	}
	return strings.Join(lines, "\n")
}
