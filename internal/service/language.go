package service

import (
	"strings"

	"github.com/sentiric/sentiric-receptionist-service/internal/model"
)

const fallbackLanguage = "en"

// resolveLanguage, akış parametresi, rehberdeki tercih ve varsayılan sırasıyla konuşma dilini seçer.
func resolveLanguage(params map[string]string, cc *model.CallerContext, defaultLanguage string) string {
	if lang := normalizeLanguage(params["language"]); lang != "" {
		return lang
	}
	if cc != nil && cc.Contact != nil {
		if lang := normalizeLanguage(cc.Contact.PreferredLanguage); lang != "" {
			return lang
		}
	}
	if lang := normalizeLanguage(defaultLanguage); lang != "" {
		return lang
	}
	return fallbackLanguage
}

// normalizeLanguage, "tr-TR" gibi bölge ekli kodları iki harfli koda indirger.
func normalizeLanguage(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(raw, "-_"); i > 0 {
		raw = raw[:i]
	}
	return raw
}
