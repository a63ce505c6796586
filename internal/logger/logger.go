package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New, servis adını taşıyan kök logger'ı kurar. Geliştirme ortamında okunabilir konsol
// çıktısı, diğer ortamlarda JSON kullanılır. Zaman damgaları RFC3339'dur.
func New(serviceName, env, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(ParseLevel(level))

	var logger zerolog.Logger
	if env == "development" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
		logger = zerolog.New(output).With().Timestamp().Str("service", serviceName).Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", serviceName).Logger()
	}

	// ctxlogger.FromContext'in yedeği de aynı alanları taşısın.
	log.Logger = logger
	return logger
}

// ParseLevel, tanınmayan değerlerde info seviyesine düşer.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
