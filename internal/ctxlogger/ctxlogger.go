package ctxlogger

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loggerKey, context içinde logger'ı saklamak için özel bir tip ve anahtar tanımlar.
type loggerKey struct{}

// ToContext, verilen context'e bir zerolog.Logger ekler.
func ToContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext, context'ten zerolog.Logger'ı alır.
// Eğer context'te logger bulunamazsa, global (ve bağlamsız) log'u döndürür.
func FromContext(ctx context.Context) zerolog.Logger {
	return FromContextOr(ctx, log.Logger)
}

// FromContextOr, context'te logger yoksa verilen logger'ı döndürür.
func FromContextOr(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return fallback
	}
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return fallback
}
