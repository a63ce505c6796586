package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const DefaultTimeout = 3 * time.Second

// CallWithTimeout, fn'i DefaultTimeout süreli bir context ile çalıştırır.
func CallWithTimeout[T any](parentCtx context.Context, log zerolog.Logger, fn func(context.Context) (T, error)) (T, error) {
	return CallWithCustomTimeout(parentCtx, DefaultTimeout, log, fn)
}

// CallWithCustomTimeout, zaman aşımı durumunda hatayı uyarı olarak loglar ve aynen döndürür.
func CallWithCustomTimeout[T any](parentCtx context.Context, timeout time.Duration, log zerolog.Logger, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	result, err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Warn().Dur("timeout", timeout).Msg("⏱️ Çağrı zaman aşımına uğradı")
	}
	return result, err
}
