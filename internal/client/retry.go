package client

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const maxRetries = 3

// retryableError, tekrar denenebilecek geçici bir sağlayıcı hatasıdır.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// doWithRetry, ağ hatalarında, 5xx ve 429 yanıtlarında jitter'lı üstel bekleme ile tekrar dener.
func doWithRetry(ctx context.Context, hc *http.Client, buildReq func() (*http.Request, error), log zerolog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * retryUnit
			jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
			backoff := base + jitter
			log.Warn().Int("attempt", attempt+1).Dur("backoff", backoff).Msg("İstek tekrar deneniyor...")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("istek oluşturulamadı: %w", err)
		}

		resp, err := hc.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				log.Warn().Err(err).Msg("İstek başarısız, tekrar denenecek.")
				continue
			}
			return nil, fmt.Errorf("%d tekrar sonrası istek başarısız: %w", maxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < maxRetries {
				log.Warn().Int("status_code", resp.StatusCode).Bytes("body", body).Msg("Sağlayıcı hatası, tekrar denenecek.")
				continue
			}
			return nil, fmt.Errorf("%d tekrar sonrası sağlayıcı hatası: %w", maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}
