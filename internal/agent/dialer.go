package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrAgentUnavailable = errors.New("konuşma ajanına bağlanılamadı")

const (
	defaultDialAttempts = 3
	defaultDialDelay    = 2 * time.Second
	handshakeTimeout    = 5 * time.Second
)

// Dialer, ajan servisine yeniden denemeli WebSocket bağlantısı kurar.
type Dialer struct {
	url      string
	apiKey   string
	attempts int
	delay    time.Duration
	ws       *websocket.Dialer
	log      zerolog.Logger
}

func NewDialer(url, apiKey string, log zerolog.Logger) *Dialer {
	return &Dialer{
		url:      url,
		apiKey:   apiKey,
		attempts: defaultDialAttempts,
		delay:    defaultDialDelay,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log: log.With().Str("client", "agent").Logger(),
	}
}

// WithAttempts, deneme sayısını değiştirir. Sıfır veya negatif değerler yok sayılır.
func (d *Dialer) WithAttempts(n int) *Dialer {
	if n > 0 {
		d.attempts = n
	}
	return d
}

// Dial, başarısız denemeler arasında sabit süre bekler. Tüm denemeler biterse ErrAgentUnavailable ile sarılmış hata döner.
func (d *Dialer) Dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if d.apiKey != "" {
		header.Set("Authorization", "Bearer "+d.apiKey)
	}

	var lastErr error
	for i := 0; i < d.attempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		conn, _, err := d.ws.DialContext(ctx, d.url, header)
		if err == nil {
			d.log.Debug().Int("attempt", i+1).Msg("Ajan servisine WebSocket bağlantısı kuruldu.")
			return conn, nil
		}
		lastErr = err
		d.log.Warn().Err(err).Int("attempt", i+1).Int("max_attempts", d.attempts).Msg("Ajan servisine bağlanılamadı, tekrar denenecek...")

		if i == d.attempts-1 {
			break
		}
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %d deneme sonrası: %v", ErrAgentUnavailable, d.attempts, lastErr)
}
