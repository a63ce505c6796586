package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-receptionist-service/internal/relay"
)

// StreamService, medya akışını yürüten orkestratör işlemleridir.
type StreamService interface {
	HandleInboundStream(ctx context.Context, telephony relay.Conn) error
	ActiveSessionCount() int
}

// StreamHandler, telefon sağlayıcısının medya akışı WebSocket'ini kabul eder.
type StreamHandler struct {
	svc      StreamService
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewStreamHandler(svc StreamService, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			// Akış bağlantısı tarayıcıdan değil sağlayıcıdan gelir.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log.With().Str("component", "stream").Logger(),
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket yükseltmesi başarısız.")
		return
	}
	defer conn.Close()
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("Medya akışı bağlandı.")
	if err := h.svc.HandleInboundStream(context.WithoutCancel(r.Context()), conn); err != nil {
		h.log.Warn().Err(err).Msg("Medya akışı hatayla sonlandı.")
	}
}

// Routes, akış ve sağlık uç noktalarını tek bir mux'ta toplar.
func Routes(stream *StreamHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/media-stream", stream)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":          "ok",
			"active_sessions": stream.svc.ActiveSessionCount(),
		})
	})
	return mux
}
