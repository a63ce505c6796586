package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "receptionist"

var (
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_processed_total",
		Help:      "Kuyruktan işlenen telefon olaylarının sayısı.",
	}, []string{"event_type"})

	EventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_failed_total",
		Help:      "İşlenemeyen telefon olaylarının sayısı.",
	}, []string{"event_type", "reason"})

	CallsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_finalized_total",
		Help:      "Sonlandırılan çağrılar, sebep ve özet kaynağına göre.",
	}, []string{"reason", "summary_source"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Kanal ve sonuca göre bildirim denemeleri.",
	}, []string{"channel", "status"})

	CallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "call_duration_seconds",
		Help:      "Sonlandırılan sesli çağrıların süresi.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
	})
)

// activeSessions, gauge'un okuduğu sayaç fonksiyonudur. Uygulama başlarken bir kez atanır.
var activeSessions atomic.Pointer[func() int]

var _ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "active_sessions",
	Help:      "Kayıt defterindeki canlı çağrı oturumları.",
}, func() float64 {
	fn := activeSessions.Load()
	if fn == nil {
		return 0
	}
	return float64((*fn)())
})

// TrackActiveSessions, active_sessions gauge'unu verilen sayaca bağlar.
func TrackActiveSessions(count func() int) {
	activeSessions.Store(&count)
}

// StartServer, /metrics uç noktasını ayrı bir portta sunar.
func StartServer(port string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("port", port).Msg("📊 Prometheus metrik sunucusu dinleniyor")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrik sunucusu hatası")
		}
	}()
	return srv
}
