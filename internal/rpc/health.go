// Package rpc, servisin gRPC sağlık uç noktasını ve zaman aşımı yardımcılarını içerir.
package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "sentiric.receptionist.v1.Receptionist"

// Pinger, bağımlılık sağlığını kontrol eden her şeydir (ör. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc, düz bir fonksiyonu Pinger olarak kullanmayı sağlar.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthServer, standart grpc.health.v1 servisini sunar ve durumu bağımlılık
// kontrollerine göre periyodik olarak günceller.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	checks map[string]Pinger
	log    zerolog.Logger
}

func NewHealthServer(log zerolog.Logger, checks map[string]Pinger) *HealthServer {
	srv := grpc.NewServer()
	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, h)
	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return &HealthServer{
		srv:    srv,
		health: h,
		checks: checks,
		log:    log.With().Str("component", "grpc-health").Logger(),
	}
}

// Serve, verilen portta dinler ve sunucu durana kadar bloklar.
func (h *HealthServer) Serve(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("gRPC dinleme hatası: %w", err)
	}
	return h.ServeListener(lis)
}

func (h *HealthServer) ServeListener(lis net.Listener) error {
	h.log.Info().Str("addr", lis.Addr().String()).Msg("🚀 gRPC sağlık sunucusu dinleniyor")
	if err := h.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("gRPC sunucu hatası: %w", err)
	}
	return nil
}

// Check, tüm bağımlılıkları bir kez kontrol eder ve servis durumunu günceller.
func (h *HealthServer) Check(ctx context.Context) bool {
	healthy := true
	for name, p := range h.checks {
		_, err := CallWithTimeout(ctx, h.log, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.PingContext(ctx)
		})
		if err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Bağımlılık sağlık kontrolü başarısız.")
			healthy = false
		}
	}
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !healthy {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(ServiceName, status)
	return healthy
}

// Watch, ctx iptal edilene kadar her interval'de Check çalıştırır.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Stop, durumu NOT_SERVING yapar ve açık RPC'lerin bitmesini bekler.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}
