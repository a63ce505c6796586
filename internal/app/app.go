// Package app, servisin altyapı bağlantılarını, sunucularını ve kapanış sırasını kurar.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-receptionist-service/internal/agent"
	"github.com/sentiric/sentiric-receptionist-service/internal/audio"
	"github.com/sentiric/sentiric-receptionist-service/internal/client"
	"github.com/sentiric/sentiric-receptionist-service/internal/config"
	"github.com/sentiric/sentiric-receptionist-service/internal/database"
	"github.com/sentiric/sentiric-receptionist-service/internal/handler"
	"github.com/sentiric/sentiric-receptionist-service/internal/metrics"
	"github.com/sentiric/sentiric-receptionist-service/internal/notify"
	"github.com/sentiric/sentiric-receptionist-service/internal/persona"
	"github.com/sentiric/sentiric-receptionist-service/internal/queue"
	"github.com/sentiric/sentiric-receptionist-service/internal/relay"
	"github.com/sentiric/sentiric-receptionist-service/internal/rpc"
	"github.com/sentiric/sentiric-receptionist-service/internal/service"
	"github.com/sentiric/sentiric-receptionist-service/internal/state"
	"github.com/sentiric/sentiric-receptionist-service/internal/storage"
)

const healthCheckInterval = 15 * time.Second

type App struct {
	Cfg *config.Config
	Log zerolog.Logger
}

func NewApp(cfg *config.Config, log zerolog.Logger) *App {
	return &App{Cfg: cfg, Log: log}
}

type infra struct {
	db        *sql.DB
	rdb       *redis.Client
	amqpConn  *amqp091.Connection
	rabbitCh  *amqp091.Channel
	closeChan <-chan *amqp091.Error
}

func (i *infra) close() {
	if i.rabbitCh != nil {
		_ = i.rabbitCh.Close()
	}
	if i.amqpConn != nil {
		_ = i.amqpConn.Close()
	}
	if i.rdb != nil {
		_ = i.rdb.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

// Run, servis kapanana kadar bloklar.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Altyapı Bağlantıları
	inf, err := a.initInfra(ctx)
	if err != nil {
		return fmt.Errorf("altyapı başlatılamadı: %w", err)
	}
	defer inf.close()

	// 2. Bağımlılık Enjeksiyonu
	orchestrator, err := a.buildOrchestrator(inf)
	if err != nil {
		return err
	}
	metrics.TrackActiveSessions(orchestrator.ActiveSessionCount)
	eventHandler := handler.NewEventHandler(orchestrator, a.Log, metrics.EventsProcessed, metrics.EventsFailed)

	// 3. Sunucular
	checks := map[string]rpc.Pinger{"database": inf.db}
	if inf.rdb != nil {
		checks["redis"] = rpc.PingFunc(func(ctx context.Context) error { return inf.rdb.Ping(ctx).Err() })
	}
	health := rpc.NewHealthServer(a.Log, checks)
	go func() {
		if err := health.Serve(a.Cfg.GRPCPort); err != nil {
			a.Log.Error().Err(err).Msg("gRPC sağlık sunucusu durdu.")
		}
	}()
	go health.Watch(ctx, healthCheckInterval)

	metricsSrv := metrics.StartServer(a.Cfg.MetricsPort, a.Log)
	httpSrv := a.startHTTP(handler.Routes(handler.NewStreamHandler(orchestrator, a.Log)))

	// 4. RabbitMQ Worker
	var wg sync.WaitGroup
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := queue.StartConsumer(consumerCtx, inf.rabbitCh, eventHandler.HandleRabbitMQMessage, a.Log, &wg); err != nil {
			a.Log.Error().Err(err).Msg("RabbitMQ tüketicisi başlatılamadı.")
		}
	}()

	// 5. Shutdown
	a.waitForSignal(inf.closeChan)

	stopConsumer()
	<-consumerDone
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn().Err(err).Msg("HTTP sunucusu düzgün kapatılamadı.")
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn().Err(err).Msg("Bazı oturumlar zaman aşımında kapatılamadı.")
	}
	health.Stop()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn().Err(err).Msg("Metrik sunucusu düzgün kapatılamadı.")
	}
	a.Log.Info().Msg("Servis başarıyla durduruldu.")
	return nil
}

func (a *App) initInfra(ctx context.Context) (*infra, error) {
	inf := &infra{}
	var err error

	inf.db, err = database.Open(ctx, a.Cfg.DBDriver, a.Cfg.PostgresURL, a.Cfg.SQLitePath, a.Log)
	if err != nil {
		return nil, err
	}
	if a.Cfg.AutoMigrate {
		if err := database.Migrate(ctx, inf.db, a.Cfg.DBDriver, a.Log); err != nil {
			inf.close()
			return nil, err
		}
	}

	if a.Cfg.RedisURL != "" {
		inf.rdb, err = database.ConnectRedis(ctx, a.Cfg.RedisURL, a.Log)
		if err != nil {
			inf.close()
			return nil, err
		}
	} else {
		a.Log.Warn().Msg("REDIS_URL tanımlı değil, tek seferlik bildirim kilidi bellekte tutulacak.")
	}

	inf.amqpConn, inf.rabbitCh, inf.closeChan, err = queue.Connect(ctx, a.Cfg.RabbitMQURL, a.Log)
	if err != nil {
		inf.close()
		return nil, err
	}
	return inf, nil
}

func (a *App) buildOrchestrator(inf *infra) (*service.Orchestrator, error) {
	p, err := persona.Load(a.Cfg.PersonaFile)
	if err != nil {
		return nil, fmt.Errorf("persona yüklenemedi: %w", err)
	}

	store := storage.NewSQLStore(inf.db, a.Cfg.DBDriver)
	telephony := client.NewTelephonyClient(a.Cfg.TelephonyAPIURL, a.Cfg.TelephonyAccountSID, a.Cfg.TelephonyAuthToken, a.Log)
	dispatcher := notify.NewDispatcher(telephony, store, notify.Recipients{
		SMSFrom:          a.Cfg.SMSFromNumber,
		SMSTo:            a.Cfg.OwnerSMSNumber,
		WhatsAppFrom:     a.Cfg.WhatsAppFromNumber,
		WhatsAppTo:       a.Cfg.OwnerWhatsAppNumber,
		RecordingBaseURL: a.Cfg.RecordingBaseURL,
	}, a.Log)

	var guard state.Guard = state.NewMemoryGuard()
	if inf.rdb != nil {
		guard = state.NewRedisGuard(inf.rdb)
	}

	deps := service.Deps{
		Store:     store,
		Notifier:  dispatcher,
		Calls:     telephony,
		Dialer:    agentDialer{agent.NewDialer(a.Cfg.AgentWSURL, a.Cfg.AgentAPIKey, a.Log).WithAttempts(a.Cfg.AgentDialAttempts)},
		Guard:     guard,
		Publisher: queue.NewPublisher(inf.rabbitCh, a.Log),
		Persona:   p,
		Log:       a.Log,
	}
	if dir := a.Cfg.AudioCaptureDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ses kayıt dizini oluşturulamadı: %w", err)
		}
		deps.NewRecorder = func(callID string) (service.Recorder, error) {
			c, err := audio.NewCapture(dir, callID)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	return service.NewOrchestrator(deps, service.Options{
		MaxCallDuration:        a.Cfg.MaxCallDuration,
		RecordingFallbackDelay: a.Cfg.RecordingFallbackDelay,
		TransferGracePeriod:    a.Cfg.TransferGracePeriod,
		TransferURL:            a.Cfg.TransferURL,
		NoAnswerURL:            a.Cfg.NoAnswerURL,
		ApologyURL:             a.Cfg.ApologyURL,
		DefaultLanguage:        a.Cfg.DefaultLanguage,
	}), nil
}

func (a *App) startHTTP(h http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              ":" + a.Cfg.HTTPPort,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.Log.Info().Str("port", a.Cfg.HTTPPort).Msg("🚀 Medya akışı sunucusu dinleniyor")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Error().Err(err).Msg("HTTP sunucu hatası")
		}
	}()
	return srv
}

func (a *App) waitForSignal(closeChan <-chan *amqp091.Error) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		a.Log.Info().Str("signal", s.String()).Msg("Kapatma sinyali alındı.")
	case err := <-closeChan:
		a.Log.Error().Err(err).Msg("RabbitMQ bağlantısı koptu.")
	}
}

// agentDialer, gorilla bağlantısını orkestratörün soket arayüzüne uyarlar.
type agentDialer struct {
	d *agent.Dialer
}

func (a agentDialer) Dial(ctx context.Context) (relay.Conn, error) {
	conn, err := a.d.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
