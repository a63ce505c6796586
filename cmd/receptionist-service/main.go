package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/grpclog"

	"github.com/sentiric/sentiric-receptionist-service/internal/app"
	"github.com/sentiric/sentiric-receptionist-service/internal/config"
	"github.com/sentiric/sentiric-receptionist-service/internal/database"
	"github.com/sentiric/sentiric-receptionist-service/internal/logger"
)

var (
	ServiceVersion string
	GitCommit      string
	BuildDate      string
)

const (
	serviceName    = "receptionist-service"
	migrateTimeout = 2 * time.Minute
)

// initGrpcLogger, debug seviyesi dışında gRPC kütüphanesinin kendi loglarını yoksayar.
func initGrpcLogger(logLevel string) {
	if logLevel != "debug" {
		grpclog.SetLoggerV2(grpclog.NewLoggerV2(io.Discard, io.Discard, io.Discard))
	}
}

func main() {
	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Cevapsız çağrıları karşılayan sesli resepsiyonist servisi",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Medya akışı, olay tüketicisi ve sağlık sunucularını başlatır",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("konfigürasyon yüklenemedi: %w", err)
			}

			appLog := logger.New(serviceName, cfg.Env, cfg.LogLevel)
			initGrpcLogger(cfg.LogLevel)

			appLog.Info().
				Str("version", ServiceVersion).
				Str("commit", GitCommit).
				Str("build_date", BuildDate).
				Str("profile", cfg.Env).
				Msg("🚀 receptionist-service başlatılıyor...")

			return app.NewApp(cfg, appLog).Run()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Gömülü veritabanı göçlerini uygular ve çıkar",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadForMigrate()
			if err != nil {
				return fmt.Errorf("konfigürasyon yüklenemedi: %w", err)
			}
			appLog := logger.New(serviceName, cfg.Env, cfg.LogLevel)

			ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
			defer cancel()

			db, err := database.Open(ctx, cfg.DBDriver, cfg.PostgresURL, cfg.SQLitePath, appLog)
			if err != nil {
				return err
			}
			defer db.Close()
			return database.Migrate(ctx, db, cfg.DBDriver, appLog)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Sürüm bilgisini yazdırır",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, %s)\n", serviceName, orDev(ServiceVersion), orDev(GitCommit), orDev(BuildDate))
		},
	}
}

func orDev(v string) string {
	if v == "" {
		return "dev"
	}
	return v
}
