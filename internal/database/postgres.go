// Package database, PostgreSQL/SQLite/Redis bağlantılarını ve şema göçlerini yönetir.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

const (
	maxRetries  = 10
	retryDelay  = 5 * time.Second
	pingTimeout = 5 * time.Second
)

// withRetry, fn başarılı olana, deneme hakkı bitene veya context iptal edilene kadar tekrarlar.
func withRetry(ctx context.Context, target string, log zerolog.Logger, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err = fn(ctx); err == nil {
			return nil
		}

		if ctx.Err() == nil {
			log.Warn().Err(err).Str("target", target).Int("attempt", i+1).Int("max_attempts", maxRetries).Msgf("%s bağlanılamadı, %s sonra tekrar denenecek...", target, retryDelay)
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("maksimum deneme (%d) sonrası %s bağlanılamadı: %w", maxRetries, target, err)
}

// Connect, yeniden deneme mekanizması ile PostgreSQL'e bağlanır.
func Connect(ctx context.Context, url string, log zerolog.Logger) (*sql.DB, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgresql URL parse edilemedi: %w", err)
	}
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	finalURL := stdlib.RegisterConnConfig(config.ConnConfig)

	var db *sql.DB
	err = withRetry(ctx, "PostgreSQL'e", log, func(ctx context.Context) error {
		conn, openErr := sql.Open("pgx", finalURL)
		if openErr != nil {
			return openErr
		}
		conn.SetConnMaxLifetime(3 * time.Minute)
		conn.SetMaxIdleConns(5)
		conn.SetMaxOpenConns(10)

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if pingErr := conn.PingContext(pingCtx); pingErr != nil {
			conn.Close()
			return pingErr
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", "postgres").Msg("✅ Veritabanına bağlantı başarılı (Simple Protocol Mode).")
	return db, nil
}

// ConnectRedis, yeniden deneme mekanizması ile Redis'e bağlanır.
func ConnectRedis(ctx context.Context, url string, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis URL parse edilemedi: %w", err)
	}

	var rdb *redis.Client
	err = withRetry(ctx, "Redis'e", log, func(ctx context.Context) error {
		client := redis.NewClient(opt)
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
			client.Close()
			return pingErr
		}
		rdb = client
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("✅ Redis bağlantısı başarılı.")
	return rdb, nil
}
