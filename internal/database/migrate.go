package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func newProvider(db *sql.DB, driver string) (*goose.Provider, error) {
	var dialect goose.Dialect
	switch driver {
	case DriverPostgres:
		dialect = goose.DialectPostgres
	case DriverSQLite:
		dialect = goose.DialectSQLite3
	default:
		return nil, fmt.Errorf("desteklenmeyen veritabanı sürücüsü: %q", driver)
	}
	fsys, err := fs.Sub(migrationsFS, "migrations/"+driver)
	if err != nil {
		return nil, fmt.Errorf("göç dosyaları okunamadı: %w", err)
	}
	return goose.NewProvider(dialect, db, fsys)
}

// Migrate, gömülü SQL göçlerini sürücüye göre uygular.
func Migrate(ctx context.Context, db *sql.DB, driver string, log zerolog.Logger) error {
	provider, err := newProvider(db, driver)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("veritabanı göçü başarısız: %w", err)
	}
	for _, r := range results {
		log.Info().Str("migration", r.Source.Path).Dur("duration", r.Duration).Msg("Göç uygulandı.")
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("şema sürümü okunamadı: %w", err)
	}
	log.Info().Int64("version", version).Int("applied", len(results)).Msg("✅ Veritabanı şeması güncel.")
	return nil
}

// Open, yapılandırılan sürücüye göre bağlantı açar.
func Open(ctx context.Context, driver, postgresURL, sqlitePath string, log zerolog.Logger) (*sql.DB, error) {
	switch driver {
	case DriverPostgres:
		return Connect(ctx, postgresURL, log)
	case DriverSQLite:
		return OpenSQLite(ctx, sqlitePath, log)
	default:
		return nil, fmt.Errorf("desteklenmeyen veritabanı sürücüsü: %q", driver)
	}
}
