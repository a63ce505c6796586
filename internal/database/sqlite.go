package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// OpenSQLite, tek düğümlü kurulumlar ve testler için SQLite veritabanı açar.
// ":memory:" yolu her bağlantıda ayrı veritabanı demek olduğundan havuz tek bağlantıyla sınırlanır.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("veritabanı dizini oluşturulamadı %s: %w", dir, err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite açılamadı: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping başarısız: %w", err)
	}
	log.Info().Str("driver", "sqlite").Str("path", path).Msg("✅ Veritabanına bağlantı başarılı.")
	return db, nil
}
