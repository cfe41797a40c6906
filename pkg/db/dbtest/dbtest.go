// Package dbtest opens throwaway sqlite databases with the full schema for
// repository and service tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/digistore1/digistore-backend/pkg/db"
	"github.com/digistore1/digistore-backend/pkg/db/models"
)

// Open returns a migrated sqlite-backed client. Each call gets its own file so
// tests can run in parallel.
func Open(t testing.TB) *db.Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("%s.sqlite", uuid.NewString()))
	// WAL plus a busy timeout lets concurrent test goroutines queue on the
	// single writer instead of failing with SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate", path)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	client := db.Wrap(conn)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}
