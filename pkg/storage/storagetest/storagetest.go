package storagetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/areuok/pkg/config"
	"github.com/haasonsaas/areuok/pkg/storage"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

// Open opens a migrated, private in-memory sqlite database for one test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:areuok-test-%d-%d?mode=memory&cache=shared", time.Now().UnixNano(), testDBSeq.Add(1))
	db, err := storage.Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
