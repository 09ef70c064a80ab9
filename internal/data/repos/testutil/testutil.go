package testutil

import (
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

var (
	dbOnce sync.Once
	db     *gorm.DB
	dbErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB opens the test database. With TEST_POSTGRES_DSN set it targets Postgres
// (required for claim semantics); otherwise it falls back to an in-memory
// sqlite database that covers the plain CRUD paths.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dbOnce.Do(func() {
		cfg := &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		}

		if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
			db, dbErr = gorm.Open(postgres.Open(dsn), cfg)
			if dbErr != nil {
				return
			}
			if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
				dbErr = err
				return
			}
		} else {
			db, dbErr = gorm.Open(sqlite.Open("file::memory:?cache=shared"), cfg)
			if dbErr != nil {
				return
			}
		}

		dbErr = autoMigrateAll(db)
	})

	if dbErr != nil {
		tb.Fatalf("failed to init test db: %v", dbErr)
	}
	return db
}

// Postgres reports whether DB is backed by Postgres. Tests exercising
// row-claim locking skip themselves when it is not.
func Postgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

func autoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Clutch{},
		&domain.Egg{},
		&domain.JobRun{},
	)
}
