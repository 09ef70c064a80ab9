package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yungbote/hatchery-backend/internal/domain"
	"github.com/yungbote/hatchery-backend/internal/platform/envutil"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := envutil.String("POSTGRES_HOST", "localhost")
	postgresPort := envutil.String("POSTGRES_PORT", "5432")
	postgresUser := envutil.String("POSTGRES_USER", "postgres")
	postgresPassword := envutil.String("POSTGRES_PASSWORD", "")
	postgresName := envutil.String("POSTGRES_NAME", "hatchery")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...", "host", postgresHost, "database", postgresName)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := s.db.AutoMigrate(
		&domain.Clutch{},
		&domain.Egg{},
		&domain.JobRun{},
	); err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}
	if err := s.db.Exec(`ALTER TABLE "egg" DROP CONSTRAINT IF EXISTS "fk_egg_clutch_id"`).Error; err != nil {
		return fmt.Errorf("drop fk_egg_clutch_id: %w", err)
	}
	if err := s.db.Exec(`
		ALTER TABLE "egg"
		ADD CONSTRAINT "fk_egg_clutch_id"
		FOREIGN KEY ("clutch_id")
		REFERENCES "clutch"("id")
		ON DELETE CASCADE
	`).Error; err != nil {
		return fmt.Errorf("add fk_egg_clutch_id: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
