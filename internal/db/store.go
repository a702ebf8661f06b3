package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/types"
	"github.com/kestrelworks/infograph-backend/internal/utils"
)

// StoreService owns the durable artifact store. The default backend is a local
// sqlite file; setting POSTGRES_HOST switches to postgres for shared deploys.
type StoreService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStoreService(log *logger.Logger) (*StoreService, error) {
	serviceLog := log.With("service", "StoreService")

	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var (
		gdb *gorm.DB
		err error
	)
	if host := utils.GetEnv("POSTGRES_HOST", "", log); host != "" {
		port := utils.GetEnv("POSTGRES_PORT", "5432", log)
		user := utils.GetEnv("POSTGRES_USER", "postgres", log)
		password := utils.GetEnv("POSTGRES_PASSWORD", "", log)
		name := utils.GetEnv("POSTGRES_NAME", "infograph", log)
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
		serviceLog.Info("Connecting to Postgres...", "host", host, "db", name)
		gdb, err = gorm.Open(postgres.Open(dsn), gcfg)
	} else {
		path := utils.GetEnv("SQLITE_PATH", "infograph.db", log)
		serviceLog.Info("Opening sqlite store...", "path", path)
		gdb, err = gorm.Open(sqlite.Open(path), gcfg)
	}
	if err != nil {
		serviceLog.Error("Failed to open artifact store", "error", err)
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	return &StoreService{db: gdb, log: serviceLog}, nil
}

// AutoMigrateAll is idempotent: it creates the saved_artifact collection if it
// does not exist yet.
func (s *StoreService) AutoMigrateAll() error {
	s.log.Info("Auto migrating artifact store tables...")
	if err := s.db.AutoMigrate(&types.SavedArtifact{}); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return fmt.Errorf("migrate artifact store: %w", err)
	}
	return nil
}

func (s *StoreService) DB() *gorm.DB {
	return s.db
}
