package db

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/pkg/env"
	"github.com/switchyard-net/switchyard/pkg/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	conn     *gorm.DB
	connOnce sync.Once
)

// Connection returns the process-wide database handle, opening it on
// first use according to the configured database type.
func Connection() *gorm.DB {
	connOnce.Do(func() {
		gdb, err := Open(env.Variables().DatabaseType, env.Variables().DatabaseDSN)
		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
		conn = gdb
	})

	return conn
}

// Open opens a gorm handle for the given database type and DSN.
func Open(databaseType, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}

	var (
		gdb *gorm.DB
		err error
	)

	switch databaseType {
	case "postgres":
		gdb, err = gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite", "":
		gdb, err = gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, errors.Errorf("unsupported database type: %q", databaseType)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", databaseType)
	}

	if databaseType != "postgres" {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, errors.Wrap(err, "sqlite handle")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return gdb, nil
}

// Migrate applies the schema for every model.
func Migrate() error {
	return MigrateWith(Connection())
}

// MigrateWith applies the schema using the supplied handle.
func MigrateWith(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(models.All...); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	return nil
}
