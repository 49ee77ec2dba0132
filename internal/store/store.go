// Package store persists disaster rows through gorm.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/galois26/disaster-ingester/internal/config"
	"github.com/galois26/disaster-ingester/internal/model"
)

// Store is the only handle to the disasters table. Callers own it and must
// Close it.
type Store struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// PageResult describes one committed page.
type PageResult struct {
	Inserted int
	Replaced int64 // existing rows removed because their fema_id came in again
}

func Open(cfg config.DatabaseConfig, log logrus.FieldLogger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := logger.Warn
	if cfg.LogSQL {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Driver, err)
	}
	if cfg.Driver == config.DriverSQLite {
		// One connection keeps ":memory:" databases shared and writes serialized.
		sqlDB.SetMaxOpenConns(1)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the disasters table and its fema_id index when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&model.Disaster{}); err != nil {
		return fmt.Errorf("migrate disasters: %w", err)
	}
	return nil
}

// Clear deletes every stored disaster and returns how many rows went.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&model.Disaster{})
	if res.Error != nil {
		return 0, fmt.Errorf("clear disasters: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ReplacePage stores rows in one transaction. Each row first evicts every
// stored row with the same fema_id, so readers see either the old or the
// new version, never neither. A failure rolls back the whole page.
func (s *Store) ReplacePage(ctx context.Context, rows []model.Disaster) (PageResult, error) {
	var res PageResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			row := rows[i]
			del := tx.Where("fema_id = ?", row.FEMAID).Delete(&model.Disaster{})
			if del.Error != nil {
				return fmt.Errorf("delete fema_id %s: %w", row.FEMAID, del.Error)
			}
			if del.RowsAffected > 0 {
				s.log.WithFields(logrus.Fields{"fema_id": row.FEMAID, "rows": del.RowsAffected}).Debug("replacing disaster")
				res.Replaced += del.RowsAffected
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert fema_id %s: %w", row.FEMAID, err)
			}
			res.Inserted++
		}
		return nil
	})
	if err != nil {
		return PageResult{}, err
	}
	return res, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Disaster{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count disasters: %w", err)
	}
	return n, nil
}

// FindByFEMAID returns the stored rows for id; more than one means the
// uniqueness invariant is broken.
func (s *Store) FindByFEMAID(ctx context.Context, id string) ([]model.Disaster, error) {
	var out []model.Disaster
	if err := s.db.WithContext(ctx).Where("fema_id = ?", id).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find fema_id %s: %w", id, err)
	}
	return out, nil
}

// List returns every stored row ordered by fema_id.
func (s *Store) List(ctx context.Context) ([]model.Disaster, error) {
	var out []model.Disaster
	if err := s.db.WithContext(ctx).Order("fema_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list disasters: %w", err)
	}
	return out, nil
}
