// Package sqlite is a single-file domain.Store for deployments that run one
// instance next to the chat bot.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/behzadon/rulebook/internal/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ domain.Store = (*Store)(nil)

// Open opens the database at dsn and migrates its schema.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// sqlite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&ruleModel{}, &pollModel{}, &reminderModel{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &domain.RepositoryError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &domain.RepositoryError{Op: "ping", Err: err}
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) repoError(op string, err error) error {
	s.logger.Debug("sqlite operation failed", zap.String("op", op), zap.Error(err))
	return &domain.RepositoryError{Op: op, Err: err}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
