package storage

import (
	"context"
	"fmt"

	"github.com/shoplytics/insight-agent/pkg/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type SQLiteStorage struct {
	db *gorm.DB
}

type Config struct {
	DatabasePath string
	Debug        bool
}

func NewSQLiteStorage(cfg Config) (*SQLiteStorage, error) {
	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}

	database, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// Auto-migrate schema
	if err := database.AutoMigrate(&models.ToolEvent{}, &models.TurnRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &SQLiteStorage{db: database}, nil
}

func (s *SQLiteStorage) CreateToolEvent(ctx context.Context, event *models.ToolEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *SQLiteStorage) GetToolEvent(ctx context.Context, id uint) (*models.ToolEvent, error) {
	var event models.ToolEvent
	err := s.db.WithContext(ctx).First(&event, id).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *SQLiteStorage) GetToolEvents(ctx context.Context, limit, offset int) ([]models.ToolEvent, int64, error) {
	var events []models.ToolEvent
	var total int64

	s.db.WithContext(ctx).Model(&models.ToolEvent{}).Count(&total)

	query := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	err := query.Find(&events).Error
	return events, total, err
}

func (s *SQLiteStorage) GetToolEventsByTurn(ctx context.Context, turnID string) ([]models.ToolEvent, error) {
	var events []models.ToolEvent
	err := s.db.WithContext(ctx).
		Where("turn_id = ?", turnID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

func (s *SQLiteStorage) GetToolEventsByTool(ctx context.Context, toolName string, limit int) ([]models.ToolEvent, error) {
	var events []models.ToolEvent
	query := s.db.WithContext(ctx).
		Where("tool_name = ?", toolName).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

func (s *SQLiteStorage) DeleteAllToolEvents(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&models.ToolEvent{}).Error
}

func (s *SQLiteStorage) CreateTurnRecord(ctx context.Context, turn *models.TurnRecord) error {
	return s.db.WithContext(ctx).Create(turn).Error
}

func (s *SQLiteStorage) GetTurnRecord(ctx context.Context, turnID string) (*models.TurnRecord, error) {
	var turn models.TurnRecord
	err := s.db.WithContext(ctx).Where("turn_id = ?", turnID).First(&turn).Error
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

func (s *SQLiteStorage) GetTurnRecords(ctx context.Context, limit, offset int) ([]models.TurnRecord, int64, error) {
	var turns []models.TurnRecord
	var total int64

	s.db.WithContext(ctx).Model(&models.TurnRecord{}).Count(&total)

	query := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	err := query.Find(&turns).Error
	return turns, total, err
}

func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
