package storage

import (
	"context"

	"github.com/shoplytics/insight-agent/pkg/models"
)

type Storage interface {
	// Tool event audit log
	CreateToolEvent(ctx context.Context, event *models.ToolEvent) error
	GetToolEvent(ctx context.Context, id uint) (*models.ToolEvent, error)
	GetToolEvents(ctx context.Context, limit, offset int) ([]models.ToolEvent, int64, error)
	GetToolEventsByTurn(ctx context.Context, turnID string) ([]models.ToolEvent, error)
	GetToolEventsByTool(ctx context.Context, toolName string, limit int) ([]models.ToolEvent, error)
	DeleteAllToolEvents(ctx context.Context) error

	// Sealed conversation turns
	CreateTurnRecord(ctx context.Context, turn *models.TurnRecord) error
	GetTurnRecord(ctx context.Context, turnID string) (*models.TurnRecord, error)
	GetTurnRecords(ctx context.Context, limit, offset int) ([]models.TurnRecord, int64, error)

	// Lifecycle
	Close() error
}
