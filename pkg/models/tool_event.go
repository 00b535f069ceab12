package models

import (
	"time"

	"gorm.io/gorm"
)

// ToolEvent is one persisted tool invocation, successful or not.
type ToolEvent struct {
	ID           uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	EventID      string         `gorm:"type:varchar(36);index" json:"event_id"`
	TurnID       string         `gorm:"type:varchar(36);index" json:"turn_id,omitempty"`
	ToolName     string         `gorm:"type:varchar(255);index;not null" json:"tool_name"`
	ArgsJSON     string         `gorm:"type:text" json:"args_json"`
	ResultJSON   string         `gorm:"type:text" json:"result_json,omitempty"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	Success      bool           `gorm:"index" json:"success"`
}
