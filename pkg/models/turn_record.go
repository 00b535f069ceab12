package models

import (
	"time"

	"gorm.io/gorm"
)

// TurnRecord is the sealed audit row for one prompt-to-answer turn.
// ToolsUsedJSON and ValidationsJSON hold the JSON-encoded turn bookkeeping
// so the row stays queryable without a schema per check.
type TurnRecord struct {
	ID              uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	TurnID          string         `gorm:"type:varchar(36);uniqueIndex" json:"turn_id"`
	Prompt          string         `gorm:"type:text" json:"prompt"`
	Answer          string         `gorm:"type:text" json:"answer,omitempty"`
	ToolsUsedJSON   string         `gorm:"type:text" json:"tools_used_json,omitempty"`
	ValidationsJSON string         `gorm:"type:text" json:"validations_json,omitempty"`
	ChecksPassed    int            `json:"checks_passed"`
	ChecksFailed    int            `json:"checks_failed"`
}
