package metrics

import "time"

// ToolEvent is one instrumented tool invocation kept in the in-memory log.
type ToolEvent struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	TurnID     string         `json:"turnId,omitempty"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"durationMs"`
}

// Anomaly is a detected irregular condition in tool traffic or tool-result data.
type Anomaly struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

const (
	AnomalyNegativeInventory = "negative-inventory"
	AnomalyRateSpike         = "rate-spike"
)

// ToolStats is the per-tool running aggregate.
type ToolStats struct {
	Total  int     `json:"total"`
	Errors int     `json:"errors"`
	AvgMs  float64 `json:"avgMs"`
}

// ValidationCheck is one appended numeric cross-check on a turn.
type ValidationCheck struct {
	Label     string   `json:"label"`
	AI        *float64 `json:"ai,omitempty"`
	Tool      *float64 `json:"tool,omitempty"`
	Tolerance *float64 `json:"tolerance,omitempty"`
	Diff      *float64 `json:"diff,omitempty"`
	OK        bool     `json:"ok"`
}

// Turn is one user request processed end-to-end. Owned by the Store; callers
// hold only the ID.
type Turn struct {
	ID          string             `json:"id"`
	StartedAt   time.Time          `json:"startedAt"`
	Prompt      string             `json:"prompt"`
	ToolsUsed   []string           `json:"toolsUsed"`
	Answer      string             `json:"answer,omitempty"`
	Claimed     map[string]float64 `json:"claimed,omitempty"`
	Grounded    map[string]float64 `json:"grounded,omitempty"`
	Validations []ValidationCheck  `json:"validations"`

	sealed bool
}
