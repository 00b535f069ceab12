// Package planner turns a goal, a tool catalog, and the step history so far
// into the next action: call one tool, or answer.
package planner

import (
	"context"
	"fmt"

	"github.com/shoplytics/insight-agent/pkg/gateway"
)

// Action discriminates the two plan shapes. Anything else is a protocol
// violation, never a fallthrough.
type Action string

const (
	ActionFinalAnswer Action = "final_answer"
	ActionCallTool    Action = "call_tool"
)

// Plan is the generator's decision for one step. Exactly one of the two
// shapes is populated: Answer for final_answer, ToolName/ToolArgs for
// call_tool.
type Plan struct {
	Action   Action         `json:"action"`
	Answer   string         `json:"answer,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	ToolArgs map[string]any `json:"tool_args,omitempty"`
}

// Validate checks that the plan matches exactly one of the two shapes.
func (p *Plan) Validate() error {
	switch p.Action {
	case ActionFinalAnswer:
		if p.Answer == "" {
			return fmt.Errorf("final_answer plan with empty answer")
		}
	case ActionCallTool:
		if p.ToolName == "" {
			return fmt.Errorf("call_tool plan with empty tool_name")
		}
	default:
		return fmt.Errorf("unknown plan action %q", p.Action)
	}
	return nil
}

// HistoryEntry is one completed step of tool usage within a turn.
type HistoryEntry struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Request carries everything a generator needs to decide the next step.
type Request struct {
	Prompt     string
	Tools      []gateway.ToolDescriptor
	History    []HistoryEntry
	WantsChart bool
	ChartType  string
}

// Generator is the opaque, possibly slow, externally rate-limited boundary to
// the language model. Errors propagate unmodified.
type Generator interface {
	Plan(ctx context.Context, req *Request) (*Plan, error)
}
