// Package agent drives the bounded tool-calling loop: plan, act, record,
// terminate, validate.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shoplytics/insight-agent/pkg/gateway"
	"github.com/shoplytics/insight-agent/pkg/grounding"
	"github.com/shoplytics/insight-agent/pkg/metrics"
	"github.com/shoplytics/insight-agent/pkg/planner"
)

// DefaultMaxSteps is the hard circuit breaker against infinite tool-calling
// loops; the model/tool dialogue has no natural fixed point.
const DefaultMaxSteps = 15

// AbortedAnswer seals a turn that ran out of steps, for metrics visibility.
const AbortedAnswer = "aborted: max steps exceeded"

// AskRequest is the inbound contract. Chart fields are optional intent.
type AskRequest struct {
	Prompt     string `json:"prompt" validate:"required"`
	WantsChart bool   `json:"wants_chart,omitempty"`
	ChartType  string `json:"chart_type,omitempty" validate:"omitempty,oneof=bar line"`
	ChartTitle string `json:"chart_title,omitempty"`
}

type AskResponse struct {
	Answer  string                 `json:"answer,omitempty"`
	Chart   *Chart                 `json:"chart"`
	Data    map[string]any         `json:"data"`
	History []planner.HistoryEntry `json:"history"`
}

type Assistant struct {
	gateway   gateway.Gateway
	generator planner.Generator
	metrics   *metrics.Store
	validator *validator.Validate
	logger    zerolog.Logger
	maxSteps  int
}

type Option func(*Assistant)

// WithMaxSteps overrides the step budget.
func WithMaxSteps(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

func NewAssistant(gw gateway.Gateway, gen planner.Generator, store *metrics.Store, logger zerolog.Logger, opts ...Option) *Assistant {
	a := &Assistant{
		gateway:   gw,
		generator: gen,
		metrics:   store,
		validator: validator.New(),
		logger:    logger.With().Str("component", "assistant").Logger(),
		maxSteps:  DefaultMaxSteps,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Ask processes one prompt end-to-end. Tool failures are folded into history
// and the loop continues; generator failures and malformed plans abort the
// turn.
func (a *Assistant) Ask(ctx context.Context, req *AskRequest) (*AskResponse, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt must not be empty", ErrInvalidInput)
	}
	if err := a.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	turnID := a.metrics.StartTurn(req.Prompt)
	ctx = metrics.ContextWithTurn(ctx, turnID)

	tools, err := a.gateway.ListTools(ctx)
	if err != nil {
		a.sealAborted(turnID, "tool catalog unavailable")
		return nil, fmt.Errorf("failed to fetch tool catalog: %w", err)
	}

	// history marshals as [] even when no tool was called
	history := []planner.HistoryEntry{}
	var lastResult map[string]any

	for step := 0; step < a.maxSteps; step++ {
		plan, err := a.generator.Plan(ctx, &planner.Request{
			Prompt:     req.Prompt,
			Tools:      tools,
			History:    history,
			WantsChart: req.WantsChart,
			ChartType:  req.ChartType,
		})
		if err != nil {
			a.sealAborted(turnID, "plan generator failure")
			return nil, fmt.Errorf("plan generator failed: %w", err)
		}

		switch plan.Action {
		case planner.ActionFinalAnswer:
			a.metrics.AutoValidateFromAnswer(turnID, plan.Answer)
			a.metrics.EndTurn(turnID, plan.Answer)
			a.logger.Info().Str("turn", turnID).Int("steps", step).Msg("turn finished")
			return &AskResponse{
				Answer:  plan.Answer,
				Chart:   a.buildChart(req, plan.Answer, lastResult),
				Data:    lastResult,
				History: history,
			}, nil

		case planner.ActionCallTool:
			a.metrics.NoteToolUsed(turnID, plan.ToolName)
			entry := planner.HistoryEntry{Tool: plan.ToolName, Args: plan.ToolArgs}

			result, err := a.metrics.WithToolLogging(ctx, plan.ToolName, plan.ToolArgs, func(ctx context.Context) (any, error) {
				return a.gateway.CallTool(ctx, plan.ToolName, plan.ToolArgs)
			})
			if err != nil {
				// Non-fatal: the model sees the failure on the next step.
				a.logger.Warn().Str("tool", plan.ToolName).Err(err).Msg("tool call failed")
				entry.Error = err.Error()
			} else if resultMap, ok := result.(map[string]any); ok {
				entry.Result = resultMap
				lastResult = resultMap
				a.metrics.ProvideGroundTruth(turnID, grounding.Extract(resultMap))
			}
			history = append(history, entry)

		default:
			a.sealAborted(turnID, "invalid plan")
			return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidPlan, plan.Action)
		}
	}

	a.metrics.EndTurn(turnID, AbortedAnswer)
	return nil, fmt.Errorf("%w: no final answer after %d steps", ErrStepBudgetExceeded, a.maxSteps)
}

// sealAborted closes the turn with an error marker so the audit trail stays
// consistent even on fatal faults.
func (a *Assistant) sealAborted(turnID, reason string) {
	a.metrics.EndTurn(turnID, "aborted: "+reason)
}
