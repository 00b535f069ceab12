package metrics

import (
	"context"
	"encoding/json"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/shoplytics/insight-agent/pkg/grounding"
	"github.com/shoplytics/insight-agent/pkg/models"
)

// Turn bookkeeping is best-effort by contract: every method below silently
// ignores unknown turn IDs so an instrumentation bug can never break the
// agent loop.

type turnIDKey struct{}

// ContextWithTurn tags ctx with the active turn ID so tool events logged
// under it can be attributed to the turn.
func ContextWithTurn(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, turnID)
}

func turnIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(turnIDKey{}).(string)
	return id
}

// StartTurn opens a new conversation turn and returns its ID.
func (s *Store) StartTurn(prompt string) string {
	turn := &Turn{
		ID:        uuid.NewString(),
		StartedAt: s.now(),
		Prompt:    prompt,
		ToolsUsed: []string{},
		Grounded:  map[string]float64{},
	}
	s.mu.Lock()
	s.turns[turn.ID] = turn
	s.turnOrder = append(s.turnOrder, turn.ID)
	s.mu.Unlock()
	return turn.ID
}

// EndTurn seals the turn with its final answer. After sealing only
// validations may still be appended.
func (s *Store) EndTurn(turnID, answer string) {
	s.mu.Lock()
	turn, ok := s.turns[turnID]
	sealedNow := ok && !turn.sealed
	if sealedNow {
		turn.Answer = answer
		turn.sealed = true
	}
	s.mu.Unlock()
	if sealedNow {
		s.persistTurn(turnID)
	}
}

// NoteToolUsed appends the tool name to the turn's call-order list.
func (s *Store) NoteToolUsed(turnID, toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, ok := s.turns[turnID]
	if !ok || turn.sealed {
		return
	}
	turn.ToolsUsed = append(turn.ToolsUsed, toolName)
}

// ProvideGroundTruth merges tool-sourced numeric values into the turn's
// grounded map. Last writer wins per field.
func (s *Store) ProvideGroundTruth(turnID string, values map[string]float64) {
	if len(values) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, ok := s.turns[turnID]
	if !ok || turn.sealed {
		return
	}
	for k, v := range values {
		turn.Grounded[k] = v
	}
}

// AddValidation appends a check to the turn. Append-only, allowed on sealed turns.
func (s *Store) AddValidation(turnID string, check ValidationCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn, ok := s.turns[turnID]
	if !ok {
		return
	}
	turn.Validations = append(turn.Validations, check)
}

// AutoValidateFromAnswer cross-checks the turn's grounded numbers against the
// numbers the model actually stated in its answer text, at zero tolerance. A
// grounded field with no parsable claim in the text degrades to a
// grounded-vs-grounded self-check, which passes by construction.
func (s *Store) AutoValidateFromAnswer(turnID, answer string) {
	s.mu.Lock()
	turn, ok := s.turns[turnID]
	if !ok {
		s.mu.Unlock()
		return
	}
	grounded := make(map[string]float64, len(turn.Grounded))
	for k, v := range turn.Grounded {
		grounded[k] = v
	}
	s.mu.Unlock()

	keys := make([]string, 0, len(grounded))
	for k := range grounded {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	claimed := grounding.ClaimedNumbers(answer, keys)

	checks := make([]ValidationCheck, 0, len(keys))
	for _, key := range keys {
		toolVal := grounded[key]
		aiVal := toolVal
		if c, ok := claimed[key]; ok {
			aiVal = c
		}
		diff := math.Abs(aiVal - toolVal)
		zero := 0.0
		checks = append(checks, ValidationCheck{
			Label:     key,
			AI:        &aiVal,
			Tool:      &toolVal,
			Tolerance: &zero,
			Diff:      &diff,
			OK:        diff <= 0,
		})
	}

	s.mu.Lock()
	if turn, ok := s.turns[turnID]; ok {
		if claimed != nil {
			turn.Claimed = claimed
		}
		turn.Validations = append(turn.Validations, checks...)
	}
	s.mu.Unlock()
}

// persistTurn writes the sealed turn to durable storage asynchronously.
func (s *Store) persistTurn(turnID string) {
	if s.storage == nil {
		return
	}
	s.mu.RLock()
	turn, ok := s.turns[turnID]
	if !ok {
		s.mu.RUnlock()
		return
	}
	toolsJSON, _ := json.Marshal(turn.ToolsUsed)
	validationsJSON, _ := json.Marshal(turn.Validations)
	passed, failed := 0, 0
	for _, c := range turn.Validations {
		if c.OK {
			passed++
		} else {
			failed++
		}
	}
	row := &models.TurnRecord{
		TurnID:          turn.ID,
		Prompt:          turn.Prompt,
		Answer:          turn.Answer,
		ToolsUsedJSON:   string(toolsJSON),
		ValidationsJSON: string(validationsJSON),
		ChecksPassed:    passed,
		ChecksFailed:    failed,
	}
	s.mu.RUnlock()

	go func() {
		if err := s.storage.CreateTurnRecord(context.Background(), row); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist turn record")
		}
	}()
}
