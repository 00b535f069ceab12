// Package metrics is the process-wide tool-call event log, per-tool
// aggregation, anomaly detection, and conversation-turn bookkeeping. One Store
// is constructed at startup and injected into the assistant and the HTTP
// surface; there is no package-level singleton.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shoplytics/insight-agent/pkg/grounding"
	"github.com/shoplytics/insight-agent/pkg/models"
	"github.com/shoplytics/insight-agent/pkg/storage"
)

const (
	maxEventsKept = 500
	recentEventsN = 25
	// rate spike: current minute above this floor and 3x baseline
	spikeFloor      = 5
	spikeMultiplier = 3.0
	baselineMinutes = 60
)

type rateWindow struct {
	minuteStart  time.Time
	current      int
	history      []int // completed minutes, oldest first, capped
	spikeFlagged bool
}

func (w *rateWindow) baseline() float64 {
	if len(w.history) == 0 {
		return 0
	}
	sum := 0
	for _, n := range w.history {
		sum += n
	}
	return float64(sum) / float64(len(w.history))
}

type Store struct {
	logger  zerolog.Logger
	storage storage.Storage // optional durable audit log
	now     func() time.Time

	mu        sync.RWMutex
	events    []ToolEvent
	byTool    map[string]*ToolStats
	rates     map[string]*rateWindow
	hourly    map[time.Time]int // per-minute counts for the trailing hour
	anomalies []Anomaly
	turns     map[string]*Turn
	turnOrder []string
}

type Option func(*Store)

// WithStorage enables asynchronous persistence of tool events and sealed
// turns into the given audit store.
func WithStorage(st storage.Storage) Option {
	return func(s *Store) {
		s.storage = st
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		logger: logger.With().Str("component", "metrics").Logger(),
		now:    time.Now,
		byTool: make(map[string]*ToolStats),
		rates:  make(map[string]*rateWindow),
		hourly: make(map[time.Time]int),
		turns:  make(map[string]*Turn),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithToolLogging runs fn and records exactly one ToolEvent whether it
// succeeds or fails. The error, if any, is returned unmodified after logging.
func (s *Store) WithToolLogging(ctx context.Context, toolName string, args map[string]any, fn func(context.Context) (any, error)) (any, error) {
	start := s.now()
	result, err := fn(ctx)
	duration := s.now().Sub(start)

	event := ToolEvent{
		ID:         uuid.NewString(),
		Timestamp:  start,
		TurnID:     turnIDFrom(ctx),
		Tool:       toolName,
		Args:       args,
		Success:    err == nil,
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		event.Error = err.Error()
	} else {
		event.Result = result
	}

	s.recordEvent(event)

	if err == nil {
		s.checkNegativeInventory(toolName, result)
	}
	return result, err
}

func (s *Store) recordEvent(event ToolEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	if len(s.events) > maxEventsKept {
		s.events = s.events[len(s.events)-maxEventsKept:]
	}

	stats, ok := s.byTool[event.Tool]
	if !ok {
		stats = &ToolStats{}
		s.byTool[event.Tool] = stats
	}
	stats.Total++
	if !event.Success {
		stats.Errors++
	}
	// incremental mean, O(1) per event
	stats.AvgMs += (float64(event.DurationMs) - stats.AvgMs) / float64(stats.Total)

	// hourly counter lives outside the event ring so it survives the cap
	s.hourly[event.Timestamp.Truncate(time.Minute)]++
	for m := range s.hourly {
		if s.now().Sub(m) > time.Hour+time.Minute {
			delete(s.hourly, m)
		}
	}

	spike := s.bumpRateLocked(event.Tool)
	s.mu.Unlock()

	if spike != nil {
		s.appendAnomaly(*spike)
	}
	s.persistEvent(event)
}

// bumpRateLocked advances the per-tool minute window and increments the
// current bucket. Returns a spike anomaly to record, if one fired.
func (s *Store) bumpRateLocked(tool string) *Anomaly {
	now := s.now()
	minute := now.Truncate(time.Minute)

	w, ok := s.rates[tool]
	if !ok {
		w = &rateWindow{minuteStart: minute}
		s.rates[tool] = w
	}
	if minute.After(w.minuteStart) {
		w.history = append(w.history, w.current)
		// zero-fill minutes with no traffic so the baseline stays honest
		skipped := int(minute.Sub(w.minuteStart)/time.Minute) - 1
		for i := 0; i < skipped && len(w.history) < baselineMinutes; i++ {
			w.history = append(w.history, 0)
		}
		if len(w.history) > baselineMinutes {
			w.history = w.history[len(w.history)-baselineMinutes:]
		}
		w.minuteStart = minute
		w.current = 0
		w.spikeFlagged = false
	}
	w.current++

	baseline := w.baseline()
	if !w.spikeFlagged && baseline > 0 && w.current > spikeFloor && float64(w.current) > spikeMultiplier*baseline {
		w.spikeFlagged = true
		return &Anomaly{
			ID:        uuid.NewString(),
			Timestamp: now,
			Type:      AnomalyRateSpike,
			Message:   fmt.Sprintf("tool %q called %d times this minute (baseline %.2f/min)", tool, w.current, baseline),
			Details: map[string]any{
				"tool":          tool,
				"currentMinute": w.current,
				"baseline":      baseline,
			},
		}
	}
	return nil
}

func (s *Store) checkNegativeInventory(toolName string, result any) {
	negatives := grounding.NegativeInventoryFields(result)
	if len(negatives) == 0 {
		return
	}
	details := map[string]any{"tool": toolName}
	for path, v := range negatives {
		details[path] = v
	}
	s.appendAnomaly(Anomaly{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		Type:      AnomalyNegativeInventory,
		Message:   fmt.Sprintf("tool %q returned negative inventory quantities", toolName),
		Details:   details,
	})
}

func (s *Store) appendAnomaly(a Anomaly) {
	s.mu.Lock()
	s.anomalies = append(s.anomalies, a)
	s.mu.Unlock()
	s.logger.Warn().Str("type", a.Type).Msg(a.Message)
}

// persistEvent writes the event to durable storage asynchronously. Using a
// background context intentionally - the audit row should land even if the
// request was cancelled.
func (s *Store) persistEvent(event ToolEvent) {
	if s.storage == nil {
		return
	}
	argsJSON, _ := json.Marshal(event.Args)
	row := &models.ToolEvent{
		CreatedAt:    event.Timestamp,
		EventID:      event.ID,
		TurnID:       event.TurnID,
		ToolName:     event.Tool,
		ArgsJSON:     string(argsJSON),
		ErrorMessage: event.Error,
		DurationMs:   event.DurationMs,
		Success:      event.Success,
	}
	if event.Result != nil {
		resultJSON, _ := json.Marshal(event.Result)
		row.ResultJSON = string(resultJSON)
	}
	go func() { //nolint:contextcheck
		if err := s.storage.CreateToolEvent(context.Background(), row); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist tool event")
		}
	}()
}
