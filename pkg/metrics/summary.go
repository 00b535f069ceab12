package metrics

import "time"

// Field names below are a published contract; external dashboards consume the
// summary document verbatim.

type Totals struct {
	Events   int `json:"events"`
	Errors   int `json:"errors"`
	LastHour int `json:"lastHour"`
}

type RateInfo struct {
	CurrentMinute int     `json:"currentMinute"`
	Baseline      float64 `json:"baseline"`
}

type TurnSummary struct {
	ID          string            `json:"id"`
	StartedAt   time.Time         `json:"startedAt"`
	Prompt      string            `json:"prompt"`
	ToolsUsed   []string          `json:"toolsUsed"`
	Answer      string            `json:"answer,omitempty"`
	Validations []ValidationCheck `json:"validations"`
}

type AssistantSummary struct {
	Turns        []TurnSummary `json:"turns"`
	ChecksTotal  int           `json:"checksTotal"`
	ChecksPassed int           `json:"checksPassed"`
	ChecksFailed int           `json:"checksFailed"`
}

type Summary struct {
	Totals       Totals               `json:"totals"`
	ByTool       map[string]ToolStats `json:"byTool"`
	Rates        map[string]RateInfo  `json:"rates"`
	RecentEvents []ToolEvent          `json:"recentEvents"`
	Anomalies    []Anomaly            `json:"anomalies"`
	Assistant    AssistantSummary     `json:"assistant"`
}

// GetSummary returns an eventually-consistent snapshot of the store. Safe to
// call at any point during in-flight turns.
func (s *Store) GetSummary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	hourAgo := now.Add(-time.Hour)

	totals := Totals{Events: 0, Errors: 0}
	byTool := make(map[string]ToolStats, len(s.byTool))
	for name, stats := range s.byTool {
		byTool[name] = *stats
		totals.Events += stats.Total
		totals.Errors += stats.Errors
	}
	for minute, n := range s.hourly {
		if minute.After(hourAgo.Add(-time.Minute)) {
			totals.LastHour += n
		}
	}

	rates := make(map[string]RateInfo, len(s.rates))
	currentMinute := now.Truncate(time.Minute)
	for name, w := range s.rates {
		info := RateInfo{Baseline: w.baseline()}
		if w.minuteStart.Equal(currentMinute) {
			info.CurrentMinute = w.current
		}
		rates[name] = info
	}

	recent := s.events
	if len(recent) > recentEventsN {
		recent = recent[len(recent)-recentEventsN:]
	}
	recentEvents := make([]ToolEvent, len(recent))
	copy(recentEvents, recent)

	anomalies := make([]Anomaly, len(s.anomalies))
	copy(anomalies, s.anomalies)

	assistant := AssistantSummary{Turns: make([]TurnSummary, 0, len(s.turnOrder))}
	for _, id := range s.turnOrder {
		turn, ok := s.turns[id]
		if !ok {
			continue
		}
		ts := TurnSummary{
			ID:          turn.ID,
			StartedAt:   turn.StartedAt,
			Prompt:      turn.Prompt,
			ToolsUsed:   append([]string{}, turn.ToolsUsed...),
			Answer:      turn.Answer,
			Validations: append([]ValidationCheck{}, turn.Validations...),
		}
		for _, c := range turn.Validations {
			assistant.ChecksTotal++
			if c.OK {
				assistant.ChecksPassed++
			} else {
				assistant.ChecksFailed++
			}
		}
		assistant.Turns = append(assistant.Turns, ts)
	}

	return Summary{
		Totals:       totals,
		ByTool:       byTool,
		Rates:        rates,
		RecentEvents: recentEvents,
		Anomalies:    anomalies,
		Assistant:    assistant,
	}
}
