package metrics

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func TestWithToolLogging_Success(t *testing.T) {
	store := NewStore(testLogger())
	ctx := context.Background()

	result, err := store.WithToolLogging(ctx, "count_orders", map[string]any{"last": "7d"}, func(context.Context) (any, error) {
		return map[string]any{"count": float64(42)}, nil
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if result == nil {
		t.Fatal("expected result to pass through")
	}

	summary := store.GetSummary()
	if summary.Totals.Events != 1 {
		t.Fatalf("expected exactly 1 event, got %d", summary.Totals.Events)
	}
	if summary.Totals.Errors != 0 {
		t.Errorf("expected 0 errors, got %d", summary.Totals.Errors)
	}
	if len(summary.RecentEvents) != 1 {
		t.Fatalf("expected 1 recent event, got %d", len(summary.RecentEvents))
	}
	if !summary.RecentEvents[0].Success {
		t.Error("expected Success to be true")
	}
	if summary.RecentEvents[0].Tool != "count_orders" {
		t.Errorf("expected tool 'count_orders', got '%s'", summary.RecentEvents[0].Tool)
	}
}

func TestWithToolLogging_Error(t *testing.T) {
	store := NewStore(testLogger())
	ctx := context.Background()

	wantErr := errors.New("connection refused")
	_, err := store.WithToolLogging(ctx, "count_orders", nil, func(context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped call's error to be rethrown, got: %v", err)
	}

	summary := store.GetSummary()
	if summary.Totals.Events != 1 {
		t.Fatalf("expected exactly 1 event for a failed call, got %d", summary.Totals.Events)
	}
	if summary.Totals.Errors != 1 {
		t.Errorf("expected 1 error, got %d", summary.Totals.Errors)
	}
	if summary.RecentEvents[0].Success {
		t.Error("expected Success to be false")
	}
	if summary.RecentEvents[0].Error != "connection refused" {
		t.Errorf("expected error message recorded, got '%s'", summary.RecentEvents[0].Error)
	}
}

func TestIncrementalMeanMatchesBatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore(testLogger(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	durations := []time.Duration{
		10 * time.Millisecond,
		25 * time.Millisecond,
		40 * time.Millisecond,
		5 * time.Millisecond,
		120 * time.Millisecond,
	}

	var sum int64
	for _, d := range durations {
		d := d
		_, _ = store.WithToolLogging(ctx, "count_orders", nil, func(context.Context) (any, error) {
			now = now.Add(d)
			return map[string]any{}, nil
		})
		sum += d.Milliseconds()
	}

	batchMean := float64(sum) / float64(len(durations))
	stats := store.GetSummary().ByTool["count_orders"]
	if stats.Total != len(durations) {
		t.Fatalf("expected %d events, got %d", len(durations), stats.Total)
	}
	if diff := stats.AvgMs - batchMean; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("incremental mean %v does not match batch mean %v", stats.AvgMs, batchMean)
	}
}

func TestNegativeInventoryAnomaly(t *testing.T) {
	store := NewStore(testLogger())
	ctx := context.Background()

	_, err := store.WithToolLogging(ctx, "inventory_levels", nil, func(context.Context) (any, error) {
		return map[string]any{"available_quantity": float64(-3)}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary := store.GetSummary()
	if len(summary.Anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(summary.Anomalies))
	}
	anomaly := summary.Anomalies[0]
	if anomaly.Type != AnomalyNegativeInventory {
		t.Errorf("expected type %q, got %q", AnomalyNegativeInventory, anomaly.Type)
	}
	if anomaly.ID == "" {
		t.Error("expected anomaly to carry an id")
	}
	if anomaly.Details["available_quantity"] != float64(-3) {
		t.Errorf("expected offending field path with value -3, got %v", anomaly.Details)
	}
}

func TestNoAnomalyOnFailedCall(t *testing.T) {
	store := NewStore(testLogger())
	ctx := context.Background()

	_, _ = store.WithToolLogging(ctx, "inventory_levels", nil, func(context.Context) (any, error) {
		return map[string]any{"available_quantity": float64(-3)}, errors.New("partial result")
	})

	if got := len(store.GetSummary().Anomalies); got != 0 {
		t.Errorf("failed calls must not feed anomaly checks, got %d anomalies", got)
	}
}

func TestRateSpikeAnomaly(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore(testLogger(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	call := func() {
		_, _ = store.WithToolLogging(ctx, "count_orders", nil, func(context.Context) (any, error) {
			return map[string]any{}, nil
		})
	}

	// two quiet minutes establish a baseline of one call per minute
	call()
	now = now.Add(time.Minute)
	call()
	now = now.Add(time.Minute)

	// burst well past the floor and 3x baseline
	for i := 0; i < 10; i++ {
		call()
	}

	summary := store.GetSummary()
	var spike *Anomaly
	for i := range summary.Anomalies {
		if summary.Anomalies[i].Type == AnomalyRateSpike {
			spike = &summary.Anomalies[i]
		}
	}
	if spike == nil {
		t.Fatal("expected a rate-spike anomaly")
	}
	if spike.Details["tool"] != "count_orders" {
		t.Errorf("expected spike details to name the tool, got %v", spike.Details)
	}

	// only one spike anomaly per minute per tool
	count := 0
	for _, a := range summary.Anomalies {
		if a.Type == AnomalyRateSpike {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly 1 spike anomaly, got %d", count)
	}

	if summary.Rates["count_orders"].CurrentMinute != 10 {
		t.Errorf("expected currentMinute=10, got %d", summary.Rates["count_orders"].CurrentMinute)
	}
	if summary.Rates["count_orders"].Baseline != 1 {
		t.Errorf("expected baseline=1, got %v", summary.Rates["count_orders"].Baseline)
	}
}

func TestRecentEventsCapped(t *testing.T) {
	store := NewStore(testLogger())
	ctx := context.Background()

	for i := 0; i < recentEventsN+10; i++ {
		_, _ = store.WithToolLogging(ctx, "count_orders", nil, func(context.Context) (any, error) {
			return map[string]any{}, nil
		})
	}

	summary := store.GetSummary()
	if len(summary.RecentEvents) != recentEventsN {
		t.Errorf("expected recent events capped at %d, got %d", recentEventsN, len(summary.RecentEvents))
	}
	if summary.Totals.Events != recentEventsN+10 {
		t.Errorf("expected totals to keep counting, got %d", summary.Totals.Events)
	}
}

func TestLastHourSurvivesEventRingCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore(testLogger(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	n := maxEventsKept + 100
	for i := 0; i < n; i++ {
		_, _ = store.WithToolLogging(ctx, "count_orders", nil, func(context.Context) (any, error) {
			return map[string]any{}, nil
		})
	}

	summary := store.GetSummary()
	if summary.Totals.LastHour != n {
		t.Errorf("expected lastHour=%d regardless of the event ring cap, got %d", n, summary.Totals.LastHour)
	}

	// events older than an hour fall out of the window
	now = now.Add(2 * time.Hour)
	_, _ = store.WithToolLogging(ctx, "count_orders", nil, func(context.Context) (any, error) {
		return map[string]any{}, nil
	})
	if got := store.GetSummary().Totals.LastHour; got != 1 {
		t.Errorf("expected lastHour=1 after the window moved on, got %d", got)
	}
}

func TestSummaryReadableDuringInFlightCall(t *testing.T) {
	store := NewStore(testLogger())
	ctx := context.Background()

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = store.WithToolLogging(ctx, "count_orders", nil, func(context.Context) (any, error) {
			<-release
			return map[string]any{}, nil
		})
		close(done)
	}()

	// must not block while the wrapped call is in flight
	_ = store.GetSummary()
	close(release)
	<-done

	if store.GetSummary().Totals.Events != 1 {
		t.Error("expected the in-flight event to land after completion")
	}
}
