package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shoplytics/insight-agent/pkg/gateway"
)

func TestParsePlan_CallTool(t *testing.T) {
	plan, err := ParsePlan(`{"action":"call_tool","tool_name":"count_orders","tool_args":{"last":"7d"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Action != ActionCallTool {
		t.Errorf("expected call_tool, got %s", plan.Action)
	}
	if plan.ToolName != "count_orders" {
		t.Errorf("expected tool_name count_orders, got %s", plan.ToolName)
	}
	if plan.ToolArgs["last"] != "7d" {
		t.Errorf("expected tool_args.last=7d, got %v", plan.ToolArgs)
	}
}

func TestParsePlan_FinalAnswer(t *testing.T) {
	plan, err := ParsePlan(`{"action":"final_answer","answer":"42 orders."}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Action != ActionFinalAnswer {
		t.Errorf("expected final_answer, got %s", plan.Action)
	}
	if plan.Answer != "42 orders." {
		t.Errorf("unexpected answer: %q", plan.Answer)
	}
}

func TestParsePlan_MarkdownFences(t *testing.T) {
	reply := "Here is my decision:\n```json\n{\"action\":\"final_answer\",\"answer\":\"done\"}\n```\n"
	plan, err := ParsePlan(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Answer != "done" {
		t.Errorf("expected fences stripped, got %q", plan.Answer)
	}
}

func TestParsePlan_NeitherShapeIsError(t *testing.T) {
	cases := []string{
		`{"action":"think_harder"}`,
		`{"action":"final_answer"}`,
		`{"action":"call_tool"}`,
		`{"answer":"missing action"}`,
		`not json at all`,
	}
	for _, reply := range cases {
		if _, err := ParsePlan(reply); err == nil {
			t.Errorf("expected error for reply %q", reply)
		}
	}
}

func TestPlanValidate(t *testing.T) {
	good := &Plan{Action: ActionCallTool, ToolName: "count_orders"}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := &Plan{Action: "noop"}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown action")
	}
}

func newChatServer(t *testing.T, reply string, capture *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if capture != nil {
			_ = json.NewDecoder(r.Body).Decode(capture)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		})
	}))
}

func TestLLMGenerator_Plan(t *testing.T) {
	var captured chatRequest
	srv := newChatServer(t, `{"action":"call_tool","tool_name":"count_orders","tool_args":{"last":"7d"}}`, &captured)
	defer srv.Close()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	gen := NewLLMGenerator("test-model", "test-key", srv.URL, logger)

	plan, err := gen.Plan(context.Background(), &Request{
		Prompt: "count orders last 7 days",
		Tools: []gateway.ToolDescriptor{
			{Name: "count_orders", Description: "Count orders in a time range"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.ToolName != "count_orders" {
		t.Errorf("expected count_orders, got %s", plan.ToolName)
	}

	if captured.Model != "test-model" {
		t.Errorf("expected model test-model, got %s", captured.Model)
	}
	if len(captured.Messages) < 2 {
		t.Fatalf("expected system + user messages, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" {
		t.Errorf("expected first message to be system, got %s", captured.Messages[0].Role)
	}
}

func TestLLMGenerator_HistorySerialized(t *testing.T) {
	var captured chatRequest
	srv := newChatServer(t, `{"action":"final_answer","answer":"42 orders."}`, &captured)
	defer srv.Close()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	gen := NewLLMGenerator("test-model", "test-key", srv.URL, logger)

	_, err := gen.Plan(context.Background(), &Request{
		Prompt: "count orders",
		History: []HistoryEntry{
			{Tool: "count_orders", Args: map[string]any{"last": "7d"}, Result: map[string]any{"count": float64(42)}},
			{Tool: "inventory_levels", Error: "upstream timeout"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// system + user + 2 messages per history entry
	if len(captured.Messages) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(captured.Messages))
	}
	if captured.Messages[3].Role != "user" {
		t.Errorf("expected tool result delivered as user message, got %s", captured.Messages[3].Role)
	}
	if want := "upstream timeout"; !strings.Contains(captured.Messages[5].Content, want) {
		t.Errorf("expected failure surfaced to the model, got %q", captured.Messages[5].Content)
	}
}

func TestLLMGenerator_UnparsableReplyIsFailure(t *testing.T) {
	srv := newChatServer(t, "I refuse to answer in JSON.", nil)
	defer srv.Close()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	gen := NewLLMGenerator("test-model", "test-key", srv.URL, logger)

	_, err := gen.Plan(context.Background(), &Request{Prompt: "count orders"})
	if err == nil {
		t.Fatal("expected an error for an unparsable reply")
	}
}

func TestLLMGenerator_APIErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit exceeded", "type": "rate_limit"},
		})
	}))
	defer srv.Close()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	gen := NewLLMGenerator("test-model", "test-key", srv.URL, logger)

	_, err := gen.Plan(context.Background(), &Request{Prompt: "count orders"})
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
