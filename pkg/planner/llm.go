package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	requestTimeout = 60 * time.Second
)

// LLMGenerator produces plans from an OpenAI-compatible chat completions
// endpoint. The model is instructed to reply with exactly one JSON object in
// one of the two plan shapes; anything that fails to parse into either shape
// is a generator failure, never a silent default.
type LLMGenerator struct {
	model   string
	apiKey  string
	baseURL string
	client  *resty.Client
	logger  zerolog.Logger
}

func NewLLMGenerator(model, apiKey, baseURL string, logger zerolog.Logger) *LLMGenerator {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := resty.New()
	client.SetTimeout(requestTimeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)

	return &LLMGenerator{
		model:   model,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With().Str("component", "planner").Logger(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (g *LLMGenerator) Plan(ctx context.Context, req *Request) (*Plan, error) {
	messages, err := g.buildMessages(req)
	if err != nil {
		return nil, err
	}

	body := chatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: 0.2,
		MaxTokens:   1024,
	}

	var parsed chatResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(g.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&parsed).
		Post(g.baseURL + "/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("plan generator request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("plan generator returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("plan generator API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("plan generator returned no choices")
	}

	return ParsePlan(parsed.Choices[0].Message.Content)
}

func (g *LLMGenerator) buildMessages(req *Request) ([]chatMessage, error) {
	catalog, err := json.Marshal(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize tool catalog: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("You are an order-analytics assistant that answers by calling tools.\n")
	sb.WriteString("Available tools (JSON catalog):\n")
	sb.Write(catalog)
	sb.WriteString("\n\nOn each step reply with exactly one JSON object and nothing else, in one of two shapes:\n")
	sb.WriteString(`{"action":"call_tool","tool_name":"<name>","tool_args":{...}}` + "\n")
	sb.WriteString(`{"action":"final_answer","answer":"<answer text>"}` + "\n")
	sb.WriteString("Use call_tool until you have the data you need, then final_answer. ")
	sb.WriteString("State every number in the final answer exactly as returned by the tools.")
	if req.WantsChart {
		chartType := req.ChartType
		if chartType == "" {
			chartType = "bar"
		}
		sb.WriteString(fmt.Sprintf("\nThe user wants a %s chart. In the final answer, list the series as \"label: value\" pairs so a chart can be built from it.", chartType))
	}

	messages := []chatMessage{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: req.Prompt},
	}
	for _, entry := range req.History {
		argsJSON, _ := json.Marshal(entry.Args)
		messages = append(messages, chatMessage{
			Role:    "assistant",
			Content: fmt.Sprintf("I called tool %s with arguments %s", entry.Tool, argsJSON),
		})
		if entry.Error != "" {
			messages = append(messages, chatMessage{
				Role:    "user",
				Content: fmt.Sprintf("Tool %s failed: %s", entry.Tool, entry.Error),
			})
			continue
		}
		resultJSON, _ := json.Marshal(entry.Result)
		messages = append(messages, chatMessage{
			Role:    "user",
			Content: fmt.Sprintf("Tool %s returned: %s", entry.Tool, resultJSON),
		})
	}
	return messages, nil
}

// ParsePlan extracts the plan JSON object from a model reply. Replies wrapped
// in markdown fences or surrounding prose are trimmed to the outermost braces
// first.
func ParsePlan(reply string) (*Plan, error) {
	reply = strings.TrimSpace(reply)
	if idx := strings.Index(reply, "{"); idx >= 0 {
		if end := strings.LastIndex(reply, "}"); end > idx {
			reply = reply[idx : end+1]
		}
	}

	var plan Plan
	if err := json.Unmarshal([]byte(reply), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("model reply is not a valid plan: %w", err)
	}
	return &plan, nil
}
