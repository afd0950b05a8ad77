package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/behzadon/rulebook/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const chatCompletionsPath = "/chat/completions"

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	Temperature float64
	// MaxTokens caps the completion; zero leaves it to the provider.
	MaxTokens int
}

// OpenAIClient asks an OpenAI-compatible chat completions endpoint to pick
// one of the rule tools.
type OpenAIClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	backoff    time.Duration
}

var _ Oracle = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg Config, logger *zap.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing oracle api key")
	}
	if cfg.Model == "" {
		return nil, errors.New("missing oracle model")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(zap.String("component", "oracle")),
		backoff:    500 * time.Millisecond,
	}, nil
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("oracle http %d: %s", e.StatusCode, e.Body)
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []tool        `json:"tools"`
	ToolChoice  string        `json:"tool_choice"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) Decide(ctx context.Context, req Request) ([]Directive, error) {
	ctx, span := otel.Tracer("rulebook/oracle").Start(ctx, "oracle.Decide")
	defer span.End()
	span.SetAttributes(attribute.String("oracle.model", c.cfg.Model))

	start := time.Now()
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
		Tools:       ruleTools,
		ToolChoice:  "auto",
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	var resp chatResponse
	if err := c.do(ctx, http.MethodPost, chatCompletionsPath, body, &resp); err != nil {
		metrics.ObserveOracle("error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("decide rule action: %w", err)
	}
	metrics.ObserveOracle("ok", time.Since(start))

	if len(resp.Choices) == 0 {
		return nil, nil
	}

	calls := resp.Choices[0].Message.ToolCalls
	directives := make([]Directive, 0, len(calls))
	for _, call := range calls {
		args, err := parseArguments(call.Function.Arguments)
		if err != nil {
			c.logger.Warn("Malformed tool arguments",
				zap.String("tool", call.Function.Name),
				zap.Error(err),
			)
		}
		directives = append(directives, Directive{Name: call.Function.Name, Arguments: args})
	}

	span.SetAttributes(attribute.Int("oracle.directives", len(directives)))
	c.logger.Debug("Oracle directives", zap.Any("directives", directives))
	return directives, nil
}

func (c *OpenAIClient) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *OpenAIClient) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := c.backoff

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("decode oracle response: %w", uErr)
			}
			return nil
		}

		if !isRetryable(err) || attempt == c.cfg.MaxRetries {
			return err
		}

		c.logger.Warn("Oracle request retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Duration("sleep", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return errors.New("unreachable retry loop")
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// parseArguments accepts rule_number as an integral JSON number or a digit
// string. Anything else leaves the field unset.
func parseArguments(raw string) (Arguments, error) {
	var args Arguments
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}

	var fields map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return args, fmt.Errorf("decode arguments: %w", err)
	}

	if v, ok := fields["rule_number"]; ok {
		args.RuleNumber = parseRuleNumber(v)
	}
	if v, ok := fields["content"]; ok {
		var content string
		if err := json.Unmarshal(v, &content); err == nil {
			args.Content = &content
		}
	}
	return args, nil
}

func parseRuleNumber(raw json.RawMessage) *int {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return integral(string(n))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return integral(strings.TrimSpace(s))
	}
	return nil
}

func integral(s string) *int {
	if i, err := strconv.Atoi(s); err == nil {
		return &i
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil
	}
	i := int(f)
	return &i
}
