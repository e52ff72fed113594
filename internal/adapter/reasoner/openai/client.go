// Package openai implements the risk reasoner on any OpenAI-compatible
// chat-completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/univac-1/risk-analyzer/internal/adapter/reasoner/tokencount"
	"github.com/univac-1/risk-analyzer/internal/config"
	"github.com/univac-1/risk-analyzer/internal/domain"
	"github.com/univac-1/risk-analyzer/internal/observability"
)

// Client calls a chat-completions endpoint and coerces the reply into a
// risk assessment.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	model        string
	maxTokens    int
	promptBudget int
	counter      *tokencount.Counter
	taxonomy     config.RiskTaxonomy
	newBackoff   func(ctx context.Context) backoff.BackOff
}

// NewClient builds a Client from config.
func NewClient(cfg config.Config, tax config.RiskTaxonomy) *Client {
	initial, maxIv, maxElapsed, multiplier := cfg.ReasonerBackoff()
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "reasoner " + r.Method
		}))
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.ReasonerTimeout, Transport: transport},
		baseURL:      strings.TrimSuffix(cfg.ReasonerBaseURL, "/"),
		apiKey:       cfg.ReasonerAPIKey,
		model:        cfg.ReasonerModel,
		maxTokens:    cfg.ReasonerMaxTokens,
		promptBudget: cfg.ReasonerPromptBudget,
		counter:      tokencount.NewCounter(),
		taxonomy:     tax,
		newBackoff: func(ctx context.Context) backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxIv
			b.MaxElapsedTime = maxElapsed
			b.Multiplier = multiplier
			return backoff.WithContext(b, ctx)
		},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Evaluate sends one evaluation prompt. Transport failures are retried
// with exponential backoff; an unusable but delivered reply degrades to
// the empty assessment.
func (c *Client) Evaluate(ctx domain.Context, in domain.EvaluationInput) (domain.RiskAssessment, error) {
	tracer := otel.Tracer("reasoner.openai")
	ctx, span := tracer.Start(ctx, "reasoner.Evaluate")
	defer span.End()
	lg := observability.LoggerFromContext(ctx)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: buildSystemPrompt(c.taxonomy)},
			{Role: "user", Content: buildUserPrompt(in, c.counter, c.model, c.promptBudget)},
		},
		Temperature:    0.2,
		MaxTokens:      c.maxTokens,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("op=reasoner.Evaluate: marshal: %w", err)
	}

	var content string
	operation := func() error {
		reply, err := c.doRequest(ctx, body)
		if err != nil {
			return err
		}
		content = reply
		return nil
	}
	if err := backoff.Retry(operation, c.newBackoff(ctx)); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("op=reasoner.Evaluate: %w", err)
	}

	out := decodeAssessment(content)
	if len(out.Risks) == 0 && out.RiskLevel == domain.RiskNone && content != "" {
		lg.Debug("reasoner reply coerced", slog.Int("reply_bytes", len(content)))
	}
	return out, nil
}

// doRequest performs one HTTP round trip, classifying failures into the
// domain error taxonomy. Retryable failures return plain errors; the rest
// are wrapped in backoff.Permanent.
func (c *Client) doRequest(ctx domain.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: status 429", domain.ErrUpstreamRateLimit)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("upstream status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", backoff.Permanent(fmt.Errorf("upstream status %d: %s", resp.StatusCode, tailOf(string(raw), 512)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", backoff.Permanent(errors.New("no choices in response"))
	}
	return parsed.Choices[0].Message.Content, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// WithHTTPClient overrides the transport, for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

// WithBackoff overrides retry pacing, for tests.
func (c *Client) WithBackoff(f func(ctx context.Context) backoff.BackOff) *Client {
	c.newBackoff = f
	return c
}
