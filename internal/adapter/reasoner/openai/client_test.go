package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univac-1/risk-analyzer/internal/config"
	"github.com/univac-1/risk-analyzer/internal/domain"
)

func testClient(t *testing.T, srvURL string) *Client {
	t.Helper()
	cfg := config.Config{
		ReasonerBaseURL:      srvURL,
		ReasonerModel:        "gpt-4o-mini",
		ReasonerMaxTokens:    512,
		ReasonerPromptBudget: 3000,
	}
	c := NewClient(cfg, config.DefaultTaxonomy())
	c.WithBackoff(func(ctx context.Context) backoff.BackOff {
		return backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2), ctx)
	})
	return c
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func sampleInput() domain.EvaluationInput {
	return domain.EvaluationInput{
		Transcript: &domain.Transcript{HasAudio: true, Segments: []domain.TranscriptSegment{
			{Text: "buy now, guaranteed results", StartSec: 0, EndSec: 3},
		}},
		Metadata:    domain.VideoMetadata{Purpose: "ad", Platform: domain.PlatformTikTok, TargetAudience: "teens"},
		DurationSec: 12,
	}
}

func TestEvaluateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[0].Content, "aggressiveness")
		assert.Contains(t, req.Messages[1].Content, "guaranteed results")
		_, _ = w.Write([]byte(chatReply(`{"overall_score": 42, "risk_level": "medium", "risks": []}`)))
	}))
	defer srv.Close()

	out, err := testClient(t, srv.URL).Evaluate(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, 42.0, out.OverallScore)
	assert.Equal(t, domain.RiskMedium, out.RiskLevel)
}

func TestEvaluateRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(chatReply(`{"overall_score": 0, "risk_level": "none", "risks": []}`)))
	}))
	defer srv.Close()

	out, err := testClient(t, srv.URL).Evaluate(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, domain.RiskNone, out.RiskLevel)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEvaluateRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Evaluate(context.Background(), sampleInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamRateLimit)
}

func TestEvaluateBadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Evaluate(context.Background(), sampleInput())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestEvaluateGarbageReplyDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chatReply("sorry, I refuse")))
	}))
	defer srv.Close()

	out, err := testClient(t, srv.URL).Evaluate(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, domain.EmptyAssessment(), out)
}

func TestBuildUserPromptMarksMissingPhases(t *testing.T) {
	c := testClient(t, "http://unused")
	in := sampleInput()
	in.OCR = nil
	in.Vision = nil
	prompt := buildUserPrompt(in, c.counter, c.model, c.promptBudget)
	assert.Contains(t, prompt, "guaranteed results")
	assert.Contains(t, prompt, "(analysis unavailable for this phase)")
}
