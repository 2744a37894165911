package llmclient_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/agent"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/llmclient"
	"github.com/xkilldash9x/scout-cli/internal/relevance"
	"github.com/xkilldash9x/scout-cli/internal/suppression"
)

type idleSurface struct{}

func (idleSurface) Execute(context.Context, schemas.Action) (schemas.Observation, error) {
	return schemas.Observation{Kind: schemas.ObservationExecuted, Success: true}, nil
}

func (idleSurface) Close(context.Context) error { return nil }

// A failing planning call is retried by the session alone: one attempt plus
// PlanRetries reach the provider, however many retries the client allows.
func TestPlanningRetriesAreOwnedBySession(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded"}}`)
	}))
	t.Cleanup(server.Close)

	client, err := llmclient.NewOpenAIClient(config.LLMConfig{
		Provider:   config.ProviderGroq,
		APIKey:     "test-api-key",
		Endpoint:   server.URL,
		APITimeout: 5 * time.Second,
		MaxRetries: 2,
	}, "test-model", zap.NewNop())
	require.NoError(t, err)

	planner := agent.NewLLMPlanner(client, zap.NewNop(), 0.2, 0)
	session, err := agent.NewSession(agent.SessionConfig{
		AgentID:      "agent-1",
		Goal:         "latest go release",
		StepBudget:   3,
		Policy:       suppression.DefaultPolicy(),
		Relevance:    relevance.ModeLoose,
		RoundTimeout: 5 * time.Second,
		PlanRetries:  1,
	}, planner, idleSurface{}, zap.NewNop(),
		agent.WithTokenCounter(agent.HeuristicCounter{}),
		agent.WithBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	require.NoError(t, err)

	res := session.Run(context.Background())

	assert.Equal(t, schemas.StatusAborted, res.Status)
	assert.Contains(t, res.AbortReason, "planner unavailable")
	assert.EqualValues(t, 2, calls.Load())
}
