package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/llmutil"
)

const noActionsReason = "planner proposed no further actions"

// LLMPlanner implements schemas.Planner on top of an LLMClient. Planning
// turns use the fast tier and summaries the powerful tier.
type LLMPlanner struct {
	client      schemas.LLMClient
	logger      *zap.Logger
	temperature float64
	maxTokens   int
}

var _ schemas.Planner = (*LLMPlanner)(nil)

// NewLLMPlanner creates a planner.
func NewLLMPlanner(client schemas.LLMClient, logger *zap.Logger, temperature float64, maxTokens int) *LLMPlanner {
	return &LLMPlanner{
		client:      client,
		logger:      logger.Named("planner"),
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Plan asks the model for the next action with a single provider attempt;
// the session owns planning retries. Transport failures are returned as is;
// output that holds no usable JSON object wraps schemas.ErrMalformedPlan.
func (p *LLMPlanner) Plan(ctx context.Context, pc schemas.PlanContext) (schemas.RawPlan, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: planSystemPrompt,
		UserPrompt:   buildPlanPrompt(pc),
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     p.temperature,
			ForceJSONFormat: true,
			MaxTokens:       p.maxTokens,
			SkipRetries:     true,
		},
	}
	response, err := p.client.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}

	plan, err := DecodePlan(response)
	if err != nil {
		p.logger.Warn("Failed to decode plan",
			zap.String("agent_id", pc.AgentID),
			zap.Int("round", pc.Round),
			zap.String("raw_response", truncate(response, 500)),
			zap.Error(err))
		return nil, err
	}
	return plan, nil
}

// Summarize asks the model for a short bullet synthesis.
func (p *LLMPlanner) Summarize(ctx context.Context, sc schemas.SummaryContext) (string, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: summarySystemPrompt,
		UserPrompt:   buildSummaryPrompt(sc),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: p.temperature},
	}
	response, err := p.client.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	summary := strings.TrimSpace(llmutil.CleanCodeOutput(response))
	if summary == "" {
		return "", fmt.Errorf("model returned an empty summary")
	}
	return summary, nil
}

// DecodePlan extracts one raw plan from model text. Both a bare action
// object and {"actions": [...]} are accepted; only the first action of a
// list is used. An empty list means the model has nothing left to do and
// decodes as stop.
func DecodePlan(response string) (schemas.RawPlan, error) {
	obj, err := llmutil.ParseJSONResponse[map[string]any](response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrMalformedPlan, err)
	}
	actions, ok := (*obj)["actions"]
	if !ok {
		return schemas.RawPlan(*obj), nil
	}
	list, ok := actions.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: \"actions\" must be a list", schemas.ErrMalformedPlan)
	}
	if len(list) == 0 {
		return schemas.RawPlan{"type": string(schemas.ActionStop), "reason": noActionsReason}, nil
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: first action is not an object", schemas.ErrMalformedPlan)
	}
	return schemas.RawPlan(first), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
