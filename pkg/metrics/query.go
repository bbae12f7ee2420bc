package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// AgentUsage is aggregated token usage for one agent across recorded runs.
type AgentUsage struct {
	AgentID          string `json:"agent_id"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// EndpointUsage is aggregated request volume for one endpoint.
type EndpointUsage struct {
	EndpointID string `json:"endpoint_id"`
	Requests   int64  `json:"requests"`
	Errors     int64  `json:"errors"`
	Retries    int64  `json:"retries"`
}

// QueryService aggregates recorded metrics from a Prometheus server.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service against the given Prometheus URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetAgentUsage returns token totals for one agent.
func (q *QueryService) GetAgentUsage(ctx context.Context, agentID string) (*AgentUsage, error) {
	usage := &AgentUsage{AgentID: agentID}

	prompt, err := q.sum(ctx, fmt.Sprintf(`sum(llm_tokens_total{agent_id=%q, type="prompt"})`, agentID))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	usage.PromptTokens = prompt

	completion, err := q.sum(ctx, fmt.Sprintf(`sum(llm_tokens_total{agent_id=%q, type="completion"})`, agentID))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	usage.CompletionTokens = completion

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage, nil
}

// GetEndpointUsage returns request, error, and retry totals for one endpoint.
func (q *QueryService) GetEndpointUsage(ctx context.Context, endpointID string) (*EndpointUsage, error) {
	usage := &EndpointUsage{EndpointID: endpointID}

	requests, err := q.sum(ctx, fmt.Sprintf(`sum(llm_requests_total{endpoint=%q})`, endpointID))
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	usage.Requests = requests

	errors, err := q.sum(ctx, fmt.Sprintf(`sum(llm_requests_total{endpoint=%q, status="error"})`, endpointID))
	if err != nil {
		return nil, fmt.Errorf("failed to query errors: %w", err)
	}
	usage.Errors = errors

	retries, err := q.sum(ctx, fmt.Sprintf(`sum(llm_retries_total{endpoint=%q})`, endpointID))
	if err != nil {
		return nil, fmt.Errorf("failed to query retries: %w", err)
	}
	usage.Retries = retries

	return usage, nil
}

func (q *QueryService) sum(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
