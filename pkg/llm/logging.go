package llm

import (
	"context"
	"time"

	"conductor/pkg/logx"
)

// LoggingMiddleware logs every completion attempt with its model, duration,
// and outcome. Applied per endpoint so log lines carry the endpoint tag.
func LoggingMiddleware(logger *logx.Logger) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				elapsed := time.Since(start).Round(time.Millisecond)
				if err != nil {
					logger.Debug("%s failed after %v: %v", next.GetModelName(), elapsed, err)
					return resp, err
				}
				logger.Debug("%s answered in %v (%d prompt, %d completion tokens)",
					next.GetModelName(), elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
				return resp, nil
			},
			next.GetModelName,
		)
	}
}
