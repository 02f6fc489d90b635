package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedProvider spaces out requests to a Provider. Repair requests
// arrive in bursts when a chat response holds several broken diagrams,
// so the bucket allows a burst of rpm and then one request per
// minute/rpm.
type RateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewRateLimitedProvider wraps provider. rpm <= 0 returns provider as is.
func NewRateLimitedProvider(provider Provider, rpm int) Provider {
	if rpm <= 0 {
		return provider
	}
	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
	}
}

func (r *RateLimitedProvider) Name() string { return r.provider.Name() }

// Complete waits for a token, or for ctx to end.
func (r *RateLimitedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: waiting for rate limit: %w", r.provider.Name(), err)
	}
	return r.provider.Complete(ctx, req)
}
