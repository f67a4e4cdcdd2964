// internal/vision/throttle.go
package vision

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/voidwalker9k/pagepilot/api/schemas"
)

// Throttled wraps a DecisionClient with a shared rate limiter so concurrent
// agent loops draw from one API budget.
type Throttled struct {
	inner   schemas.DecisionClient
	limiter *rate.Limiter
}

var _ schemas.DecisionClient = (*Throttled)(nil)

// NewThrottled builds the decorator. A non-positive rps returns the inner
// client unchanged.
func NewThrottled(inner schemas.DecisionClient, rps float64, burst int) schemas.DecisionClient {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (t *Throttled) Analyze(ctx context.Context, req schemas.AnalyzeRequest) (*schemas.Action, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Err: err}
	}
	return t.inner.Analyze(ctx, req)
}

func (t *Throttled) TestConnection(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return &TransportError{Err: err}
	}
	return t.inner.TestConnection(ctx)
}
