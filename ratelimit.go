package toolstream

import (
	"context"

	"golang.org/x/time/rate"
)

type limitedModel struct {
	next    Model
	limiter *rate.Limiter
}

// RateLimit returns a ModelMiddleware that waits for limiter before every model round.
// A nil limiter disables limiting.
func RateLimit(limiter *rate.Limiter) ModelMiddleware {
	return func(next Model) Model {
		if next == nil || limiter == nil {
			return next
		}
		return &limitedModel{next: next, limiter: limiter}
	}
}

func (m *limitedModel) Stream(ctx context.Context, req ModelRequest) (ModelStream, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return m.next.Stream(ctx, req)
}

// ChainModel applies middlewares to m; the first middleware is outermost.
func ChainModel(m Model, middlewares ...ModelMiddleware) Model {
	for i := len(middlewares) - 1; i >= 0; i-- {
		m = middlewares[i](m)
	}
	return m
}
