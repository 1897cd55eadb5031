package responder

import (
	"context"
	"errors"
	"fmt"
)

// FallbackResponder tries a primary responder and falls back on error.
// Once the primary has emitted a delta the fallback is off the table:
// replaying a partial stream would duplicate text at the consumer.
type FallbackResponder struct {
	primary  Responder
	fallback Responder
}

func NewFallbackResponder(primary, fallback Responder) *FallbackResponder {
	return &FallbackResponder{primary: primary, fallback: fallback}
}

func (r *FallbackResponder) StreamResponse(ctx context.Context, prompt string, onDelta DeltaHandler) (Response, error) {
	if r.primary == nil {
		if r.fallback != nil {
			return r.fallback.StreamResponse(ctx, prompt, onDelta)
		}
		return Response{}, fmt.Errorf("fallback responder misconfigured")
	}

	var emitted bool
	resp, err := r.primary.StreamResponse(ctx, prompt, func(delta string) error {
		emitted = true
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	})
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Response{}, err
	}
	if emitted || r.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := r.fallback.StreamResponse(ctx, prompt, onDelta)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary responder error: %w; fallback responder error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
