package openclaw

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAdapter asks the primary backend first and the fallback only when
// the primary fails. Primary deltas are held back until the primary succeeds,
// so a caller never sees a half answer followed by a second full one.
type FallbackAdapter struct {
	primary  Adapter
	fallback Adapter
}

func NewFallbackAdapter(primary, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{primary: primary, fallback: fallback}
}

func (a *FallbackAdapter) StreamResponse(
	ctx context.Context,
	req MessageRequest,
	onDelta DeltaHandler,
) (MessageResponse, error) {
	if a.primary == nil {
		if a.fallback == nil {
			return MessageResponse{}, errors.New("fallback adapter has no backends")
		}
		return a.fallback.StreamResponse(ctx, req, onDelta)
	}

	var held []string
	resp, err := a.primary.StreamResponse(ctx, req, func(delta string) error {
		held = append(held, delta)
		return nil
	})
	if err == nil {
		if onDelta != nil {
			for _, d := range held {
				if err := onDelta(d); err != nil {
					return MessageResponse{}, err
				}
			}
		}
		return resp, nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || a.fallback == nil {
		return MessageResponse{}, err
	}

	resp, fbErr := a.fallback.StreamResponse(ctx, req, onDelta)
	if fbErr != nil {
		return MessageResponse{}, fmt.Errorf("primary: %w; fallback: %v", err, fbErr)
	}
	return resp, nil
}
