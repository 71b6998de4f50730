package openclaw

import (
	"context"
	"strings"
)

// MockAdapter answers deterministically so the router works without a
// reasoning backend.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamResponse(
	ctx context.Context,
	req MessageRequest,
	onDelta DeltaHandler,
) (MessageResponse, error) {
	if err := ctx.Err(); err != nil {
		return MessageResponse{}, err
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return MessageResponse{}, err
		}
	}
	return MessageResponse{Text: text}, nil
}

func buildMockReply(req MessageRequest) string {
	query := strings.TrimSpace(req.InputText)
	if query == "" {
		return "No question received."
	}

	var b strings.Builder
	b.WriteString("No reasoning backend is configured. You asked: ")
	b.WriteString(query)
	related := make([]string, 0, len(req.MemoryContext))
	for _, line := range req.MemoryContext {
		if line = strings.TrimSpace(line); line != "" {
			related = append(related, line)
		}
	}
	if len(related) > 0 {
		b.WriteString("\nRelated memories: ")
		b.WriteString(strings.Join(related, "; "))
	}
	return b.String()
}
