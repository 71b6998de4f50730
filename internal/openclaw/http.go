package openclaw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const streamDoneMarker = "[DONE]"

// HTTPAdapter forwards requests to an OpenClaw-compatible HTTP endpoint. The
// reply may be plain JSON, text, SSE or NDJSON.
type HTTPAdapter struct {
	url    string
	client *http.Client
	// strict rejects stream lines that are not valid JSON.
	strict bool
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return NewHTTPAdapterWithOptions(url, false)
}

func NewHTTPAdapterWithOptions(url string, strict bool) *HTTPAdapter {
	return &HTTPAdapter{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 60 * time.Second},
		strict: strict,
	}
}

func (a *HTTPAdapter) StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return MessageResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return MessageResponse{}, fmt.Errorf("openclaw http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"):
		return a.consumeSSE(res.Body, onDelta)
	case strings.Contains(ct, "application/x-ndjson"):
		return a.consumeNDJSON(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("read response: %w", err)
	}
	text := strings.TrimSpace(string(body))
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		text = extractText(obj)
	}
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return MessageResponse{}, err
		}
	}
	return MessageResponse{Text: text}, nil
}

// consumeSSE reads "data:" events; comments, other fields and blank
// separators are skipped.
func (a *HTTPAdapter) consumeSSE(body io.Reader, onDelta DeltaHandler) (MessageResponse, error) {
	return a.consumeLines(body, onDelta, func(line string) (string, bool) {
		if !strings.HasPrefix(line, "data:") {
			return "", false
		}
		return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
	})
}

// consumeNDJSON reads one JSON object per line. Outside strict mode a raw
// text line is taken as a delta verbatim.
func (a *HTTPAdapter) consumeNDJSON(body io.Reader, onDelta DeltaHandler) (MessageResponse, error) {
	return a.consumeLines(body, onDelta, func(line string) (string, bool) {
		return line, strings.TrimSpace(line) != ""
	})
}

func (a *HTTPAdapter) consumeLines(body io.Reader, onDelta DeltaHandler, payloadOf func(line string) (string, bool)) (MessageResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		payload, ok := payloadOf(scanner.Text())
		if !ok {
			continue
		}
		if strings.TrimSpace(payload) == streamDoneMarker {
			break
		}
		delta, err := a.decodeDelta(payload)
		if err != nil {
			return MessageResponse{}, err
		}
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return MessageResponse{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return MessageResponse{}, fmt.Errorf("stream read: %w", err)
	}
	return MessageResponse{Text: out.String()}, nil
}

func (a *HTTPAdapter) decodeDelta(payload string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &obj); err != nil {
		if a.strict {
			return "", fmt.Errorf("invalid stream payload: %w", err)
		}
		return payload, nil
	}
	return extractText(obj), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}
