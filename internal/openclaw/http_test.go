package openclaw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPAdapterConsumeSSE(t *testing.T) {
	a := NewHTTPAdapterWithOptions("http://example.test", false)
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		"data: {\"delta\":\"Hel\"}",
		"",
		"data: {\"delta\":\"lo\"}",
		"",
		"data: [DONE]",
		"",
	}, "\n"))

	var deltas []string
	resp, err := a.consumeSSE(stream, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("consumeSSE() error = %v", err)
	}
	if resp.Text != "Hello" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "Hello")
	}
	if strings.Join(deltas, "") != "Hello" {
		t.Fatalf("deltas = %q, want %q", strings.Join(deltas, ""), "Hello")
	}
}

func TestHTTPAdapterConsumeSSEStrictInvalidJSON(t *testing.T) {
	a := NewHTTPAdapterWithOptions("http://example.test", true)
	stream := strings.NewReader("data: {not-json}\n\n")
	_, err := a.consumeSSE(stream, nil)
	if err == nil {
		t.Fatalf("consumeSSE() expected error for invalid strict payload")
	}
}

func TestHTTPAdapterConsumeNDJSON(t *testing.T) {
	a := NewHTTPAdapterWithOptions("http://example.test", false)
	stream := strings.NewReader(strings.Join([]string{
		"{\"delta\":\"Hi\"}",
		" there",
		"[DONE]",
	}, "\n"))

	resp, err := a.consumeNDJSON(stream, nil)
	if err != nil {
		t.Fatalf("consumeNDJSON() error = %v", err)
	}
	if resp.Text != "Hi there" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "Hi there")
	}
}

func TestHTTPAdapterConsumeNDJSONStrictInvalidJSON(t *testing.T) {
	a := NewHTTPAdapterWithOptions("http://example.test", true)
	stream := strings.NewReader("not-json\n")
	_, err := a.consumeNDJSON(stream, nil)
	if err == nil {
		t.Fatalf("consumeNDJSON() expected error for strict invalid payload")
	}
}

func TestHTTPAdapterStreamResponsePlainJSON(t *testing.T) {
	var got MessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"Your sister lives in Oslo."}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	resp, err := a.StreamResponse(context.Background(), MessageRequest{UserID: "u1", InputText: "where does my sister live", MemoryContext: []string{"Sister lives in Oslo"}}, nil)
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.Text != "Your sister lives in Oslo." {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
	if got.UserID != "u1" || len(got.MemoryContext) != 1 {
		t.Fatalf("server saw %+v", got)
	}
}

func TestHTTPAdapterStreamResponseStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPAdapter(srv.URL).StreamResponse(context.Background(), MessageRequest{InputText: "x"}, nil)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("StreamResponse() error = %v, want status 503", err)
	}
}
