package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newChatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClientComplete(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest

	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "  the answer  "}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7},
		})
	})

	var usage Usage
	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "gpt-4o",
		OnUsage: func(model string, u Usage) { usage = u },
	})

	got, err := client.Complete(context.Background(), "what is elegance?")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "the answer" {
		t.Fatalf("got %q, want trimmed answer", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o" || len(gotReq.Messages) != 2 {
		t.Fatalf("request = %+v", gotReq)
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Content != "what is elegance?" {
		t.Fatalf("messages = %+v", gotReq.Messages)
	}
	if usage.InputTokens != 12 || usage.OutputTokens != 7 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestOpenAIClientRetriesOnRateLimit(t *testing.T) {
	var calls int32
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	})

	client := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, Model: "llama3"})
	got, err := client.Complete(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q", got)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestOpenAIClientSurfacesAPIError(t *testing.T) {
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "model overloaded"},
		})
	})

	client := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, Model: "gpt-4o"})
	_, err := client.Complete(context.Background(), "ping")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAIClientFailsFastOnBadStatus(t *testing.T) {
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	client := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, Model: "gpt-4o"})
	_, err := client.Complete(context.Background(), "ping")
	if err == nil {
		t.Fatal("expected error for 401")
	}
}
