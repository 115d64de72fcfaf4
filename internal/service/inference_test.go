package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jchen/finsight/internal/analysis"
	"github.com/jchen/finsight/internal/config"
)

func chatJSON(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}, "finish_reason": "stop"},
		},
	})
	return string(b)
}

func newTestInference(t *testing.T, baseURL string, maxRetries int) *InferenceService {
	t.Helper()
	svc := NewInferenceService(&config.InferenceConfig{
		Model:      "test-model",
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: maxRetries,
	})
	svc.backoffBase = time.Millisecond
	return svc
}

func sampleRequest() *analysis.InvokeRequest {
	return &analysis.InvokeRequest{
		SystemPrompt: "You are a test agent.",
		UserPrompt:   "Analyze this.",
		Temperature:  0.2,
		MaxTokens:    100,
	}
}

func TestInvokeSuccess(t *testing.T) {
	var gotBody chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatJSON(`{"ok":true}`)))
	}))
	defer server.Close()

	svc := newTestInference(t, server.URL, 0)
	out, err := svc.Invoke(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Invoke() failed: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("Invoke() = %q", out)
	}
	if gotBody.Model != "test-model" {
		t.Errorf("request model = %q", gotBody.Model)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" || gotBody.Messages[1].Role != "user" {
		t.Errorf("unexpected messages: %+v", gotBody.Messages)
	}
	if gotBody.Temperature != 0.2 || gotBody.MaxTokens != 100 {
		t.Errorf("sampling parameters not carried: %+v", gotBody)
	}
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatJSON("recovered")))
	}))
	defer server.Close()

	svc := newTestInference(t, server.URL, 3)
	out, err := svc.Invoke(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Invoke() failed: %v", err)
	}
	if out != "recovered" {
		t.Errorf("Invoke() = %q", out)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestInvokeExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	svc := newTestInference(t, server.URL, 2)
	_, err := svc.Invoke(context.Background(), sampleRequest())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !analysis.IsTransient(err) {
		t.Errorf("exhausted retries must surface a transient error, got %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", n)
	}
}

func TestInvokeClientErrorFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"context length exceeded","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	svc := newTestInference(t, server.URL, 3)
	_, err := svc.Invoke(context.Background(), sampleRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if analysis.IsTransient(err) {
		t.Error("4xx rejections must not be transient")
	}
	if !strings.Contains(err.Error(), "context length exceeded") {
		t.Errorf("error must carry the API detail, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (no retries on 4xx)", n)
	}
}

func TestInvokeUnreachableEndpoint(t *testing.T) {
	svc := newTestInference(t, "http://127.0.0.1:1", 1)
	_, err := svc.Invoke(context.Background(), sampleRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if !analysis.IsTransient(err) {
		t.Errorf("transport failure must be transient, got %v", err)
	}
}

func TestInvokeEmptyChoicesRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	svc := newTestInference(t, server.URL, 1)
	_, err := svc.Invoke(context.Background(), sampleRequest())
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestInvokeHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := newTestInference(t, server.URL, 5)
	svc.backoffBase = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := svc.Invoke(ctx, sampleRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation must interrupt backoff, took %s", elapsed)
	}
}
