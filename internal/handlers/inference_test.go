package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"modelcache-gateway/internal/analytics"
	"modelcache-gateway/internal/cache"
	"modelcache-gateway/internal/gateway"
	"modelcache-gateway/internal/inference"
)

type mockGateway struct {
	resp      *inference.ModelInferenceResponse
	err       error
	calls     int
	lastParam gateway.InferParams
}

func (m *mockGateway) Infer(_ context.Context, p gateway.InferParams) (*inference.ModelInferenceResponse, error) {
	m.calls++
	m.lastParam = p
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

type mockProvider struct{ calls int }

func (m *mockProvider) Model() string { return "gpt-4o" }

func (m *mockProvider) Infer(_ context.Context, _ *inference.ModelInferenceRequest) (*inference.ProviderResponse, error) {
	m.calls++
	return &inference.ProviderResponse{
		Output:      []inference.ContentBlock{inference.Text("hello!")},
		RawRequest:  "{}",
		RawResponse: "{}",
	}, nil
}

const validBody = `{
	"model_name": "gpt-4o",
	"provider_name": "openai",
	"request": {
		"messages": [{"role": "user", "content": [{"type": "text", "text": "hi"}]}],
		"json_mode": "off",
		"function_type": "chat"
	}%s
}`

func post(h *InferenceHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/inference", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.Inference(rr, req)
	return rr
}

func TestInferenceHandlerDefaults(t *testing.T) {
	g := &mockGateway{resp: &inference.ModelInferenceResponse{ModelName: "gpt-4o"}}
	h := NewInferenceHandler(g)

	rr := post(h, fmt.Sprintf(validBody, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if g.calls != 1 {
		t.Fatalf("expected one gateway call, got %d", g.calls)
	}
	if g.lastParam.CacheOptions != cache.DefaultOptions() {
		t.Fatalf("expected default cache options, got %#v", g.lastParam.CacheOptions)
	}
	if g.lastParam.ModelName != "gpt-4o" || g.lastParam.ProviderName != "openai" {
		t.Fatalf("unexpected routing: %#v", g.lastParam)
	}
}

func TestInferenceHandlerCacheOptions(t *testing.T) {
	g := &mockGateway{resp: &inference.ModelInferenceResponse{}}
	h := NewInferenceHandler(g)

	rr := post(h, fmt.Sprintf(validBody, `, "cache_options": {"read": true, "max_age_s": 30}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	opts := g.lastParam.CacheOptions
	if !opts.Read || !opts.Write || opts.MaxAgeSeconds == nil || *opts.MaxAgeSeconds != 30 {
		t.Fatalf("unexpected cache options: %#v", opts)
	}
}

func TestInferenceHandlerBadRequests(t *testing.T) {
	tests := map[string]string{
		"invalid json":   `{`,
		"missing model":  `{"provider_name":"openai","request":{"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}}`,
		"missing req":    `{"model_name":"m","provider_name":"openai"}`,
		"streaming":      `{"model_name":"m","provider_name":"openai","request":{"stream":true,"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}}`,
		"no messages":    `{"model_name":"m","provider_name":"openai","request":{"messages":[]}}`,
		"negative age":   fmt.Sprintf(validBody, `, "cache_options": {"max_age_s": -5}`),
		"missing source": `{"model_name":"m","request":{"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			g := &mockGateway{}
			rr := post(NewInferenceHandler(g), body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
			if g.calls != 0 {
				t.Fatalf("gateway should not be called")
			}
		})
	}
}

func TestInferenceHandlerErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", gateway.ErrUnknownProvider), http.StatusNotFound},
		{fmt.Errorf("%w: down", gateway.ErrCacheUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: gpt-4o", gateway.ErrModelMismatch), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("upstream 500"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		rr := post(NewInferenceHandler(&mockGateway{err: tt.err}), fmt.Sprintf(validBody, ""))
		if rr.Code != tt.want {
			t.Fatalf("%v: expected status %d, got %d", tt.err, tt.want, rr.Code)
		}
		var body errorBody
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Error == "" {
			t.Fatalf("expected JSON error body, got %s", rr.Body.String())
		}
	}
}

func TestInferenceHandlerServesFromCache(t *testing.T) {
	store, err := analytics.NewSQLiteStore(analytics.SQLiteConfig{Path: filepath.Join(t.TempDir(), "h.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	provider := &mockProvider{}
	writer := cache.NewWriter(store, cache.Config{})
	g, err := gateway.New(
		map[string]gateway.Provider{"openai": provider},
		cache.NewReader(store, cache.Config{}),
		writer,
		gateway.Config{},
	)
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	h := NewInferenceHandler(g)
	body := fmt.Sprintf(validBody, `, "cache_options": {"read": true}`)

	first := post(h, body)
	if first.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", first.Code, first.Body.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := writer.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	second := post(h, body)
	var resp inference.ModelInferenceResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Cached {
		t.Fatalf("expected cached response")
	}
	if resp.Output[0].Text != "hello!" {
		t.Fatalf("unexpected output: %#v", resp.Output)
	}
	if provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", provider.calls)
	}
}
