package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"modelcache-gateway/internal/inference"
)

func ptr[T any](v T) *T { return &v }

func newTestProvider(t *testing.T, url string) *Provider {
	t.Helper()
	p, err := New(Config{
		BaseURL:     url,
		APIKey:      "test-key",
		Model:       "gpt-4o-mini",
		BaseBackoff: time.Millisecond,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func userRequest(text string) *inference.ModelInferenceRequest {
	return &inference.ModelInferenceRequest{
		Messages: []inference.RequestMessage{
			{Role: inference.RoleUser, Content: []inference.ContentBlock{inference.Text(text)}},
		},
		JSONMode:     inference.JSONModeOff,
		FunctionType: inference.FunctionTypeChat,
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected validation error, got nil")
	}
	if _, err := New(Config{BaseURL: "http://x", APIKey: "k"}, nil); err == nil {
		t.Fatalf("expected missing model error, got nil")
	}
}

func TestInferSuccess(t *testing.T) {
	t.Parallel()

	var gotReq chatRequest
	var gotAuth string
	var rawBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		gotAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		rawBody = string(body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "pong"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)

	req := userRequest("ping")
	req.System = ptr("be brief")
	req.Temperature = ptr(float32(0.3))
	req.MaxTokens = ptr(uint32(50))

	resp, err := p.Infer(context.Background(), req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected Authorization header: %s", gotAuth)
	}
	if gotReq.Stream {
		t.Fatalf("request should not set stream=true")
	}
	if gotReq.Model != "gpt-4o-mini" || gotReq.Model != p.Model() {
		t.Fatalf("unexpected model %s (provider reports %s)", gotReq.Model, p.Model())
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || *gotReq.Messages[1].Content != "ping" {
		t.Fatalf("unexpected request messages: %#v", gotReq.Messages)
	}
	if gotReq.Temperature == nil || *gotReq.Temperature != 0.3 {
		t.Fatalf("temperature not forwarded: %#v", gotReq.Temperature)
	}

	if len(resp.Output) != 1 || resp.Output[0].Text != "pong" {
		t.Fatalf("unexpected output: %#v", resp.Output)
	}
	if resp.Usage.InputTokens != 3 || resp.Usage.OutputTokens != 2 {
		t.Fatalf("usage not mapped correctly: %#v", resp.Usage)
	}
	if resp.RawRequest != rawBody {
		t.Fatalf("raw request does not match the body sent upstream")
	}
	if !strings.Contains(resp.RawResponse, "chatcmpl-1") {
		t.Fatalf("raw response not kept: %s", resp.RawResponse)
	}
}

func TestInferToolCalls(t *testing.T) {
	t.Parallel()

	var gotReq map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = io.WriteString(w, `{
			"choices": [{"index": 0, "message": {"role": "assistant", "content": null,
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}}]}}]
		}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)

	req := userRequest("weather?")
	req.ToolConfig = &inference.ToolCallConfig{
		Tools: []inference.ToolConfig{{
			Name:       "get_weather",
			Parameters: inference.JSONValue(`{"type":"object"}`),
		}},
		ToolChoice: inference.ToolChoice{Mode: inference.ToolChoiceSpecific, Name: "get_weather"},
	}

	resp, err := p.Infer(context.Background(), req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}

	tools, _ := gotReq["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools not forwarded: %#v", gotReq["tools"])
	}
	choice, _ := gotReq["tool_choice"].(map[string]any)
	if fn, _ := choice["function"].(map[string]any); fn["name"] != "get_weather" {
		t.Fatalf("unexpected tool_choice: %#v", gotReq["tool_choice"])
	}

	want := inference.ToolCall("call_1", "get_weather", `{"city":"Paris"}`)
	if len(resp.Output) != 1 || resp.Output[0] != want {
		t.Fatalf("unexpected output: %#v", resp.Output)
	}
}

func TestBuildMessagesToolHistory(t *testing.T) {
	t.Parallel()

	req := &inference.ModelInferenceRequest{
		Messages: []inference.RequestMessage{
			{Role: inference.RoleUser, Content: []inference.ContentBlock{inference.Text("weather?")}},
			{Role: inference.RoleAssistant, Content: []inference.ContentBlock{inference.ToolCall("call_1", "get_weather", `{}`)}},
			{Role: inference.RoleUser, Content: []inference.ContentBlock{inference.ToolResult("call_1", "get_weather", "sunny")}},
		},
	}

	msgs := buildMessages(req)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d: %#v", len(msgs), msgs)
	}
	if msgs[1].Role != "assistant" || len(msgs[1].ToolCalls) != 1 || msgs[1].Content != nil {
		t.Fatalf("unexpected assistant message: %#v", msgs[1])
	}
	if msgs[2].Role != "tool" || msgs[2].ToolCallID != "call_1" || *msgs[2].Content != "sunny" {
		t.Fatalf("unexpected tool message: %#v", msgs[2])
	}
}

func TestBuildRequestJSONModes(t *testing.T) {
	t.Parallel()

	p := &Provider{cfg: Config{Model: "m"}}
	schema := inference.JSONValue(`{"type":"object"}`)

	tests := []struct {
		name     string
		mode     inference.JSONMode
		schema   inference.JSONValue
		wantType string
		wantTool bool
	}{
		{name: "off", mode: inference.JSONModeOff},
		{name: "on", mode: inference.JSONModeOn, wantType: "json_object"},
		{name: "strict with schema", mode: inference.JSONModeStrict, schema: schema, wantType: "json_schema"},
		{name: "strict without schema", mode: inference.JSONModeStrict, wantType: "json_object"},
		{name: "implicit tool", mode: inference.JSONModeImplicitTool, schema: schema, wantTool: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := userRequest("x")
			req.JSONMode = tt.mode
			req.OutputSchema = tt.schema

			pReq, err := p.buildRequest(req)
			if err != nil {
				t.Fatalf("buildRequest: %v", err)
			}

			gotType := ""
			if pReq.ResponseFormat != nil {
				gotType = pReq.ResponseFormat.Type
			}
			if gotType != tt.wantType {
				t.Fatalf("response_format = %q, want %q", gotType, tt.wantType)
			}
			if tt.wantTool && (len(pReq.Tools) != 1 || pReq.Tools[0].Function.Name != implicitToolName) {
				t.Fatalf("implicit tool not set: %#v", pReq.Tools)
			}
		})
	}

	req := userRequest("x")
	req.JSONMode = inference.JSONModeImplicitTool
	if _, err := p.buildRequest(req); err == nil {
		t.Fatalf("implicit_tool without schema should fail")
	}
}

func TestInferRejectsStreaming(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("server should not be called for streaming request")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	req := userRequest("x")
	req.Stream = true

	if _, err := p.Infer(context.Background(), req); !errors.Is(err, ErrStreamingUnsupported) {
		t.Fatalf("expected ErrStreamingUnsupported, got %v", err)
	}
}

func TestInferValidationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("server should not be called for invalid request")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)

	_, err := p.Infer(context.Background(), &inference.ModelInferenceRequest{})
	if err == nil || !strings.Contains(err.Error(), "invalid request") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInferUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)

	_, err := p.Infer(context.Background(), userRequest("x"))
	if err == nil || !strings.Contains(err.Error(), "bad model") {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestInferRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)

	resp, err := p.Infer(context.Background(), userRequest("x"))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls.Load())
	}
	if resp.Output[0].Text != "ok" {
		t.Fatalf("unexpected output: %#v", resp.Output)
	}
}

func TestInferGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)

	_, err := p.Infer(context.Background(), userRequest("x"))
	if err == nil || !strings.Contains(err.Error(), "max retries") {
		t.Fatalf("expected retries exhausted, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", calls.Load())
	}
}
