package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"modelcache-gateway/internal/inference"
)

const (
	maxRequestSize = 2 * 1024 * 1024 // 2MB total JSON payload

	// implicitToolName is the tool forced on the model in implicit_tool JSON
	// mode; its arguments are the JSON output.
	implicitToolName = "respond"
)

var ErrStreamingUnsupported = errors.New("openai: streaming requests are not supported")

// Infer sends req to the chat completions endpoint and maps the first choice
// back to content blocks.
func (p *Provider) Infer(parentCtx context.Context, req *inference.ModelInferenceRequest) (*inference.ProviderResponse, error) {
	start := time.Now()

	if req == nil {
		return nil, errors.New("openai: request is nil")
	}
	if req.Stream {
		return nil, ErrStreamingUnsupported
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("openai: invalid request: %w", err)
	}

	pReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	bodyBytes, err := json.Marshal(pReq)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	if len(bodyBytes) > maxRequestSize {
		return nil, fmt.Errorf("openai: request too large (%d bytes, max %d)", len(bodyBytes), maxRequestSize)
	}

	p.logger.Debug("llm request starting",
		zap.String("model", p.cfg.Model),
		zap.Int("message_count", len(pReq.Messages)),
	)

	ctx, cancel := context.WithTimeout(parentCtx, p.cfg.UpstreamTimeout)
	defer cancel()

	url := p.cfg.BaseURL + "/v1/chat/completions"

	// doOnce builds a fresh *http.Request for each attempt
	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("openai: build HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return p.httpClient.Do(httpReq)
	}

	resp, err := p.doWithRetry(ctx, bodyBytes, doOnce)
	if err != nil {
		p.logger.Error("llm request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var perr errorResponse
		if err := json.Unmarshal(respBody, &perr); err == nil && perr.Error.Message != "" {
			p.logger.Error("llm provider error",
				zap.Int("status", resp.StatusCode),
				zap.String("error_type", perr.Error.Type),
				zap.String("error_message", perr.Error.Message),
			)
			return nil, fmt.Errorf("openai: upstream %d: %s (%s)",
				resp.StatusCode, perr.Error.Message, perr.Error.Type)
		}

		p.logger.Error("llm upstream error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(respBody), 200)),
		)
		return nil, fmt.Errorf("openai: upstream %d: %s",
			resp.StatusCode, truncate(string(respBody), 200))
	}

	var pResp chatResponse
	if err := json.Unmarshal(respBody, &pResp); err != nil {
		return nil, fmt.Errorf("openai: decode upstream response: %w", err)
	}
	if len(pResp.Choices) == 0 {
		p.logger.Error("llm provider returned no choices", zap.String("model", p.cfg.Model))
		return nil, errors.New("openai: provider returned no choices")
	}

	out := &inference.ProviderResponse{
		Output:      outputBlocks(pResp.Choices[0].Message),
		RawRequest:  string(bodyBytes),
		RawResponse: string(respBody),
		Latency:     time.Since(start),
	}
	if pResp.Usage != nil {
		out.Usage = inference.Usage{
			InputTokens:  pResp.Usage.PromptTokens,
			OutputTokens: pResp.Usage.CompletionTokens,
		}
	}

	p.logger.Info("llm request completed",
		zap.String("model", pResp.Model),
		zap.Uint32("prompt_tokens", out.Usage.InputTokens),
		zap.Uint32("completion_tokens", out.Usage.OutputTokens),
		zap.Duration("duration", out.Latency),
	)

	return out, nil
}

func (p *Provider) buildRequest(req *inference.ModelInferenceRequest) (*chatRequest, error) {
	pReq := &chatRequest{
		Model:            p.cfg.Model,
		Messages:         buildMessages(req),
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		MaxTokens:        req.MaxTokens,
		Seed:             req.Seed,
	}

	if tc := req.ToolConfig; tc != nil && len(tc.Tools) > 0 {
		for _, t := range tc.Tools {
			pReq.Tools = append(pReq.Tools, chatTool{
				Type: "function",
				Function: chatFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  json.RawMessage(t.Parameters),
					Strict:      t.Strict,
				},
			})
		}
		pReq.ToolChoice = toolChoice(tc.ToolChoice)
		pReq.ParallelToolCalls = tc.ParallelToolCalls
	}

	switch req.JSONMode {
	case inference.JSONModeOn:
		pReq.ResponseFormat = &responseFormat{Type: "json_object"}
	case inference.JSONModeStrict:
		if len(req.OutputSchema) == 0 {
			pReq.ResponseFormat = &responseFormat{Type: "json_object"}
			break
		}
		pReq.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   "response",
				Schema: json.RawMessage(req.OutputSchema),
				Strict: true,
			},
		}
	case inference.JSONModeImplicitTool:
		if len(req.OutputSchema) == 0 {
			return nil, errors.New("openai: implicit_tool json mode requires an output schema")
		}
		pReq.Tools = []chatTool{{
			Type: "function",
			Function: chatFunction{
				Name:        implicitToolName,
				Description: "Respond to the user using the output schema.",
				Parameters:  json.RawMessage(req.OutputSchema),
			},
		}}
		pReq.ToolChoice = toolChoice(inference.ToolChoice{Mode: inference.ToolChoiceSpecific, Name: implicitToolName})
		pReq.ParallelToolCalls = nil
	}

	return pReq, nil
}

func buildMessages(req *inference.ModelInferenceRequest) []chatMessage {
	var msgs []chatMessage
	if req.System != nil {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}

	for _, m := range req.Messages {
		var text []string
		var calls []chatToolCall
		for _, b := range m.Content {
			switch b.Type {
			case inference.ContentBlockText:
				text = append(text, b.Text)
			case inference.ContentBlockToolCall:
				call := chatToolCall{ID: b.ID, Type: "function"}
				call.Function.Name = b.Name
				call.Function.Arguments = b.Arguments
				calls = append(calls, call)
			case inference.ContentBlockToolResult:
				result := b.Result
				msgs = append(msgs, chatMessage{Role: "tool", Content: &result, ToolCallID: b.ID})
			}
		}

		if len(text) == 0 && len(calls) == 0 {
			continue
		}
		msg := chatMessage{Role: string(m.Role), ToolCalls: calls}
		if len(text) > 0 {
			joined := strings.Join(text, "\n")
			msg.Content = &joined
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func toolChoice(c inference.ToolChoice) any {
	switch c.Mode {
	case inference.ToolChoiceSpecific:
		var s specificToolChoice
		s.Type = "function"
		s.Function.Name = c.Name
		return s
	case "":
		return nil
	default:
		return string(c.Mode)
	}
}

func outputBlocks(m chatMessage) []inference.ContentBlock {
	var out []inference.ContentBlock
	if m.Content != nil && *m.Content != "" {
		out = append(out, inference.Text(*m.Content))
	}
	for _, c := range m.ToolCalls {
		out = append(out, inference.ToolCall(c.ID, c.Function.Name, c.Function.Arguments))
	}
	return out
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
