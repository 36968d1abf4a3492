package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestValidate(t *testing.T) {
	valid := func() ModelInferenceRequest {
		return ModelInferenceRequest{
			Messages: []RequestMessage{
				{Role: RoleUser, Content: []ContentBlock{Text("hi")}},
			},
			JSONMode:     JSONModeOff,
			FunctionType: FunctionTypeChat,
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *ModelInferenceRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(r *ModelInferenceRequest) {}},
		{name: "no messages", mutate: func(r *ModelInferenceRequest) { r.Messages = nil }, wantErr: "at least one message"},
		{name: "bad role", mutate: func(r *ModelInferenceRequest) { r.Messages[0].Role = "system" }, wantErr: "invalid role"},
		{name: "empty content", mutate: func(r *ModelInferenceRequest) { r.Messages[0].Content = nil }, wantErr: "content is required"},
		{name: "tool call without id", mutate: func(r *ModelInferenceRequest) {
			r.Messages[0].Content = []ContentBlock{ToolCall("", "f", "{}")}
		}, wantErr: "requires an id"},
		{name: "unknown block", mutate: func(r *ModelInferenceRequest) {
			r.Messages[0].Content = []ContentBlock{{Type: "image"}}
		}, wantErr: "unknown content block"},
		{name: "temperature", mutate: func(r *ModelInferenceRequest) { r.Temperature = ptr(float32(3)) }, wantErr: "temperature"},
		{name: "top_p", mutate: func(r *ModelInferenceRequest) { r.TopP = ptr(float32(1.5)) }, wantErr: "top_p"},
		{name: "json mode", mutate: func(r *ModelInferenceRequest) { r.JSONMode = "loose" }, wantErr: "json_mode"},
		{name: "function type", mutate: func(r *ModelInferenceRequest) { r.FunctionType = "tool" }, wantErr: "function_type"},
		{name: "specific tool without name", mutate: func(r *ModelInferenceRequest) {
			r.ToolConfig = &ToolCallConfig{ToolChoice: ToolChoice{Mode: ToolChoiceSpecific}}
		}, wantErr: "tool_choice name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewCachedResponse(t *testing.T) {
	req := &ModelInferenceRequest{
		System:   ptr("be brief"),
		Messages: []RequestMessage{{Role: RoleUser, Content: []ContentBlock{Text("hi")}}},
	}
	out := []ContentBlock{Text("hello")}

	resp := NewCachedResponse(req, "gpt-4o", "openai", out, "raw-req", "raw-resp")

	assert.True(t, resp.Cached)
	assert.Equal(t, "gpt-4o", resp.ModelName)
	assert.Equal(t, "openai", resp.ModelProviderName)
	assert.Equal(t, out, resp.Output)
	assert.Equal(t, "raw-req", resp.RawRequest)
	assert.Equal(t, "raw-resp", resp.RawResponse)
	assert.Equal(t, req.Messages, resp.InputMessages)
	assert.Equal(t, req.System, resp.System)
	assert.Zero(t, resp.Usage)
	assert.Zero(t, resp.Latency)
	assert.EqualValues(t, 7, resp.ID.Version())

	other := NewCachedResponse(req, "gpt-4o", "openai", out, "raw-req", "raw-resp")
	assert.NotEqual(t, resp.ID, other.ID)
}
