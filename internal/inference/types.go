package inference

import (
	"errors"
	"fmt"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type JSONMode string

const (
	JSONModeOff          JSONMode = "off"
	JSONModeOn           JSONMode = "on"
	JSONModeStrict       JSONMode = "strict"
	JSONModeImplicitTool JSONMode = "implicit_tool"
)

type FunctionType string

const (
	FunctionTypeChat FunctionType = "chat"
	FunctionTypeJSON FunctionType = "json"
)

type RequestMessage struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

type ToolChoiceMode string

const (
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceSpecific ToolChoiceMode = "specific"
)

type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	// Name is only set when Mode is ToolChoiceSpecific.
	Name string `json:"name"`
}

type ToolConfig struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Parameters  JSONValue `json:"parameters"`
	Strict      bool      `json:"strict"`
}

type ToolCallConfig struct {
	Tools             []ToolConfig `json:"tools"`
	ToolChoice        ToolChoice   `json:"tool_choice"`
	ParallelToolCalls *bool        `json:"parallel_tool_calls"`
}

// ModelInferenceRequest is the provider-agnostic request handed to a model
// provider. Its JSON encoding is the canonical form used for cache
// fingerprints: fields are emitted in declaration order and none of them are
// omitted, so adding a field changes every key.
type ModelInferenceRequest struct {
	Messages         []RequestMessage `json:"messages"`
	System           *string          `json:"system"`
	ToolConfig       *ToolCallConfig  `json:"tool_config"`
	Temperature      *float32         `json:"temperature"`
	TopP             *float32         `json:"top_p"`
	PresencePenalty  *float32         `json:"presence_penalty"`
	FrequencyPenalty *float32         `json:"frequency_penalty"`
	MaxTokens        *uint32          `json:"max_tokens"`
	Seed             *uint32          `json:"seed"`
	Stream           bool             `json:"stream"`
	JSONMode         JSONMode         `json:"json_mode"`
	FunctionType     FunctionType     `json:"function_type"`
	OutputSchema     JSONValue        `json:"output_schema"`
}

// Validate checks the request before it is sent to a provider.
func (r *ModelInferenceRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("at least one message is required")
	}

	for i, m := range r.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("invalid role %q in messages[%d]", m.Role, i)
		}
		if len(m.Content) == 0 {
			return fmt.Errorf("content is required for messages[%d]", i)
		}
		for j, b := range m.Content {
			if err := b.validate(); err != nil {
				return fmt.Errorf("messages[%d].content[%d]: %w", i, j, err)
			}
		}
	}

	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return errors.New("top_p must be between 0 and 1")
	}

	switch r.JSONMode {
	case "", JSONModeOff, JSONModeOn, JSONModeStrict, JSONModeImplicitTool:
	default:
		return fmt.Errorf("invalid json_mode %q", r.JSONMode)
	}
	switch r.FunctionType {
	case "", FunctionTypeChat, FunctionTypeJSON:
	default:
		return fmt.Errorf("invalid function_type %q", r.FunctionType)
	}

	if r.ToolConfig != nil {
		if r.ToolConfig.ToolChoice.Mode == ToolChoiceSpecific && r.ToolConfig.ToolChoice.Name == "" {
			return errors.New("tool_choice name is required for specific mode")
		}
		for i, t := range r.ToolConfig.Tools {
			if t.Name == "" {
				return fmt.Errorf("name is required for tools[%d]", i)
			}
		}
	}

	return nil
}
