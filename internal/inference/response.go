package inference

import (
	"time"

	"github.com/google/uuid"
)

type Usage struct {
	InputTokens  uint32 `json:"input_tokens"`
	OutputTokens uint32 `json:"output_tokens"`
}

type Latency struct {
	ResponseTimeMs int64 `json:"response_time_ms"`
}

// ModelInferenceResponse is what a model provider produced for one request,
// either live or replayed from the response cache.
type ModelInferenceResponse struct {
	ID                uuid.UUID        `json:"id"`
	Created           time.Time        `json:"created"`
	Output            []ContentBlock   `json:"output"`
	System            *string          `json:"system,omitempty"`
	InputMessages     []RequestMessage `json:"input_messages"`
	RawRequest        string           `json:"raw_request"`
	RawResponse       string           `json:"raw_response"`
	Usage             Usage            `json:"usage"`
	Latency           Latency          `json:"latency"`
	ModelName         string           `json:"model_name"`
	ModelProviderName string           `json:"model_provider_name"`
	Cached            bool             `json:"cached"`
}

// ProviderResponse is the raw result of a live provider call.
type ProviderResponse struct {
	Output      []ContentBlock
	RawRequest  string
	RawResponse string
	Usage       Usage
	Latency     time.Duration
}

func newID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// NewResponse wraps a live provider result.
func NewResponse(req *ModelInferenceRequest, modelName, providerName string, pr *ProviderResponse) *ModelInferenceResponse {
	return &ModelInferenceResponse{
		ID:                newID(),
		Created:           time.Now().UTC(),
		Output:            pr.Output,
		System:            req.System,
		InputMessages:     req.Messages,
		RawRequest:        pr.RawRequest,
		RawResponse:       pr.RawResponse,
		Usage:             pr.Usage,
		Latency:           Latency{ResponseTimeMs: pr.Latency.Milliseconds()},
		ModelName:         modelName,
		ModelProviderName: providerName,
	}
}

// NewCachedResponse rebuilds a response from a cache row. Usage and latency
// are zero since no provider was called.
func NewCachedResponse(
	req *ModelInferenceRequest,
	modelName, providerName string,
	output []ContentBlock,
	rawRequest, rawResponse string,
) *ModelInferenceResponse {
	return &ModelInferenceResponse{
		ID:                newID(),
		Created:           time.Now().UTC(),
		Output:            output,
		System:            req.System,
		InputMessages:     req.Messages,
		RawRequest:        rawRequest,
		RawResponse:       rawResponse,
		ModelName:         modelName,
		ModelProviderName: providerName,
		Cached:            true,
	}
}
