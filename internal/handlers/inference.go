package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"modelcache-gateway/internal/cache"
	"modelcache-gateway/internal/gateway"
	"modelcache-gateway/internal/inference"
	"modelcache-gateway/pkg/logging/logging"
)

// Inferer is the part of the gateway the handler needs.
type Inferer interface {
	Infer(ctx context.Context, p gateway.InferParams) (*inference.ModelInferenceResponse, error)
}

// InferenceHandler holds dependencies for the /v1/inference endpoint.
type InferenceHandler struct {
	Gateway Inferer
}

func NewInferenceHandler(g Inferer) *InferenceHandler {
	return &InferenceHandler{Gateway: g}
}

type inferenceRequest struct {
	ModelName    string                           `json:"model_name"`
	ProviderName string                           `json:"provider_name"`
	Request      *inference.ModelInferenceRequest `json:"request"`
	CacheOptions cache.Options                    `json:"cache_options"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Inference handles POST /v1/inference.
func (h *InferenceHandler) Inference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	body := inferenceRequest{CacheOptions: cache.DefaultOptions()}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	switch {
	case body.ModelName == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "model_name is required")
		return
	case body.ProviderName == "":
		writeError(w, http.StatusBadRequest, "invalid_request", "provider_name is required")
		return
	case body.Request == nil:
		writeError(w, http.StatusBadRequest, "invalid_request", "request is required")
		return
	case body.Request.Stream:
		writeError(w, http.StatusBadRequest, "streaming_unsupported", "stream=true is not supported")
		return
	}
	if err := body.Request.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := h.Gateway.Infer(ctx, gateway.InferParams{
		ModelName:    body.ModelName,
		ProviderName: body.ProviderName,
		Request:      body.Request,
		CacheOptions: body.CacheOptions,
	})
	if err != nil {
		status, code := statusFor(err)
		logger.Warn("inference_failed",
			zap.String("model_name", body.ModelName),
			zap.String("provider_name", body.ProviderName),
			zap.Int("status", status),
			zap.Float64("total_latency_ms", logging.Millis(time.Since(start))),
			zap.Error(err),
		)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, gateway.ErrUnknownProvider):
		return http.StatusNotFound, "unknown_provider"
	case errors.Is(err, gateway.ErrModelMismatch):
		return http.StatusBadRequest, "model_mismatch"
	case errors.Is(err, gateway.ErrCacheUnavailable):
		return http.StatusServiceUnavailable, "cache_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "gateway_timeout"
	default:
		return http.StatusBadGateway, "provider_error"
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// writeJSON sends JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
