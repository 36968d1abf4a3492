package cache

import (
	"encoding/json"

	"lukechampine.com/blake3"

	"modelcache-gateway/internal/inference"
)

// ModelProviderRequest is a request as it will be sent to one provider of one
// model. It is only borrowed for the duration of a cache operation.
type ModelProviderRequest struct {
	Request      *inference.ModelInferenceRequest
	ModelName    string
	ProviderName string
}

// CacheKey fingerprints the request:
//
//	BLAKE3(model || 0x00 || provider || 0x00 || canonical JSON(request))
//
// The zero bytes keep ("ab","c") and ("a","bc") apart. Every request field,
// including the stream flag, is part of the JSON. A nil request has no
// fingerprint.
func (r ModelProviderRequest) CacheKey() (Key, error) {
	if r.Request == nil {
		return Key{}, &Error{Message: "cannot fingerprint a nil request"}
	}
	body, err := json.Marshal(r.Request)
	if err != nil {
		return Key{}, &SerializationError{Message: "failed to serialize request", Err: err}
	}

	h := blake3.New(KeySize, nil)
	h.Write([]byte(r.ModelName))
	h.Write([]byte{0})
	h.Write([]byte(r.ProviderName))
	h.Write([]byte{0})
	h.Write(body)

	return keyFromBytes(h.Sum(nil))
}

// Fingerprint is CacheKey for callers holding the parts separately.
func Fingerprint(modelName, providerName string, req *inference.ModelInferenceRequest) (Key, error) {
	return ModelProviderRequest{Request: req, ModelName: modelName, ProviderName: providerName}.CacheKey()
}
