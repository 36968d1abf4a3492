package inference

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeysAndStripsWhitespace(t *testing.T) {
	a, err := Canonicalize([]byte(`{"b": 1, "a": {"y": [1, 2.50], "x": null}}`))
	require.NoError(t, err)
	b, err := Canonicalize([]byte("{\"a\":{\"x\":null,\"y\":[1,2.50]},\n \"b\":1}"))
	require.NoError(t, err)

	assert.Equal(t, `{"a":{"x":null,"y":[1,2.50]},"b":1}`, string(a))
	assert.Equal(t, a, b)
}

func TestCanonicalizeRejectsInvalidDocuments(t *testing.T) {
	for _, raw := range []string{`{"a":`, `{} {}`, ``} {
		_, err := Canonicalize([]byte(raw))
		assert.Error(t, err, "input %q", raw)
	}
}

func TestJSONValueMarshalsCanonically(t *testing.T) {
	req := ModelInferenceRequest{OutputSchema: JSONValue(`{"type": "object", "properties": {}}`)}

	out, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"output_schema":{"properties":{},"type":"object"}`)

	req.OutputSchema = nil
	out, err = json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"output_schema":null`)
}

func TestJSONValueInvalidFailsMarshal(t *testing.T) {
	req := ModelInferenceRequest{OutputSchema: JSONValue(`{"type":`)}
	_, err := json.Marshal(req)
	assert.Error(t, err)
}

func TestJSONValueUnmarshalNull(t *testing.T) {
	var req ModelInferenceRequest
	require.NoError(t, json.Unmarshal([]byte(`{"output_schema":null}`), &req))
	assert.Nil(t, req.OutputSchema)

	require.NoError(t, json.Unmarshal([]byte(`{"output_schema":{"b":2,"a":1}}`), &req))
	assert.JSONEq(t, `{"a":1,"b":2}`, string(req.OutputSchema))
}
