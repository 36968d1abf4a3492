package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// encodeRows renders rows as JSONEachRow.
func encodeRows(rows []any) ([]byte, error) {
	var buf bytes.Buffer
	for i, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode row %d: %w", i, err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// rowColumns decodes a row into column -> value, keeping numbers exact.
func rowColumns(row any) (map[string]any, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var cols map[string]any
	if err := dec.Decode(&cols); err != nil {
		return nil, fmt.Errorf("row must encode as a JSON object: %w", err)
	}
	for name := range cols {
		if err := ValidateIdentifier(name); err != nil {
			return nil, err
		}
	}
	return cols, nil
}
