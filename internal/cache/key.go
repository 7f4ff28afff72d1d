package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Key derives the entry key for (op, params). Params are serialised with sorted
// object keys so structurally equal values map to the same key.
func Key(op string, params any) (string, error) {
	canonical, err := canonicalJSON(params)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint %s params: %w", op, err)
	}
	return op + ":" + canonical, nil
}

func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	// Round-trip through generic values: encoding/json writes map keys sorted.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", err
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
