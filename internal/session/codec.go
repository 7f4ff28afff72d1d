package session

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/davidbz/lessonlab/internal/domain"
)

// compressedMarker prefixes gzip payloads; plain payloads are JSON.
const compressedMarker = "GZ:"

func encode(session *domain.ResearchSession, threshold int) ([]byte, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	if threshold < 0 || len(raw) <= threshold {
		return raw, nil
	}

	var buf bytes.Buffer
	buf.WriteString(compressedMarker)

	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress session: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress session: %w", err)
	}

	// Small or incompressible payloads can grow.
	if buf.Len() >= len(raw) {
		return raw, nil
	}
	return buf.Bytes(), nil
}

func decode(payload []byte) (*domain.ResearchSession, error) {
	raw := payload
	if rest, ok := bytes.CutPrefix(payload, []byte(compressedMarker)); ok {
		zr, err := gzip.NewReader(bytes.NewReader(rest))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress session: %w", err)
		}
		defer zr.Close()

		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress session: %w", err)
		}
	}

	var session domain.ResearchSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func isCompressed(payload []byte) bool {
	return bytes.HasPrefix(payload, []byte(compressedMarker))
}
