// Package frame defines the per-frame payload format and the 2D barcode
// codec boundary used to embed chunk text into video frames.
package frame

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	// CompressPrefix marks a gzip+base64 encoded payload.
	CompressPrefix = "GZ:"
	// CompressThreshold is the serialized size in bytes above which the
	// payload is compressed before barcode rendering.
	CompressThreshold = 100
)

// Payload is the structured record stored inside each barcode.
type Payload struct {
	Text  string `json:"text"`
	Frame int    `json:"frame"`
}

// EncodePayload serializes a payload, compressing it with gzip+base64
// behind the CompressPrefix marker once the JSON form exceeds
// CompressThreshold bytes.
func EncodePayload(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	if len(data) <= CompressThreshold {
		return string(data), nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress payload: %w", err)
	}

	return CompressPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodePayload parses a payload string, transparently handling both plain
// JSON and CompressPrefix-marked compressed forms.
func DecodePayload(s string) (Payload, error) {
	var p Payload

	if strings.HasPrefix(s, CompressPrefix) {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, CompressPrefix))
		if err != nil {
			return p, fmt.Errorf("decode payload base64: %w", err)
		}
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return p, fmt.Errorf("decompress payload: %w", err)
		}
		data, err := io.ReadAll(zr)
		if cerr := zr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return p, fmt.Errorf("decompress payload: %w", err)
		}
		s = string(data)
	}

	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}
