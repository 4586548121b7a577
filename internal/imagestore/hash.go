package imagestore

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodingError reports a reference image payload that could not be
// fingerprinted. It is per-item: one bad payload never aborts a batch upload.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("imagestore: malformed payload: %s", e.Reason)
}

// Fingerprint computes the stable content fingerprint of an image payload: the
// lowercase hex SHA-256 digest of the full data URI string. Identical payloads
// always hash to the same fingerprint.
func Fingerprint(payload string) (string, error) {
	if err := validatePayload(payload); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:]), nil
}

// validatePayload checks the payload is a base64 data URI with decodable data.
func validatePayload(payload string) error {
	if payload == "" {
		return &EncodingError{Reason: "empty payload"}
	}
	if !strings.HasPrefix(payload, "data:") {
		return &EncodingError{Reason: "missing data URI prefix"}
	}
	idx := strings.Index(payload, ";base64,")
	if idx < 0 {
		return &EncodingError{Reason: "missing base64 marker"}
	}
	data := payload[idx+len(";base64,"):]
	if data == "" {
		return &EncodingError{Reason: "empty image data"}
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return &EncodingError{Reason: fmt.Sprintf("invalid base64 data: %v", err)}
	}
	return nil
}

// payloadData splits a validated data URI into its MIME type and raw bytes.
func payloadData(payload string) (mime string, data []byte, err error) {
	if err := validatePayload(payload); err != nil {
		return "", nil, err
	}
	idx := strings.Index(payload, ";base64,")
	mime = strings.TrimPrefix(payload[:idx], "data:")
	data, decodeErr := base64.StdEncoding.DecodeString(payload[idx+len(";base64,"):])
	if decodeErr != nil {
		return "", nil, &EncodingError{Reason: decodeErr.Error()}
	}
	return mime, data, nil
}
