// Package bundle computes content digests for generated test bundles.
package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash returns the sha256 hex digest of the canonical JSON form of
// {"hidden","public","seed","spec"}. Object keys are sorted at every depth, so
// the digest does not depend on field or map ordering.
func Hash(spec, public, hidden any, seed int64) (string, error) {
	payload := map[string]any{
		"spec":   spec,
		"public": public,
		"hidden": hidden,
		"seed":   seed,
	}
	data, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Canonical renders v as JSON with sorted keys and no HTML escaping.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle failed: %w", err)
	}
	// Round-trip through generic values so struct field order does not leak
	// into the digest; maps are emitted with sorted keys.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("normalize bundle failed: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode bundle failed: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

const seedModulus = 1<<31 - 1

// SeedFor derives a reproducible, non-negative generation seed from a version id.
func SeedFor(versionID string) int64 {
	sum := sha256.Sum256([]byte(versionID))
	return int64(binary.BigEndian.Uint64(sum[:8]) % seedModulus)
}
