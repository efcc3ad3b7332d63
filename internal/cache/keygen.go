package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotSerializable is returned when a cache-key parameter cannot be
// canonically serialized (channels, funcs, cyclic values). Callers must
// treat this as a programming error: silently dropping the parameter
// would produce false cache hits across semantically different calls.
var ErrNotSerializable = errors.New("cache: parameter not serializable")

// MakeKey derives a deterministic cache key from a namespace and a
// parameter bag. Values may be strings, numbers, booleans, nil, or nested
// maps/slices of the same.
//
// Canonicalization relies on encoding/json sorting map keys, so parameter
// insertion order never affects the key. The key format is
// "<namespace>:<first 16 hex chars of sha256>".
func MakeKey(namespace string, params map[string]any) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}

	normalized := "ns:" + namespace + "|params:" + string(body)

	sum := sha256.Sum256([]byte(normalized))
	return namespace + ":" + hex.EncodeToString(sum[:])[:16], nil
}

// KeyNamespace reports the namespace component of a key produced by
// MakeKey, or "" if the key does not carry one.
func KeyNamespace(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return ""
}
