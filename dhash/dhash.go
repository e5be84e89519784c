// Package dhash computes the canonical content hash used to identify a
// tracker's static configuration (config_hash in the data model).
//
// Grounded directly on utils.py's config_dhash: a recursive SHA-256 that
// is insensitive to map key order and list element order, built by
// hashing scalars directly and hashing collections over the sorted hashes
// of their elements.
package dhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Hash returns the canonical content hash of obj. obj must be built from
// the types produced by a JSON/YAML decode: map[string]any, []any, and
// scalars (string, bool, float64/int, nil).
func Hash(obj any) string {
	switch v := obj.(type) {
	case []any:
		return hashList(v)
	case map[string]any:
		return hashMap(v)
	default:
		return hashScalar(v)
	}
}

func hashList(list []any) string {
	hashes := make([]string, 0, len(list))
	for _, item := range list {
		hashes = append(hashes, Hash(item))
	}
	sort.Strings(hashes)
	return hashScalar(fmt.Sprintf("%v", hashes))
}

func hashMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]any, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, []any{k, Hash(m[k])})
	}
	return hashList(pairs)
}

func hashScalar(v any) string {
	sum := sha256.Sum256([]byte(scalarString(v)))
	return hex.EncodeToString(sum[:])
}

// scalarString renders a scalar the way the canonical hash needs it
// rendered: deterministically and distinctly per value, not necessarily
// byte-identical to any other language's string conversion.
func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return x
	case []string:
		return fmt.Sprintf("%v", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
