package cache

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// MaxKeyLength is the threshold above which the natural key string is
// replaced by a hashed form. Keeps keys well under backend key-size limits.
const MaxKeyLength = 200

// Key identifies a cached value. It is partitioned by Namespace so that
// distinct namespaces never collide even when Path and Params match.
type Key struct {
	// Namespace is the logical partition (e.g., "player", "game", "static").
	Namespace string

	// Path is the path-like identifier within the namespace
	// (e.g., "magnus/stats").
	Path string

	// Params are the request parameters that vary the cached value.
	Params url.Values

	// Identity scopes the key to a caller for personalized namespaces.
	// Empty for shared (public) data. Never a raw token or secret.
	Identity string
}

// String generates a deterministic cache key string.
// Format: namespace:path:param1=val1:param2=val2:id=identity
//
// Parameters are sorted so that equivalent requests with differently-ordered
// query strings map to the same key. If the natural concatenation exceeds
// MaxKeyLength the key collapses to "namespace:<128-bit hex digest>", which
// stays deterministic while bounding key size.
func (k Key) String() string {
	parts := []string{k.Namespace}

	path := strings.Trim(k.Path, "/")
	if path != "" {
		parts = append(parts, path)
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params.Get(name)))
		}
	}

	if k.Identity != "" {
		parts = append(parts, "id="+k.Identity)
	}

	full := strings.Join(parts, ":")
	if len(full) <= MaxKeyLength {
		return full
	}

	sum := sha256.Sum256([]byte(full))
	return fmt.Sprintf("%s:%x", k.Namespace, sum[:16])
}

// NamespacePattern returns the glob matching every key in a namespace.
func NamespacePattern(namespace string) string {
	return namespace + ":*"
}
