package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "lightcast"

// CacheKey identifies a cached response.
type CacheKey struct {
	// Endpoint is the request path, e.g. "/skills/versions/9.1/skills/KS120076FGP5WGWYMP0F".
	Endpoint string

	// QueryParams are the request query parameters.
	QueryParams url.Values
}

// String generates a deterministic key.
// Format: lightcast:skills/versions/9.1/skills:fields=id:limit=10
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	if endpoint := strings.Trim(k.Endpoint, "/"); endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		names := make([]string, 0, len(k.QueryParams))
		for name := range k.QueryParams {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), k.QueryParams[name]...)
			sort.Strings(values)
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(values, ",")))
		}
	}

	return strings.Join(parts, ":")
}

// IsVersioned reports whether the key addresses data of a fixed taxonomy version.
func (k CacheKey) IsVersioned() bool {
	for _, segment := range strings.Split(strings.Trim(k.Endpoint, "/"), "/") {
		if segment == "versions" {
			return true
		}
	}
	return false
}
