package cache

import (
	"fmt"
	"strings"

	"github.com/mitchellh/hashstructure/v2"
)

// Key builds a stable cache key from the provider, operation and normalized
// argument, plus an optional context value that is hashed structurally.
// Identical tuples always produce identical keys, across processes.
func Key(provider, operation, arg string, contextValue any) string {
	base := fmt.Sprintf("%s:%s:%s", provider, operation, strings.ToLower(strings.TrimSpace(arg)))
	if contextValue == nil {
		return base
	}
	h, err := hashstructure.Hash(contextValue, hashstructure.FormatV2, nil)
	if err != nil {
		// Unhashable context values fall back to the base key rather than
		// failing the lookup path.
		return base
	}
	return fmt.Sprintf("%s:%x", base, h)
}
