package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash"

	"graphsync/internal/backend"
)

// AnyType is the wildcard type every item belongs to.
const AnyType = "*"

const inferredPrefix = "inferred_"

// TypeNames returns the type names an item is counted under: its explicit
// types, or one inferred name when it has none, followed by AnyType.
func TypeNames(item backend.Item) []string {
	names := make([]string, 0, len(item.Types)+1)
	for _, t := range item.Types {
		if t == "" || t == AnyType {
			continue
		}
		names = append(names, t)
	}
	slices.Sort(names)
	names = slices.Compact(names)

	if len(names) == 0 {
		names = append(names, InferredName(item.Properties))
	}
	return append(names, AnyType)
}

// InferredName derives a type name from the sorted property keys, so untyped
// items with the same shape share a name.
func InferredName(properties map[string]any) string {
	keys := make([]string, 0, len(properties))
	for key := range properties {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return fmt.Sprintf("%s%016x", inferredPrefix, xxhash.Sum64([]byte(strings.Join(keys, "\x00"))))
}

// IsInferred reports whether name was produced by InferredName.
func IsInferred(name string) bool {
	return strings.HasPrefix(name, inferredPrefix)
}
