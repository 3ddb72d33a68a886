// Package batch derives stable identifiers for groups of work items.
package batch

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Namespace is the UUIDv5 namespace batch ids are generated in.
var Namespace = uuid.MustParse("6f1c2a7e-3d4b-5c8e-9a0f-1b2c3d4e5f60")

// GenerateBatchID returns a deterministic id for a set of keys. Order and
// duplicates do not affect the result.
func GenerateBatchID(keys []string) string {
	set := make(map[string]struct{}, len(keys))
	uniq := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := set[k]; ok {
			continue
		}
		set[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	return uuid.NewSHA1(Namespace, []byte(strings.Join(uniq, "\n"))).String()
}
