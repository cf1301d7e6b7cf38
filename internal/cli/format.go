package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/livedoc/internal/ir"
)

// canonical renders a document value the way it is stored and hashed.
func canonical(v ir.IRValue) string {
	if v == nil {
		return "null"
	}
	return ir.Canonical(v)
}

// canonicalFields renders each top-level field on its own, for JSON output
// that stays readable without re-encoding IR values.
func canonicalFields(obj ir.IRObject) map[string]string {
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		out[k] = canonical(v)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseKey reads "space/id".
func parseKey(s string) (ir.Key, error) {
	space, id, ok := strings.Cut(s, "/")
	if !ok || space == "" || id == "" {
		return ir.Key{}, fmt.Errorf("invalid document key %q: want space/id", s)
	}
	return ir.Key{Space: space, ID: id}, nil
}

// formatMillis renders a unix millisecond timestamp in UTC.
func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// truncate shortens s for table cells.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// parseWho reads "agent@authority".
func parseWho(s string) (ir.Client, error) {
	agent, authority, ok := strings.Cut(s, "@")
	if !ok || agent == "" || authority == "" {
		return ir.Client{}, fmt.Errorf("invalid client %q: want agent@authority", s)
	}
	return ir.Client{Agent: agent, Authority: authority}, nil
}
