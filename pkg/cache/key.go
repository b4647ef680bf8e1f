package cache

import (
	"path"
	"sort"
	"strings"
)

// Dashboard namespaces
const (
	NamespaceManager = "manager_dashboard"
	NamespaceCost    = "cost_dashboard"
	NamespaceProject = "project_dashboard"
)

// BuildKey produces the canonical cache key for a namespace and filter
// set. Filter parameters are encoded sorted by name, so equal filter
// sets always yield an identical key regardless of insertion order.
func BuildKey(namespace string, filters map[string]string) string {
	if len(filters) == 0 {
		return namespace + ":{}"
	}

	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(namespace)
	sb.WriteString(":{")
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(filters[name])
	}
	sb.WriteByte('}')
	return sb.String()
}

// Namespace returns the namespace portion of a canonical key.
func Namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// MatchPattern reports whether a canonical key matches a glob pattern
// such as "manager_dashboard:*". A pattern without wildcards matches
// only the identical key.
func MatchPattern(pattern, key string) bool {
	if pattern == key {
		return true
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}
