package obs

import "strings"

// CanonicalPath collapses identifier segments so metric label cardinality
// stays bounded. Unknown shapes are returned as-is.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(path, "/v1/identities/"); ok {
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			return "/v1/identities/:id"
		case len(parts) == 2 && (parts[1] == "approval" || parts[1] == "roles" || parts[1] == "account"):
			return "/v1/identities/:id/" + parts[1]
		case len(parts) == 3 && parts[1] == "roles":
			return "/v1/identities/:id/roles/:role"
		}
	}
	return path
}
