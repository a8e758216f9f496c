package compiler

import (
	"fmt"
	"unicode/utf8"
)

// maxIdentifierLength is the PostgreSQL NAMEDATALEN limit; longer names are
// truncated by the server, so uniqueness is decided on the truncated form.
const maxIdentifierLength = 63

// nameRegistry hands out constraint names that are unique within a schema
// for the lifetime of one compilation.
type nameRegistry struct {
	used map[string]struct{}
}

func newNameRegistry() *nameRegistry {
	return &nameRegistry{used: make(map[string]struct{})}
}

// claim returns name, or name with a numeric suffix when the truncated form
// is already taken in schema.
func (r *nameRegistry) claim(schema, name string) string {
	candidate := truncateIdentifier(name)
	for attempt := 2; r.taken(schema, candidate); attempt++ {
		suffix := fmt.Sprintf("_%d", attempt)
		candidate = clipIdentifier(name, maxIdentifierLength-len(suffix)) + suffix
	}
	r.used[schema+"."+candidate] = struct{}{}
	return candidate
}

// reserve claims names exactly as the server will store them. When two of
// them, or one of them and an earlier reservation, truncate to the same name
// it claims nothing and returns the name that collided.
func (r *nameRegistry) reserve(schema string, names []derivedName) (derivedName, bool) {
	pending := make(map[string]struct{}, len(names))
	for _, derived := range names {
		key := derived.namespace + "." + truncateIdentifier(derived.name)
		if _, clash := pending[key]; clash || r.taken(schema, key) {
			return derived, false
		}
		pending[key] = struct{}{}
	}
	for key := range pending {
		r.used[schema+"."+key] = struct{}{}
	}
	return derivedName{}, true
}

func (r *nameRegistry) taken(schema, name string) bool {
	_, exists := r.used[schema+"."+name]
	return exists
}

func truncateIdentifier(name string) string {
	return clipIdentifier(name, maxIdentifierLength)
}

// clipIdentifier shortens name to at most limit bytes without splitting a
// multi-byte character, the way the server truncates identifiers.
func clipIdentifier(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	end := limit
	for end > 0 && !utf8.RuneStart(name[end]) {
		end--
	}
	return name[:end]
}
