package ids

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier used for request correlation.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether s is a well-formed ULID. Inbound correlation ids that
// fail this check are replaced rather than propagated into logs.
func Valid(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}
