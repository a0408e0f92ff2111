// Package ids generates identifiers for stored rows.
package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier. ULIDs sort by creation
// time, which keeps audit and execution listings in insert order for free.
func New() string {
	return ulid.Make().String()
}
