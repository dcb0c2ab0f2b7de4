// Package sqlstore implements the ledger and actor store over database/sql.
// Driver packages supply a Dialect describing placeholder syntax, schema differences, and
// how writers are serialized.
package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between supported SQL engines.
type Dialect struct {
	Name string
	// NumberedPlaceholders rewrites ? into $1, $2, ...
	NumberedPlaceholders bool
	// EventIDColumn is the column definition for change_events.id.
	EventIDColumn string
	// TxLockStatement runs first in every Transact call to serialize multi-record writers across
	// processes. CommitSwap and the standalone writes never run it.
	TxLockStatement string
	// SerializeInProcess makes Transact hold a process-wide mutex.
	SerializeInProcess bool
	// IsUniqueViolation reports whether err is a unique-constraint failure.
	IsUniqueViolation func(error) bool
}

// rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.NumberedPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) uniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if d.IsUniqueViolation != nil {
		return d.IsUniqueViolation(err)
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
