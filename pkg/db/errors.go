package db

import "strings"

// IsUniqueViolation reports whether err is a unique constraint violation from
// Postgres or sqlite. When constraint is set, the message must also name it
// (index name on Postgres, table.column on sqlite).
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return constraint == "" || strings.Contains(msg, constraint)
}
