package postgres

import (
	"fmt"
	"strings"
)

// buildWhereClause builds a WHERE clause for user and type filtering using
// numbered placeholders starting at startIdx.
func buildWhereClause(userID string, types []string, startIdx int) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}
	next := startIdx

	if userID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", next))
		args = append(args, userID)
		next++
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = fmt.Sprintf("$%d", next)
			args = append(args, t)
			next++
		}
		conditions = append(conditions, "memory_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	if len(conditions) == 0 {
		return "", args
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}
