package mysql

import (
	"math"
	"sort"
	"strings"

	"github.com/recallmem/recall-go/pkg/storage"
)

// buildWhereClause builds a WHERE clause for user and type filtering.
func buildWhereClause(userID string, types []string) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}

	if userID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, userID)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		conditions = append(conditions, "memory_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	if len(conditions) == 0 {
		return "", args
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// cosineSimilarity calculates the cosine similarity between two vectors.
// Returns 0 if the vectors have different dimensions or zero norm.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortByScore sorts items by descending score and truncates to limit.
func sortByScore(items []*storage.Item, limit int) []*storage.Item {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	return items
}
