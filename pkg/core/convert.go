// Package core provides the main Recall client and memory management functionality.
package core

import (
	"github.com/recallmem/recall-go/pkg/intelligence"
	"github.com/recallmem/recall-go/pkg/storage"
)

// itemFromStorage converts a storage item to the public MemoryItem type.
func itemFromStorage(item *storage.Item) *MemoryItem {
	if item == nil {
		return nil
	}

	return &MemoryItem{
		ID:             item.ID,
		UserID:         item.UserID,
		Content:        item.Content,
		Embedding:      item.Embedding,
		MemoryType:     item.MemoryType,
		Importance:     item.Importance,
		Confidence:     item.Confidence,
		Entities:       item.Entities,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
		LastAccessedAt: item.LastAccessedAt,
		AccessCount:    item.AccessCount,
		Score:          item.Score,
	}
}

// itemsFromStorage converts a slice of storage items.
func itemsFromStorage(items []*storage.Item) []*MemoryItem {
	result := make([]*MemoryItem, 0, len(items))
	for _, item := range items {
		result = append(result, itemFromStorage(item))
	}
	return result
}

// itemFromScored converts a ranked retrieval result, attaching the composite
// score and its breakdown.
func itemFromScored(scored intelligence.ScoredItem) *MemoryItem {
	item := itemFromStorage(scored.Item)
	item.Score = scored.Score
	breakdown := scored.Breakdown
	item.ScoreBreakdown = &breakdown
	return item
}

// itemsFromScored converts a slice of ranked retrieval results.
func itemsFromScored(scored []intelligence.ScoredItem) []*MemoryItem {
	result := make([]*MemoryItem, 0, len(scored))
	for _, s := range scored {
		result = append(result, itemFromScored(s))
	}
	return result
}
