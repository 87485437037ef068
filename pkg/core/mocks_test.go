package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/recallmem/recall-go/pkg/intelligence"
	"github.com/recallmem/recall-go/pkg/llm"
	"github.com/recallmem/recall-go/pkg/storage"
)

// fakeLLM routes prompts to canned behaviors: extraction prompts get the
// configured extraction JSON, classification prompts get the configured
// relation JSON.
type fakeLLM struct {
	mu             sync.Mutex
	extraction     string
	classification string
	err            error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return f.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}})
}

func (f *fakeLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}

	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(msg.Content)
	}
	prompt := sb.String()

	if strings.Contains(prompt, "# New Statement") {
		return f.classification, nil
	}
	return f.extraction, nil
}

func (f *fakeLLM) Close() error { return nil }

// fakeEmbedder returns fixed vectors for known texts and a deterministic
// byte-derived vector otherwise.
type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}

	v := make([]float64, 4)
	for i, b := range []byte(text) {
		v[i%4] += float64(b) / 255
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 4 }
func (f *fakeEmbedder) Close() error    { return nil }

// fakeStore is an in-memory VectorStore for facade tests.
type fakeStore struct {
	mu    sync.Mutex
	items map[string]*storage.Item
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*storage.Item)}
}

func (s *fakeStore) Insert(ctx context.Context, item *storage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *item
	s.items[item.ID] = &copied
	return nil
}

func (s *fakeStore) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Item, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*storage.Item
	for _, item := range s.items {
		if opts.UserID != "" && item.UserID != opts.UserID {
			continue
		}
		if len(opts.Types) > 0 && !hasType(opts.Types, item.MemoryType) {
			continue
		}
		copied := *item
		copied.Score = intelligence.CosineSimilarity(embedding, item.Embedding)
		if copied.Score < opts.MinScore {
			continue
		}
		results = append(results, &copied)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (s *fakeStore) Get(ctx context.Context, id string, opts *storage.GetOptions) (*storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if opts != nil && opts.UserID != "" && item.UserID != opts.UserID {
		return nil, storage.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (s *fakeStore) Update(ctx context.Context, id string, upd *storage.ItemUpdate, opts *storage.UpdateOptions) (*storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if opts != nil && opts.UserID != "" && item.UserID != opts.UserID {
		return nil, storage.ErrNotFound
	}

	item.Content = upd.Content
	item.Embedding = upd.Embedding
	item.Confidence = upd.Confidence
	item.Importance = upd.Importance
	if upd.Entities != nil {
		item.Entities = upd.Entities
	}
	item.UpdatedAt = time.Now()

	copied := *item
	return &copied, nil
}

func (s *fakeStore) Delete(ctx context.Context, id string, opts *storage.DeleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return storage.ErrNotFound
	}
	if opts != nil && opts.UserID != "" && item.UserID != opts.UserID {
		return storage.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *fakeStore) GetAll(ctx context.Context, opts *storage.GetAllOptions) ([]*storage.Item, error) {
	if opts == nil {
		opts = &storage.GetAllOptions{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*storage.Item
	for _, item := range s.items {
		if opts.UserID != "" && item.UserID != opts.UserID {
			continue
		}
		if len(opts.Types) > 0 && !hasType(opts.Types, item.MemoryType) {
			continue
		}
		if opts.Since != nil && item.CreatedAt.Before(*opts.Since) {
			continue
		}
		copied := *item
		results = append(results, &copied)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if opts.Limit > 0 {
		start := opts.Offset
		if start > len(results) {
			start = len(results)
		}
		end := start + opts.Limit
		if end > len(results) {
			end = len(results)
		}
		results = results[start:end]
	}
	return results, nil
}

func (s *fakeStore) DeleteAll(ctx context.Context, opts *storage.DeleteAllOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts == nil || opts.UserID == "" {
		s.items = make(map[string]*storage.Item)
		return nil
	}
	for id, item := range s.items {
		if item.UserID == opts.UserID {
			delete(s.items, id)
		}
	}
	return nil
}

func (s *fakeStore) IncrementAccess(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return storage.ErrNotFound
	}
	item.AccessCount++
	t := at
	item.LastAccessedAt = &t
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func hasType(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
