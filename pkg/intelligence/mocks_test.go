package intelligence

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/recallmem/recall-go/pkg/llm"
	"github.com/recallmem/recall-go/pkg/storage"
)

// mockLLM returns canned responses in order, or a fixed response function.
type mockLLM struct {
	mu        sync.Mutex
	responses []string
	respond   func(prompt string) (string, error)
	err       error
	calls     int
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return m.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}})
}

func (m *mockLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.err != nil {
		return "", m.err
	}
	if m.respond != nil {
		var sb strings.Builder
		for _, msg := range messages {
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
		return m.respond(sb.String())
	}
	if len(m.responses) == 0 {
		return "", errors.New("mockLLM: no responses left")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *mockLLM) Close() error { return nil }

// mockEmbedder maps known texts to fixed vectors. Unknown texts hash to a
// deterministic pseudo-vector so cosine comparisons stay stable.
type mockEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}

	// Deterministic fallback vector derived from the text bytes.
	v := make([]float64, 4)
	for i, b := range []byte(text) {
		v[i%4] += float64(b) / 255
	}
	return v, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int { return 4 }
func (m *mockEmbedder) Close() error    { return nil }

// memStore is an in-memory VectorStore for tests.
type memStore struct {
	mu    sync.Mutex
	items map[string]*storage.Item
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]*storage.Item)}
}

func (s *memStore) Insert(ctx context.Context, item *storage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *item
	s.items[item.ID] = &copied
	return nil
}

func (s *memStore) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Item, error) {
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
		if len(opts.Types) > 0 && !typeIn(opts.Types, item.MemoryType) {
			continue
		}
		copied := *item
		copied.Score = CosineSimilarity(embedding, item.Embedding)
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

func (s *memStore) Get(ctx context.Context, id string, opts *storage.GetOptions) (*storage.Item, error) {
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

func (s *memStore) Update(ctx context.Context, id string, upd *storage.ItemUpdate, opts *storage.UpdateOptions) (*storage.Item, error) {
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

func (s *memStore) Delete(ctx context.Context, id string, opts *storage.DeleteOptions) error {
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

func (s *memStore) GetAll(ctx context.Context, opts *storage.GetAllOptions) ([]*storage.Item, error) {
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
		if len(opts.Types) > 0 && !typeIn(opts.Types, item.MemoryType) {
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

func (s *memStore) DeleteAll(ctx context.Context, opts *storage.DeleteAllOptions) error {
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

func (s *memStore) IncrementAccess(ctx context.Context, id string, at time.Time) error {
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

func (s *memStore) Close() error { return nil }

func typeIn(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
