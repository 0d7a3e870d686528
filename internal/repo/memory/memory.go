package memory

import (
	"context"
	"sync"

	"github.com/convomesh/sentinel/internal/domain"
	"github.com/convomesh/sentinel/internal/repo"
)

var _ repo.ResultStore = (*Store)(nil)

type Store struct {
	mu      sync.RWMutex
	results []*domain.ResultRecord
}

func New() *Store {
	return &Store{results: make([]*domain.ResultRecord, 0, 128)}
}

func (m *Store) Append(ctx context.Context, r *domain.ResultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.results = append(m.results, &cp)
	return nil
}

func (m *Store) LastByCheck(ctx context.Context) (map[string]*domain.ResultRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*domain.ResultRecord)
	for _, r := range m.results {
		cur := out[r.CheckKey]
		if cur == nil || r.CheckedAt.After(cur.CheckedAt) {
			out[r.CheckKey] = r
		}
	}
	return out, nil
}
