package store

import (
	"context"
	"sync"
)

// MemoryStore keeps everything in slices. The HTTP server calls it from
// many goroutines, so all access goes through mu.
type MemoryStore struct {
	mu      sync.RWMutex
	catalog *Catalog
	records []TransactionRecord
	cards   []Card
}

func NewMemoryStore(cat *Catalog) *MemoryStore {
	return &MemoryStore{
		catalog: cat,
		records: append([]TransactionRecord(nil), cat.Transactions...),
		cards:   append([]Card(nil), cat.Cards...),
	}
}

func (m *MemoryStore) List(ctx context.Context) ([]TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TransactionRecord{}, m.records...), nil
}

func (m *MemoryStore) Get(ctx context.Context, id int) (*TestCaseDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexOf(id)
	if i < 0 {
		return nil, notFound(id)
	}
	return m.catalog.detail(m.records[i]), nil
}

func (m *MemoryStore) Create(ctx context.Context, fields RecordFields) (*TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// ids follow the last appended record, 1 when empty.
	last := 0
	if len(m.records) > 0 {
		last = m.records[len(m.records)-1].ID
	}
	rec := TransactionRecord{
		ID:               last + 1,
		ResponseTime:     fields.ResponseTime,
		TransactionValue: fields.TransactionValue,
		TransactionDate:  fields.TransactionDate,
	}
	m.records = append(m.records, rec)
	return &rec, nil
}

func (m *MemoryStore) Update(ctx context.Context, id int, patch RecordPatch) (*TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return nil, notFound(id)
	}
	patch.apply(&m.records[i])
	rec := m.records[i]
	return &rec, nil
}

func (m *MemoryStore) ListCards(ctx context.Context) ([]Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Card{}, m.cards...), nil
}

func (m *MemoryStore) CreateCard(ctx context.Context, title string) (*Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := 0
	if len(m.cards) > 0 {
		last = m.cards[len(m.cards)-1].ID
	}
	card := Card{ID: last + 1, Title: title}
	m.cards = append(m.cards, card)
	return &card, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) indexOf(id int) int {
	for i := range m.records {
		if m.records[i].ID == id {
			return i
		}
	}
	return -1
}
