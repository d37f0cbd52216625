package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process. Change callbacks run synchronously on the
// writing goroutine after the write is visible, without holding the store lock, so
// concurrent writers may invoke the same callback concurrently.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Fields
	subs        map[string]*memorySubscription
}

type memorySubscription struct {
	collection string
	filters    []compiledFilter
	order      *Order
	onChange   ChangeFunc
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Fields),
		subs:        make(map[string]*memorySubscription),
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return Document{ID: id, Fields: cloneFields(fields)}, nil
}

func (s *MemoryStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	id := uuid.NewString()
	if err := s.write(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	return s.write(ctx, collection, id, fields, false)
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	return s.write(ctx, collection, id, fields, true)
}

func (s *MemoryStore) write(ctx context.Context, collection, id string, fields Fields, mustExist bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	plain, incs, err := normalize(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]Fields)
		s.collections[collection] = docs
	}
	existing, exists := docs[id]
	if mustExist && !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	docs[id] = merge(existing, plain, incs)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, filters []Filter, order *Order) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compiled, err := compileFilters(filters)
	if err != nil {
		return nil, err
	}
	return s.query(collection, compiled, order), nil
}

func (s *MemoryStore) query(collection string, filters []compiledFilter, order *Order) []Document {
	s.mu.RLock()
	docs := make([]Document, 0, len(s.collections[collection]))
	for id, fields := range s.collections[collection] {
		docs = append(docs, Document{ID: id, Fields: cloneFields(fields)})
	}
	s.mu.RUnlock()
	return filterAndSort(docs, filters, order)
}

func (s *MemoryStore) Subscribe(ctx context.Context, collection string, filters []Filter, order *Order, onChange ChangeFunc) (Unsubscribe, error) {
	if onChange == nil {
		return nil, fmt.Errorf("store: subscribe: nil callback")
	}
	compiled, err := compileFilters(filters)
	if err != nil {
		return nil, err
	}
	sub := &memorySubscription{collection: collection, filters: compiled, order: order, onChange: onChange}
	id := uuid.NewString()

	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	remove := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, remove)
	unsubscribe := func() {
		stop()
		remove()
	}

	s.emit(sub)
	return unsubscribe, nil
}

func (s *MemoryStore) notify(collection string) {
	s.mu.RLock()
	var targets []*memorySubscription
	for _, sub := range s.subs {
		if sub.collection == collection {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		s.emit(sub)
	}
}

func (s *MemoryStore) emit(sub *memorySubscription) {
	sub.onChange(s.query(sub.collection, sub.filters, sub.order))
}

var _ Store = (*MemoryStore)(nil)
