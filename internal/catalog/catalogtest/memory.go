// Package catalogtest provides an in-memory catalog.Store for tests.
package catalogtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/catalog-sync/internal/catalog"
)

type Store struct {
	mu       sync.Mutex
	products map[string]*catalog.Product
	order    []string

	// Fail, when set, is consulted before every call with the operation
	// name ("find", "create", "update") and the SKU involved.
	Fail func(op, sku string) error

	Calls map[string]int
}

var _ catalog.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		products: map[string]*catalog.Product{},
		Calls:    map[string]int{},
	}
}

func (s *Store) FindBySKU(_ context.Context, sku string) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["find"]++
	if err := s.fail("find", sku); err != nil {
		return nil, err
	}
	for _, id := range s.order {
		if p := s.products[id]; p.SKU == sku {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) Create(_ context.Context, f catalog.Fields) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["create"]++
	if err := s.fail("create", f.SKU); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := &catalog.Product{ID: uuid.NewString(), Fields: f, CreatedAt: now, UpdatedAt: now}
	s.products[p.ID] = p
	s.order = append(s.order, p.ID)

	cp := *p
	return &cp, nil
}

func (s *Store) Update(_ context.Context, id string, f catalog.Fields) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls["update"]++
	p, ok := s.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	if err := s.fail("update", p.SKU); err != nil {
		return nil, err
	}

	f.SKU = p.SKU
	f.Featured = p.Featured
	f.SourceURL = p.SourceURL
	p.Fields = f
	p.UpdatedAt = time.Now().UTC()

	cp := *p
	return &cp, nil
}

// Put stores p as is, for seeding.
func (s *Store) Put(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := s.products[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.products[p.ID] = &p
}

// All returns the stored products in insertion order.
func (s *Store) All() []catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Product, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.products[id])
	}
	return out
}

func (s *Store) fail(op, sku string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op, sku)
}
