// Package memorystore keeps entitlements in process memory. State is lost on
// restart; use the redis or postgres adapters for durability.
package memorystore

import (
	"context"
	"sync"
	"time"

	"scriptgate/internal/entitlement"
)

type entry struct {
	mu  sync.Mutex
	rec entitlement.Entitlement
}

// Store is an in-process entitlement.Store. Each identity has its own lock, so
// different identities never contend.
type Store struct {
	records sync.Map // userID -> *entry
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

var _ entitlement.Store = (*Store)(nil)

func (s *Store) GetOrCreate(ctx context.Context, userID string, now time.Time) (entitlement.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return entitlement.Entitlement{}, err
	}
	e, ok := s.lookup(userID)
	if !ok {
		v, _ := s.records.LoadOrStore(userID, &entry{rec: entitlement.New(userID, now)})
		e = v.(*entry)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

func (s *Store) Get(ctx context.Context, userID string) (entitlement.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return entitlement.Entitlement{}, err
	}
	e, ok := s.lookup(userID)
	if !ok {
		return entitlement.Entitlement{}, entitlement.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

func (s *Store) ApplyTransitions(ctx context.Context, userID string, t entitlement.Transitions) (entitlement.Entitlement, entitlement.Transitions, error) {
	if err := ctx.Err(); err != nil {
		return entitlement.Entitlement{}, entitlement.Transitions{}, err
	}
	e, ok := s.lookup(userID)
	if !ok {
		return entitlement.Entitlement{}, entitlement.Transitions{}, entitlement.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	applied := t.ApplyTo(&e.rec)
	return e.rec.Clone(), applied, nil
}

func (s *Store) Activate(ctx context.Context, userID string, now time.Time) (entitlement.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return entitlement.Entitlement{}, err
	}
	e, ok := s.lookup(userID)
	if !ok {
		return entitlement.Entitlement{}, entitlement.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	entitlement.ActivateAt(&e.rec, now)
	return e.rec.Clone(), nil
}

// Len returns the number of identities seen so far.
func (s *Store) Len() int {
	n := 0
	s.records.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Store) lookup(userID string) (*entry, bool) {
	v, ok := s.records.Load(userID)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}
