package repofake

import "sync"

// FakeKVRepo is an in-memory implementation of session.Repo for tests.
type FakeKVRepo struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewFakeKVRepo creates a new in-memory key/value repository
func NewFakeKVRepo() *FakeKVRepo {
	return &FakeKVRepo{values: make(map[string]string)}
}

func (r *FakeKVRepo) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

func (r *FakeKVRepo) Set(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
}

func (r *FakeKVRepo) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
}

// Len returns the number of stored keys. Used by tests to assert that
// Clear removed everything.
func (r *FakeKVRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}
