// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without a database and to inject failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	meals  map[int64]*Meal
	nextID int64
	err    error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		meals:  make(map[int64]*Meal),
		nextID: 1,
	}
}

// SetError makes every subsequent call fail with err. Pass nil to clear.
func (m *MockStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// CreateMeal stores a copy of meal and assigns its ID.
func (m *MockStore) CreateMeal(ctx context.Context, meal *Meal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	if meal.CreatedAt.IsZero() {
		meal.CreatedAt = time.Now()
	}
	meal.CreatedAt = meal.CreatedAt.UTC()
	meal.ID = m.nextID
	m.nextID++

	// Make a copy to avoid external modification
	stored := *meal
	m.meals[stored.ID] = &stored
	return nil
}

// GetMeal retrieves a meal by ID.
func (m *MockStore) GetMeal(ctx context.Context, id int64) (*Meal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}

	meal, ok := m.meals[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *meal
	return &result, nil
}

// ListMealsBetween returns meals in [start, end), oldest first.
func (m *MockStore) ListMealsBetween(ctx context.Context, start, end time.Time) ([]*Meal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}

	meals := []*Meal{}
	for _, meal := range m.meals {
		if !meal.CreatedAt.Before(start) && meal.CreatedAt.Before(end) {
			result := *meal
			meals = append(meals, &result)
		}
	}
	sortMeals(meals, false)
	return meals, nil
}

// ListRecentMeals returns up to limit meals, newest first.
func (m *MockStore) ListRecentMeals(ctx context.Context, limit int) ([]*Meal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}

	meals := make([]*Meal, 0, len(m.meals))
	for _, meal := range m.meals {
		result := *meal
		meals = append(meals, &result)
	}
	sortMeals(meals, true)

	if limit >= 0 && len(meals) > limit {
		meals = meals[:limit]
	}
	return meals, nil
}

// Ping reports the injected error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func sortMeals(meals []*Meal, newestFirst bool) {
	sort.Slice(meals, func(i, j int) bool {
		a, b := meals[i], meals[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
