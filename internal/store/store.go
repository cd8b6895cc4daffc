// Package store provides storage backends for caloriebot.
//
// It persists user profiles, meal events, daily totals, and inbound message
// deduplication records across Postgres, SQLite, and in-memory backends.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/iqcalorie/caloriebot/internal/models"
)

// Store defines the persistence operations the conversational core depends on.
type Store interface {
	// GetProfile returns the profile for a phone, or nil if absent.
	GetProfile(phone string) (*models.UserProfile, error)
	// UpsertProfile inserts or replaces a profile row keyed by phone.
	UpsertProfile(p models.UserProfile) error

	// InsertMealEvent appends an immutable meal event.
	InsertMealEvent(e models.MealEvent) error
	// GetRecentMealEvents returns up to limit events for a phone, newest first.
	GetRecentMealEvents(phone string, limit int) ([]models.MealEvent, error)
	// UpdateMealEventMacros overwrites the macro fields of an event in place.
	UpdateMealEventMacros(id string, m models.Macros) error
	// DeleteMealEvent removes an event permanently.
	DeleteMealEvent(id string) error

	// GetDailyTotals returns the running totals for (phone, date); zero totals if absent.
	GetDailyTotals(phone, date string) (models.Macros, error)
	// AdjustDailyTotals applies a signed delta to the totals for (phone, date),
	// flooring every component at zero.
	AdjustDailyTotals(phone, date string, delta models.Macros) error

	// RecordInbound inserts an inbound message dedup record. Returns false if
	// the message SID was already recorded (duplicate delivery).
	RecordInbound(messageSID, phone string) (bool, error)

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore is a Store kept entirely in process memory. It backs tests
// and single-node development runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]models.UserProfile
	meals    map[string]models.MealEvent
	totals   map[string]models.Macros // key: phone|date
	inbound  map[string]time.Time     // key: message SID
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]models.UserProfile),
		meals:    make(map[string]models.MealEvent),
		totals:   make(map[string]models.Macros),
		inbound:  make(map[string]time.Time),
	}
}

func totalsKey(phone, date string) string { return phone + "|" + date }

// GetProfile returns the stored profile or nil when the phone is unknown.
func (s *InMemoryStore) GetProfile(phone string) (*models.UserProfile, error) {
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[phone]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

// UpsertProfile inserts or replaces a profile row.
func (s *InMemoryStore) UpsertProfile(p models.UserProfile) error {
	if p.Phone == "" {
		return models.ErrEmptyPhone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Phone] = p
	return nil
}

// InsertMealEvent appends a meal event.
func (s *InMemoryStore) InsertMealEvent(e models.MealEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meals[e.ID] = e
	return nil
}

// GetRecentMealEvents returns up to limit events for a phone, newest first.
func (s *InMemoryStore) GetRecentMealEvents(phone string, limit int) ([]models.MealEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []models.MealEvent
	for _, e := range s.meals {
		if e.UserPhone == phone {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// UpdateMealEventMacros overwrites the macro fields of an event.
func (s *InMemoryStore) UpdateMealEventMacros(id string, m models.Macros) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.meals[id]
	if !ok {
		return models.ErrNoRecentMeal
	}
	e.Macros = m
	s.meals[id] = e
	return nil
}

// DeleteMealEvent removes an event permanently.
func (s *InMemoryStore) DeleteMealEvent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meals[id]; !ok {
		return models.ErrNoRecentMeal
	}
	delete(s.meals, id)
	return nil
}

// GetDailyTotals returns the totals for (phone, date), zero-valued if absent.
func (s *InMemoryStore) GetDailyTotals(phone, date string) (models.Macros, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals[totalsKey(phone, date)], nil
}

// AdjustDailyTotals applies a signed delta, flooring components at zero.
func (s *InMemoryStore) AdjustDailyTotals(phone, date string, delta models.Macros) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := totalsKey(phone, date)
	s.totals[key] = s.totals[key].Add(delta).Clamped()
	return nil
}

// RecordInbound records a message SID, returning false on duplicates.
func (s *InMemoryStore) RecordInbound(messageSID, phone string) (bool, error) {
	if messageSID == "" {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageSID]; ok {
		return false, nil
	}
	s.inbound[messageSID] = time.Now()
	return true, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
