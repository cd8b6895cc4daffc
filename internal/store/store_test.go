package store

import (
	"syscall"
	"testing"
	"time"

	"github.com/iqcalorie/caloriebot/internal/models"
)

func TestInMemoryStoreProfiles(t *testing.T) {
	s := NewInMemoryStore()

	p, err := s.GetProfile("14155550100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Fatal("expected nil profile for unknown phone")
	}

	err = s.UpsertProfile(models.UserProfile{
		Phone: "14155550100",
		Goals: models.Macros{Kcal: 1800, Prot: 140, Carb: 180, Fat: 60},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err = s.GetProfile("14155550100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil || p.Goals.Kcal != 1800 {
		t.Errorf("profile not stored or retrieved correctly: %+v", p)
	}

	if err := s.UpsertProfile(models.UserProfile{}); err != models.ErrEmptyPhone {
		t.Errorf("expected ErrEmptyPhone, got %v", err)
	}
}

func TestInMemoryStoreMealEvents(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Now()

	for i, desc := range []string{"eggs", "toast", "salad"} {
		err := s.InsertMealEvent(models.MealEvent{
			ID:          desc,
			UserPhone:   "14155550100",
			Macros:      models.Macros{Kcal: 100 * (i + 1)},
			Description: desc,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	events, err := s.GetRecentMealEvents("14155550100", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Description != "salad" {
		t.Errorf("expected newest-first order, got %q first", events[0].Description)
	}

	if err := s.UpdateMealEventMacros("toast", models.Macros{Kcal: 50}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeleteMealEvent("eggs"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeleteMealEvent("eggs"); err != models.ErrNoRecentMeal {
		t.Errorf("expected ErrNoRecentMeal on double delete, got %v", err)
	}
}

func TestInMemoryStoreDailyTotals(t *testing.T) {
	s := NewInMemoryStore()

	got, err := s.GetDailyTotals("14155550100", "2026-09-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero totals, got %+v", got)
	}

	if err := s.AdjustDailyTotals("14155550100", "2026-09-01", models.Macros{Kcal: 500, Prot: 30, Carb: 50, Fat: 20}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AdjustDailyTotals("14155550100", "2026-09-01", models.Macros{Kcal: -800, Prot: -10, Carb: -10, Fat: -5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ = s.GetDailyTotals("14155550100", "2026-09-01")
	if got.Kcal != 0 {
		t.Errorf("expected kcal floored at zero, got %d", got.Kcal)
	}
	if got.Prot != 20 || got.Carb != 40 || got.Fat != 15 {
		t.Errorf("unexpected totals after adjustment: %+v", got)
	}
}

func TestInMemoryStoreRecordInbound(t *testing.T) {
	s := NewInMemoryStore()

	first, err := s.RecordInbound("SM123", "14155550100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first {
		t.Error("first delivery should not be a duplicate")
	}

	second, err := s.RecordInbound("SM123", "14155550100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second {
		t.Error("retried delivery should be reported as duplicate")
	}

	// Messages without a SID are never deduplicated.
	ok, _ := s.RecordInbound("", "14155550100")
	if !ok {
		t.Error("empty SID should pass through")
	}
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance; set DATABASE_URL to enable.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pg, err := NewPostgresStore(WithDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pg.Close()
	pg.db.Exec("DELETE FROM daily_totals WHERE user_phone = '14155550199'")

	if err := pg.AdjustDailyTotals("14155550199", "2026-09-01", models.Macros{Kcal: 300, Prot: 18, Carb: 30, Fat: 12}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := pg.GetDailyTotals("14155550199", "2026-09-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kcal != 300 {
		t.Errorf("totals not stored or retrieved correctly in Postgres: %+v", got)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
