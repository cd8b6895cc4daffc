// Package ledger owns all meal-event mutations and the daily aggregates
// derived from them.
//
// Every mutation goes through here so the invariant holds in one place: a
// day's totals always equal the sum of that day's surviving meal events,
// with each component floored at zero.
package ledger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/iqcalorie/caloriebot/internal/models"
	"github.com/iqcalorie/caloriebot/internal/store"
)

const dateLayout = "2006-01-02"

// Ledger applies meal mutations against the backing store.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

// New creates a ledger over the given store.
func New(s store.Store) *Ledger {
	return &Ledger{store: s, now: time.Now}
}

// Today returns the current ledger date in YYYY-MM-DD.
func (l *Ledger) Today() string {
	return l.now().Format(dateLayout)
}

// BeginTurn records the inbound message SID for idempotency. It returns
// ErrDuplicateTurn when the transport redelivered a message that was already
// processed; callers drop the turn without replying.
func (l *Ledger) BeginTurn(messageSID, phone string) error {
	fresh, err := l.store.RecordInbound(messageSID, phone)
	if err != nil {
		return fmt.Errorf("failed to record inbound message: %w", err)
	}
	if !fresh {
		slog.Info("Ledger dropping duplicate delivery", "message_sid", messageSID, "phone", phone)
		return models.ErrDuplicateTurn
	}
	return nil
}

// LogMeal appends a meal event and adds its macros to today's totals.
// A nil macro set means the reply carried no parseable values; the meal is
// not logged and ErrNoMacros tells the caller the turn stays conversational.
func (l *Ledger) LogMeal(phone string, m *models.Macros, description string) (*models.MealEvent, error) {
	if m == nil || m.IsZero() {
		return nil, models.ErrNoMacros
	}

	event := models.MealEvent{
		ID:          uuid.NewString(),
		UserPhone:   phone,
		Macros:      *m,
		Description: description,
		CreatedAt:   l.now(),
	}
	if err := l.store.InsertMealEvent(event); err != nil {
		return nil, fmt.Errorf("failed to insert meal event: %w", err)
	}
	if err := l.store.AdjustDailyTotals(phone, l.Today(), *m); err != nil {
		return nil, fmt.Errorf("failed to adjust daily totals: %w", err)
	}
	slog.Info("Ledger logged meal", "phone", phone, "kcal", m.Kcal, "description", description)
	return &event, nil
}

// UpdateLastMeal overwrites the most recent meal's macros with corrected
// values and applies only the difference to today's totals, so the aggregate
// never drifts from the event sum.
func (l *Ledger) UpdateLastMeal(phone string, corrected models.Macros) (*models.MealEvent, error) {
	last, err := l.lastMealToday(phone)
	if err != nil {
		return nil, err
	}

	diff := corrected.Sub(last.Macros)
	if err := l.store.UpdateMealEventMacros(last.ID, corrected); err != nil {
		return nil, fmt.Errorf("failed to update meal event: %w", err)
	}
	if err := l.store.AdjustDailyTotals(phone, l.Today(), diff); err != nil {
		return nil, fmt.Errorf("failed to adjust daily totals: %w", err)
	}

	slog.Info("Ledger updated meal", "phone", phone, "meal_id", last.ID,
		"kcal_before", last.Macros.Kcal, "kcal_after", corrected.Kcal)
	last.Macros = corrected
	return last, nil
}

// DeleteLastMeal removes the most recent meal and subtracts its macros from
// today's totals, flooring at zero.
func (l *Ledger) DeleteLastMeal(phone string) (*models.MealEvent, error) {
	last, err := l.lastMealToday(phone)
	if err != nil {
		return nil, err
	}

	if err := l.store.DeleteMealEvent(last.ID); err != nil {
		return nil, fmt.Errorf("failed to delete meal event: %w", err)
	}
	neg := models.Macros{}.Sub(last.Macros)
	if err := l.store.AdjustDailyTotals(phone, l.Today(), neg); err != nil {
		return nil, fmt.Errorf("failed to adjust daily totals: %w", err)
	}
	slog.Info("Ledger deleted meal", "phone", phone, "meal_id", last.ID, "kcal", last.Macros.Kcal)
	return last, nil
}

// DailyProgress joins today's totals with the user's goals, substituting
// defaults for any goal the profile does not carry.
func (l *Ledger) DailyProgress(phone string, profile *models.UserProfile) (models.DailyProgress, error) {
	used, err := l.store.GetDailyTotals(phone, l.Today())
	if err != nil {
		return models.DailyProgress{}, fmt.Errorf("failed to load daily totals: %w", err)
	}
	return models.DailyProgress{Used: used, Goals: profile.GoalsOrDefault()}, nil
}

// MealHistory returns the user's most recent meals, newest first.
func (l *Ledger) MealHistory(phone string, limit int) ([]models.MealEvent, error) {
	events, err := l.store.GetRecentMealEvents(phone, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load meal history: %w", err)
	}
	return events, nil
}

// lastMealToday finds the most recent meal, rejecting events from prior days.
// Corrections and deletions only apply to today's ledger; touching yesterday's
// meal would desync an aggregate that is no longer adjusted.
func (l *Ledger) lastMealToday(phone string) (*models.MealEvent, error) {
	events, err := l.store.GetRecentMealEvents(phone, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent meals: %w", err)
	}
	if len(events) == 0 {
		return nil, models.ErrNoRecentMeal
	}
	last := events[0]
	if last.CreatedAt.Format(dateLayout) != l.Today() {
		return nil, models.ErrNoRecentMeal
	}
	return &last, nil
}
