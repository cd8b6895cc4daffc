// Package store provides storage backends for caloriebot.
//
// This file implements the SQLite-backed store for single-node deployments.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "embed"

	"github.com/iqcalorie/caloriebot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on top of SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store based on provided options.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite database", "error", err)
		return nil, err
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")
	return &SQLiteStore{db: db}, nil
}

// GetProfile returns the profile for a phone, or nil if absent.
func (s *SQLiteStore) GetProfile(phone string) (*models.UserProfile, error) {
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}
	row := s.db.QueryRow(`SELECT phone_number, first_name, email, diet_preference, fitness_goal, activity_level,
		kcal_goal, prot_goal, carb_goal, fat_goal, stripe_customer_id, stripe_subscription_id, created_at
		FROM users WHERE phone_number = ?`, phone)
	p, err := scanProfileRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query profile for %s: %w", phone, err)
	}
	return p, nil
}

// UpsertProfile inserts or replaces a profile row keyed by phone.
func (s *SQLiteStore) UpsertProfile(p models.UserProfile) error {
	if p.Phone == "" {
		return models.ErrEmptyPhone
	}
	_, err := s.db.Exec(`INSERT INTO users (phone_number, first_name, email, diet_preference, fitness_goal, activity_level,
		kcal_goal, prot_goal, carb_goal, fat_goal, stripe_customer_id, stripe_subscription_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (phone_number) DO UPDATE SET
			first_name = excluded.first_name,
			email = excluded.email,
			diet_preference = excluded.diet_preference,
			fitness_goal = excluded.fitness_goal,
			activity_level = excluded.activity_level,
			kcal_goal = excluded.kcal_goal,
			prot_goal = excluded.prot_goal,
			carb_goal = excluded.carb_goal,
			fat_goal = excluded.fat_goal,
			stripe_customer_id = excluded.stripe_customer_id,
			stripe_subscription_id = excluded.stripe_subscription_id`,
		p.Phone, nilIfEmpty(p.FirstName), nilIfEmpty(p.Email), nilIfEmpty(p.DietPreference),
		nilIfEmpty(p.FitnessGoal), nilIfEmpty(p.ActivityLevel),
		p.Goals.Kcal, p.Goals.Prot, p.Goals.Carb, p.Goals.Fat,
		nilIfEmpty(p.CustomerID), nilIfEmpty(p.SubscriptionID), p.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore UpsertProfile failed", "error", err, "phone", p.Phone)
		return fmt.Errorf("failed to upsert profile for %s: %w", p.Phone, err)
	}
	return nil
}

// InsertMealEvent appends an immutable meal event.
func (s *SQLiteStore) InsertMealEvent(e models.MealEvent) error {
	_, err := s.db.Exec(`INSERT INTO meal_logs (id, user_phone, kcal, prot, carb, fat, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserPhone, e.Macros.Kcal, e.Macros.Prot, e.Macros.Carb, e.Macros.Fat, e.Description, e.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore InsertMealEvent failed", "error", err, "phone", e.UserPhone)
		return fmt.Errorf("failed to insert meal event for %s: %w", e.UserPhone, err)
	}
	return nil
}

// GetRecentMealEvents returns up to limit events for a phone, newest first.
func (s *SQLiteStore) GetRecentMealEvents(phone string, limit int) ([]models.MealEvent, error) {
	rows, err := s.db.Query(`SELECT id, user_phone, kcal, prot, carb, fat, description, created_at
		FROM meal_logs WHERE user_phone = ? ORDER BY created_at DESC LIMIT ?`, phone, limit)
	if err != nil {
		slog.Error("SQLiteStore GetRecentMealEvents query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query meal events for %s: %w", phone, err)
	}
	defer rows.Close()
	return scanMealEvents(rows)
}

// UpdateMealEventMacros overwrites the macro fields of an event in place.
func (s *SQLiteStore) UpdateMealEventMacros(id string, m models.Macros) error {
	res, err := s.db.Exec(`UPDATE meal_logs SET kcal = ?, prot = ?, carb = ?, fat = ? WHERE id = ?`,
		m.Kcal, m.Prot, m.Carb, m.Fat, id)
	if err != nil {
		slog.Error("SQLiteStore UpdateMealEventMacros failed", "error", err, "id", id)
		return fmt.Errorf("failed to update meal event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNoRecentMeal
	}
	return nil
}

// DeleteMealEvent removes an event permanently.
func (s *SQLiteStore) DeleteMealEvent(id string) error {
	res, err := s.db.Exec(`DELETE FROM meal_logs WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteMealEvent failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete meal event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNoRecentMeal
	}
	return nil
}

// GetDailyTotals returns the running totals for (phone, date).
func (s *SQLiteStore) GetDailyTotals(phone, date string) (models.Macros, error) {
	var m models.Macros
	err := s.db.QueryRow(`SELECT kcal_used, prot_used, carb_used, fat_used FROM daily_totals
		WHERE user_phone = ? AND day = ?`, phone, date).Scan(&m.Kcal, &m.Prot, &m.Carb, &m.Fat)
	if err == sql.ErrNoRows {
		return models.Macros{}, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetDailyTotals failed", "error", err, "phone", phone, "date", date)
		return models.Macros{}, fmt.Errorf("failed to query daily totals for %s: %w", phone, err)
	}
	return m, nil
}

// AdjustDailyTotals applies a signed delta to the totals for (phone, date),
// flooring every component at zero.
func (s *SQLiteStore) AdjustDailyTotals(phone, date string, delta models.Macros) error {
	clamped := delta.Clamped()
	_, err := s.db.Exec(`INSERT INTO daily_totals (user_phone, day, kcal_used, prot_used, carb_used, fat_used)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_phone, day) DO UPDATE SET
			kcal_used = MAX(kcal_used + ?, 0),
			prot_used = MAX(prot_used + ?, 0),
			carb_used = MAX(carb_used + ?, 0),
			fat_used = MAX(fat_used + ?, 0)`,
		phone, date, clamped.Kcal, clamped.Prot, clamped.Carb, clamped.Fat,
		delta.Kcal, delta.Prot, delta.Carb, delta.Fat)
	if err != nil {
		slog.Error("SQLiteStore AdjustDailyTotals failed", "error", err, "phone", phone, "date", date)
		return fmt.Errorf("failed to adjust daily totals for %s: %w", phone, err)
	}
	return nil
}

// RecordInbound inserts an inbound message dedup record. Returns false on duplicates.
func (s *SQLiteStore) RecordInbound(messageSID, phone string) (bool, error) {
	if messageSID == "" {
		return true, nil
	}
	res, err := s.db.Exec(`INSERT OR IGNORE INTO inbound_dedup (message_sid, user_phone) VALUES (?, ?)`,
		messageSID, phone)
	if err != nil {
		slog.Error("SQLiteStore RecordInbound failed", "error", err, "sid", messageSID)
		return false, fmt.Errorf("failed to record inbound message %s: %w", messageSID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for %s: %w", messageSID, err)
	}
	return n > 0, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
