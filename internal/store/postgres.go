// Package store provides storage backends for caloriebot.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/iqcalorie/caloriebot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on top of PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetProfile returns the profile for a phone, or nil if absent.
func (s *PostgresStore) GetProfile(phone string) (*models.UserProfile, error) {
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}
	row := s.db.QueryRow(`SELECT phone_number, first_name, email, diet_preference, fitness_goal, activity_level,
		kcal_goal, prot_goal, carb_goal, fat_goal, stripe_customer_id, stripe_subscription_id, created_at
		FROM users WHERE phone_number = $1`, phone)
	p, err := scanProfileRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query profile for %s: %w", phone, err)
	}
	return p, nil
}

// UpsertProfile inserts or replaces a profile row keyed by phone.
func (s *PostgresStore) UpsertProfile(p models.UserProfile) error {
	if p.Phone == "" {
		return models.ErrEmptyPhone
	}
	_, err := s.db.Exec(`INSERT INTO users (phone_number, first_name, email, diet_preference, fitness_goal, activity_level,
		kcal_goal, prot_goal, carb_goal, fat_goal, stripe_customer_id, stripe_subscription_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (phone_number) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			email = EXCLUDED.email,
			diet_preference = EXCLUDED.diet_preference,
			fitness_goal = EXCLUDED.fitness_goal,
			activity_level = EXCLUDED.activity_level,
			kcal_goal = EXCLUDED.kcal_goal,
			prot_goal = EXCLUDED.prot_goal,
			carb_goal = EXCLUDED.carb_goal,
			fat_goal = EXCLUDED.fat_goal,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id`,
		p.Phone, nilIfEmpty(p.FirstName), nilIfEmpty(p.Email), nilIfEmpty(p.DietPreference),
		nilIfEmpty(p.FitnessGoal), nilIfEmpty(p.ActivityLevel),
		p.Goals.Kcal, p.Goals.Prot, p.Goals.Carb, p.Goals.Fat,
		nilIfEmpty(p.CustomerID), nilIfEmpty(p.SubscriptionID), p.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore UpsertProfile failed", "error", err, "phone", p.Phone)
		return fmt.Errorf("failed to upsert profile for %s: %w", p.Phone, err)
	}
	slog.Debug("PostgresStore UpsertProfile succeeded", "phone", p.Phone)
	return nil
}

// InsertMealEvent appends an immutable meal event.
func (s *PostgresStore) InsertMealEvent(e models.MealEvent) error {
	_, err := s.db.Exec(`INSERT INTO meal_logs (id, user_phone, kcal, prot, carb, fat, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserPhone, e.Macros.Kcal, e.Macros.Prot, e.Macros.Carb, e.Macros.Fat, e.Description, e.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore InsertMealEvent failed", "error", err, "phone", e.UserPhone)
		return fmt.Errorf("failed to insert meal event for %s: %w", e.UserPhone, err)
	}
	slog.Debug("PostgresStore InsertMealEvent succeeded", "phone", e.UserPhone, "id", e.ID)
	return nil
}

// GetRecentMealEvents returns up to limit events for a phone, newest first.
func (s *PostgresStore) GetRecentMealEvents(phone string, limit int) ([]models.MealEvent, error) {
	rows, err := s.db.Query(`SELECT id, user_phone, kcal, prot, carb, fat, description, created_at
		FROM meal_logs WHERE user_phone = $1 ORDER BY created_at DESC LIMIT $2`, phone, limit)
	if err != nil {
		slog.Error("PostgresStore GetRecentMealEvents query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query meal events for %s: %w", phone, err)
	}
	defer rows.Close()
	return scanMealEvents(rows)
}

// UpdateMealEventMacros overwrites the macro fields of an event in place.
func (s *PostgresStore) UpdateMealEventMacros(id string, m models.Macros) error {
	res, err := s.db.Exec(`UPDATE meal_logs SET kcal = $2, prot = $3, carb = $4, fat = $5 WHERE id = $1`,
		id, m.Kcal, m.Prot, m.Carb, m.Fat)
	if err != nil {
		slog.Error("PostgresStore UpdateMealEventMacros failed", "error", err, "id", id)
		return fmt.Errorf("failed to update meal event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNoRecentMeal
	}
	return nil
}

// DeleteMealEvent removes an event permanently.
func (s *PostgresStore) DeleteMealEvent(id string) error {
	res, err := s.db.Exec(`DELETE FROM meal_logs WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteMealEvent failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete meal event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNoRecentMeal
	}
	return nil
}

// GetDailyTotals returns the running totals for (phone, date).
func (s *PostgresStore) GetDailyTotals(phone, date string) (models.Macros, error) {
	var m models.Macros
	err := s.db.QueryRow(`SELECT kcal_used, prot_used, carb_used, fat_used FROM daily_totals
		WHERE user_phone = $1 AND day = $2`, phone, date).Scan(&m.Kcal, &m.Prot, &m.Carb, &m.Fat)
	if err == sql.ErrNoRows {
		return models.Macros{}, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetDailyTotals failed", "error", err, "phone", phone, "date", date)
		return models.Macros{}, fmt.Errorf("failed to query daily totals for %s: %w", phone, err)
	}
	return m, nil
}

// AdjustDailyTotals applies a signed delta to the totals for (phone, date),
// flooring every component at zero.
func (s *PostgresStore) AdjustDailyTotals(phone, date string, delta models.Macros) error {
	clamped := delta.Clamped()
	_, err := s.db.Exec(`INSERT INTO daily_totals (user_phone, day, kcal_used, prot_used, carb_used, fat_used)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_phone, day) DO UPDATE SET
			kcal_used = GREATEST(daily_totals.kcal_used + $7, 0),
			prot_used = GREATEST(daily_totals.prot_used + $8, 0),
			carb_used = GREATEST(daily_totals.carb_used + $9, 0),
			fat_used = GREATEST(daily_totals.fat_used + $10, 0)`,
		phone, date, clamped.Kcal, clamped.Prot, clamped.Carb, clamped.Fat,
		delta.Kcal, delta.Prot, delta.Carb, delta.Fat)
	if err != nil {
		slog.Error("PostgresStore AdjustDailyTotals failed", "error", err, "phone", phone, "date", date)
		return fmt.Errorf("failed to adjust daily totals for %s: %w", phone, err)
	}
	slog.Debug("PostgresStore AdjustDailyTotals succeeded", "phone", phone, "date", date, "delta_kcal", delta.Kcal)
	return nil
}

// RecordInbound inserts an inbound message dedup record. Returns false on duplicates.
func (s *PostgresStore) RecordInbound(messageSID, phone string) (bool, error) {
	if messageSID == "" {
		return true, nil
	}
	res, err := s.db.Exec(`INSERT INTO inbound_dedup (message_sid, user_phone) VALUES ($1, $2)
		ON CONFLICT (message_sid) DO NOTHING`, messageSID, phone)
	if err != nil {
		slog.Error("PostgresStore RecordInbound failed", "error", err, "sid", messageSID)
		return false, fmt.Errorf("failed to record inbound message %s: %w", messageSID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for %s: %w", messageSID, err)
	}
	return n > 0, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
