package store

import (
	"database/sql"
	"fmt"

	"github.com/iqcalorie/caloriebot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanProfileRow scans a UserProfile from a single sql.Row.
func scanProfileRow(row *sql.Row) (*models.UserProfile, error) {
	var p models.UserProfile
	var firstName, email, dietPref, fitnessGoal, activityLevel, customerID, subscriptionID sql.NullString
	err := row.Scan(
		&p.Phone, &firstName, &email, &dietPref, &fitnessGoal, &activityLevel,
		&p.Goals.Kcal, &p.Goals.Prot, &p.Goals.Carb, &p.Goals.Fat,
		&customerID, &subscriptionID, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.FirstName = firstName.String
	p.Email = email.String
	p.DietPreference = dietPref.String
	p.FitnessGoal = fitnessGoal.String
	p.ActivityLevel = activityLevel.String
	p.CustomerID = customerID.String
	p.SubscriptionID = subscriptionID.String
	return &p, nil
}

// scanMealEvents scans all meal events from sql.Rows.
func scanMealEvents(rows *sql.Rows) ([]models.MealEvent, error) {
	var events []models.MealEvent
	for rows.Next() {
		var e models.MealEvent
		if err := rows.Scan(&e.ID, &e.UserPhone, &e.Macros.Kcal, &e.Macros.Prot, &e.Macros.Carb, &e.Macros.Fat,
			&e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan meal event failed: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meal event rows: %w", err)
	}
	return events, nil
}
