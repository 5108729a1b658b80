// ABOUTME: Store interface and data types for calories-gateway persistence
// ABOUTME: Defines the Meal record, meal types and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUnsupportedDriver is returned by Open for drivers without a dialect
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// MealType classifies a meal
type MealType string

// Meal types accepted by the tracker
const (
	MealTypeBreakfast MealType = "breakfast"
	MealTypeLunch     MealType = "lunch"
	MealTypeDinner    MealType = "dinner"
	MealTypeSnack     MealType = "snack"
	MealTypeOther     MealType = "other"
)

// MealTypes lists every meal type in display order
var MealTypes = []MealType{
	MealTypeBreakfast,
	MealTypeLunch,
	MealTypeDinner,
	MealTypeSnack,
	MealTypeOther,
}

// Valid reports whether t is a known meal type
func (t MealType) Valid() bool {
	for _, known := range MealTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Meal is one logged food intake event. Timestamps are UTC.
type Meal struct {
	ID               int64     `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	MealName         string    `json:"meal_name"`
	Calories         int       `json:"calories"`
	Proteins         float64   `json:"proteins"`
	Fats             float64   `json:"fats"`
	Carbs            float64   `json:"carbs"`
	Fiber            float64   `json:"fiber"`
	WaterML          int       `json:"water_ml"`
	MealType         MealType  `json:"meal_type"`
	HealthinessScore int       `json:"healthiness_score"`
	Notes            *string   `json:"notes"`
}

// Store defines the persistence contract used by the nutrition engine.
// Each call is independent; implementations must be safe for concurrent use.
type Store interface {
	// CreateMeal inserts a meal, assigning ID and (if zero) CreatedAt.
	CreateMeal(ctx context.Context, meal *Meal) error

	// GetMeal returns a single meal by ID or ErrNotFound.
	GetMeal(ctx context.Context, id int64) (*Meal, error)

	// ListMealsBetween returns meals with start <= created_at < end, oldest first.
	ListMealsBetween(ctx context.Context, start, end time.Time) ([]*Meal, error)

	// ListRecentMeals returns up to limit meals, newest first.
	ListRecentMeals(ctx context.Context, limit int) ([]*Meal, error)

	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}
