// ABOUTME: Nutrition aggregation engine: records meals and builds day/week/month summaries
// ABOUTME: All day boundaries are UTC; the clock and the analysis source are injectable

package nutrition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/calories-gateway/internal/store"
)

// ErrInvalidInput is returned when a meal cannot be recorded as given.
var ErrInvalidInput = errors.New("invalid input")

// DefaultHistoryLimit is used when a history request has no usable limit.
const DefaultHistoryLimit = 10

const dateLayout = "2006-01-02"

// Period names the window an analysis covers.
type Period string

// Analysis periods
const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Analyzer produces free-text commentary for a period. Failures are not fatal.
type Analyzer interface {
	Analyze(ctx context.Context, period Period) (string, error)
}

// Engine computes nutrition summaries over a store.
type Engine struct {
	store    store.Store
	analyzer Analyzer
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithAnalyzer enables analysis enrichment of summaries.
func WithAnalyzer(a Analyzer) Option {
	return func(e *Engine) { e.analyzer = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine reading and writing meals through s.
func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "nutrition")
	return e
}

// MealInput is a meal as submitted, before clamping.
type MealInput struct {
	MealName         string
	Calories         int
	Proteins         float64
	Fats             float64
	Carbs            float64
	Fiber            float64
	WaterML          int
	MealType         store.MealType
	HealthinessScore int
	Notes            *string
}

// AddMealResult is returned after a meal is stored.
type AddMealResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Meal    *store.Meal `json:"meal"`
}

// AddMeal clamps and stores a meal.
func (e *Engine) AddMeal(ctx context.Context, in MealInput) (*AddMealResult, error) {
	name := strings.TrimSpace(in.MealName)
	if name == "" {
		return nil, fmt.Errorf("%w: meal_name is required", ErrInvalidInput)
	}

	mealType := in.MealType
	if !mealType.Valid() {
		mealType = store.MealTypeOther
	}

	meal := &store.Meal{
		CreatedAt:        e.now().UTC(),
		MealName:         name,
		Calories:         max(0, in.Calories),
		Proteins:         max(0, in.Proteins),
		Fats:             max(0, in.Fats),
		Carbs:            max(0, in.Carbs),
		Fiber:            max(0, in.Fiber),
		WaterML:          max(0, in.WaterML),
		MealType:         mealType,
		HealthinessScore: ClampHealthiness(in.HealthinessScore),
		Notes:            in.Notes,
	}

	if err := e.store.CreateMeal(ctx, meal); err != nil {
		return nil, fmt.Errorf("saving meal: %w", err)
	}

	e.logger.Info("meal added", "id", meal.ID, "meal_name", meal.MealName, "calories", meal.Calories)

	return &AddMealResult{
		Success: true,
		Message: fmt.Sprintf("Meal '%s' added successfully", meal.MealName),
		Meal:    meal,
	}, nil
}

// ClampHealthiness bounds a healthiness score to [1, 10].
func ClampHealthiness(score int) int {
	return max(1, min(10, score))
}

// DaySummary aggregates the current UTC day.
type DaySummary struct {
	Date           string        `json:"date"`
	TotalMeals     int           `json:"total_meals"`
	TotalCalories  int           `json:"total_calories"`
	TotalProteins  float64       `json:"total_proteins"`
	TotalFats      float64       `json:"total_fats"`
	TotalCarbs     float64       `json:"total_carbs"`
	TotalFiber     float64       `json:"total_fiber"`
	TotalWaterML   int           `json:"total_water_ml"`
	AvgHealthiness float64       `json:"avg_healthiness"`
	Meals          []*store.Meal `json:"meals"`
	Analysis       string        `json:"analysis,omitempty"`
}

// TodaySummary totals the meals logged since 00:00 UTC today.
func (e *Engine) TodaySummary(ctx context.Context) (*DaySummary, error) {
	start := startOfDay(e.now())

	meals, err := e.store.ListMealsBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("loading today's meals: %w", err)
	}

	t := sumMeals(meals)
	summary := &DaySummary{
		Date:           start.Format(dateLayout),
		TotalMeals:     t.count,
		TotalCalories:  t.calories,
		TotalProteins:  round1(t.proteins),
		TotalFats:      round1(t.fats),
		TotalCarbs:     round1(t.carbs),
		TotalFiber:     round1(t.fiber),
		TotalWaterML:   t.water,
		AvgHealthiness: round1(t.avgHealthiness()),
		Meals:          meals,
	}
	if summary.Meals == nil {
		summary.Meals = []*store.Meal{}
	}
	summary.Analysis = e.analyze(ctx, PeriodDay)

	return summary, nil
}

// DayBucket is one day of a weekly breakdown.
type DayBucket struct {
	Calories       int     `json:"calories"`
	Proteins       float64 `json:"proteins"`
	Fats           float64 `json:"fats"`
	Carbs          float64 `json:"carbs"`
	MealsCount     int     `json:"meals_count"`
	AvgHealthiness float64 `json:"avg_healthiness"`
}

// WeekSummary aggregates the last seven UTC days including today.
type WeekSummary struct {
	Period           string               `json:"period"`
	TotalMeals       int                  `json:"total_meals"`
	TotalCalories    int                  `json:"total_calories"`
	TotalProteins    float64              `json:"total_proteins"`
	TotalFats        float64              `json:"total_fats"`
	TotalCarbs       float64              `json:"total_carbs"`
	TotalFiber       float64              `json:"total_fiber"`
	TotalWaterML     int                  `json:"total_water_ml"`
	AvgHealthiness   float64              `json:"avg_healthiness"`
	AvgDailyCalories int                  `json:"avg_daily_calories"`
	DailyBreakdown   map[string]DayBucket `json:"daily_breakdown"`
	Analysis         string               `json:"analysis,omitempty"`
}

// WeeklySummary always returns seven buckets, today-6 through today, and
// averages calories over seven days regardless of how many were tracked.
func (e *Engine) WeeklySummary(ctx context.Context) (*WeekSummary, error) {
	today := startOfDay(e.now())
	weekStart := today.AddDate(0, 0, -6)

	meals, err := e.store.ListMealsBetween(ctx, weekStart, today.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("loading weekly meals: %w", err)
	}

	byDay := make(map[string][]*store.Meal, 7)
	for _, m := range meals {
		day := m.CreatedAt.UTC().Format(dateLayout)
		byDay[day] = append(byDay[day], m)
	}

	breakdown := make(map[string]DayBucket, 7)
	for i := 0; i < 7; i++ {
		day := weekStart.AddDate(0, 0, i).Format(dateLayout)
		t := sumMeals(byDay[day])
		breakdown[day] = DayBucket{
			Calories:       t.calories,
			Proteins:       round1(t.proteins),
			Fats:           round1(t.fats),
			Carbs:          round1(t.carbs),
			MealsCount:     t.count,
			AvgHealthiness: round1(t.avgHealthiness()),
		}
	}

	t := sumMeals(meals)
	summary := &WeekSummary{
		Period:           weekStart.Format(dateLayout) + " - " + today.Format(dateLayout),
		TotalMeals:       t.count,
		TotalCalories:    t.calories,
		TotalProteins:    round1(t.proteins),
		TotalFats:        round1(t.fats),
		TotalCarbs:       round1(t.carbs),
		TotalFiber:       round1(t.fiber),
		TotalWaterML:     t.water,
		AvgHealthiness:   round1(t.avgHealthiness()),
		AvgDailyCalories: roundInt(float64(t.calories) / 7),
		DailyBreakdown:   breakdown,
	}
	summary.Analysis = e.analyze(ctx, PeriodWeek)

	return summary, nil
}

// MonthSummary aggregates the current UTC calendar month to date.
type MonthSummary struct {
	Month            string         `json:"month"`
	DaysTracked      int            `json:"days_tracked"`
	TotalMeals       int            `json:"total_meals"`
	TotalCalories    int            `json:"total_calories"`
	TotalProteins    float64        `json:"total_proteins"`
	TotalFats        float64        `json:"total_fats"`
	TotalCarbs       float64        `json:"total_carbs"`
	TotalFiber       float64        `json:"total_fiber"`
	TotalWaterML     int            `json:"total_water_ml"`
	AvgDailyCalories int            `json:"avg_daily_calories"`
	AvgHealthiness   float64        `json:"avg_healthiness"`
	MealTypes        map[string]int `json:"meal_types"`
	Analysis         string         `json:"analysis,omitempty"`
}

// MonthlySummary divides calories by the number of elapsed days in the
// month, today included.
func (e *Engine) MonthlySummary(ctx context.Context) (*MonthSummary, error) {
	today := startOfDay(e.now())
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	daysElapsed := today.Day()

	meals, err := e.store.ListMealsBetween(ctx, monthStart, today.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("loading monthly meals: %w", err)
	}

	mealTypes := make(map[string]int)
	for _, m := range meals {
		mealTypes[string(m.MealType)]++
	}

	t := sumMeals(meals)
	summary := &MonthSummary{
		Month:            monthStart.Format("2006-01"),
		DaysTracked:      daysElapsed,
		TotalMeals:       t.count,
		TotalCalories:    t.calories,
		TotalProteins:    round1(t.proteins),
		TotalFats:        round1(t.fats),
		TotalCarbs:       round1(t.carbs),
		TotalFiber:       round1(t.fiber),
		TotalWaterML:     t.water,
		AvgDailyCalories: roundInt(float64(t.calories) / float64(daysElapsed)),
		AvgHealthiness:   round1(t.avgHealthiness()),
		MealTypes:        mealTypes,
	}
	summary.Analysis = e.analyze(ctx, PeriodMonth)

	return summary, nil
}

// MealHistory lists recent meals, newest first.
type MealHistory struct {
	Count int           `json:"count"`
	Meals []*store.Meal `json:"meals"`
}

// History returns up to limit meals, newest first. A limit below 1 means
// DefaultHistoryLimit.
func (e *Engine) History(ctx context.Context, limit int) (*MealHistory, error) {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}

	meals, err := e.store.ListRecentMeals(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("loading meal history: %w", err)
	}
	if meals == nil {
		meals = []*store.Meal{}
	}

	return &MealHistory{Count: len(meals), Meals: meals}, nil
}

// analyze fetches commentary for a summary. Errors are logged and dropped.
func (e *Engine) analyze(ctx context.Context, period Period) string {
	if e.analyzer == nil {
		return ""
	}
	text, err := e.analyzer.Analyze(ctx, period)
	if err != nil {
		e.logger.Warn("analysis unavailable", "period", period, "error", err)
		return ""
	}
	return text
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
