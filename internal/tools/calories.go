// ABOUTME: The calorie tracker tool set: add_meal and the summary/history queries
// ABOUTME: Each tool decodes a typed argument struct and applies its defaults before calling the engine

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/2389/calories-gateway/internal/nutrition"
	"github.com/2389/calories-gateway/internal/store"
)

// Tool names
const (
	ToolAddMeal        = "add_meal"
	ToolTodaySummary   = "get_today_summary"
	ToolWeeklySummary  = "get_weekly_summary"
	ToolMonthlySummary = "get_monthly_summary"
	ToolMealHistory    = "get_meal_history"
)

const defaultHealthiness = 5

const (
	noArgumentsSchema = `{"type":"object","properties":{},"required":[]}`
	mealHistorySchema = `{"type":"object","properties":{"limit":{"type":"integer","description":"Number of meals to return (default: 10)"}},"required":[]}`

	addMealInputSchema = `{"type":"object","properties":{` +
		`"meal_name":{"type":"string","description":"Name of the meal or dish"},` +
		`"calories":{"type":"integer","description":"Estimated calories (kcal)"},` +
		`"proteins":{"type":"number","description":"Protein content in grams"},` +
		`"fats":{"type":"number","description":"Fat content in grams"},` +
		`"carbs":{"type":"number","description":"Carbohydrate content in grams"},` +
		`"fiber":{"type":"number","description":"Fiber content in grams"},` +
		`"water_ml":{"type":"integer","description":"Water content in milliliters"},` +
		`"meal_type":{"type":"string","enum":["breakfast","lunch","dinner","snack","other"],"description":"Type of meal"},` +
		`"healthiness_score":{"type":"integer","minimum":1,"maximum":10,"description":"Health score from 1 (unhealthy) to 10 (very healthy)"},` +
		`"notes":{"type":"string","description":"Additional notes about the meal"}` +
		`},"required":["meal_name","calories"]}`
)

// CalorieTools returns the tracker's tools in advertised order.
func CalorieTools(e *nutrition.Engine) []*Tool {
	h := &calorieHandlers{engine: e}
	return []*Tool{
		{
			Definition: Definition{
				Name:        ToolAddMeal,
				Description: "Add a new meal to the calories tracker. Use this when the user sends food photos or describes what they ate.",
				InputSchema: json.RawMessage(addMealInputSchema),
			},
			Handler: h.AddMeal,
		},
		{
			Definition: Definition{
				Name:        ToolTodaySummary,
				Description: "Get nutrition summary for today including total calories, macros, and all meals.",
				InputSchema: json.RawMessage(noArgumentsSchema),
			},
			Handler: h.TodaySummary,
		},
		{
			Definition: Definition{
				Name:        ToolWeeklySummary,
				Description: "Get nutrition summary for the last 7 days with daily breakdown.",
				InputSchema: json.RawMessage(noArgumentsSchema),
			},
			Handler: h.WeeklySummary,
		},
		{
			Definition: Definition{
				Name:        ToolMonthlySummary,
				Description: "Get nutrition summary for the current month.",
				InputSchema: json.RawMessage(noArgumentsSchema),
			},
			Handler: h.MonthlySummary,
		},
		{
			Definition: Definition{
				Name:        ToolMealHistory,
				Description: "Get recent meal history.",
				InputSchema: json.RawMessage(mealHistorySchema),
			},
			Handler: h.MealHistory,
		},
	}
}

type calorieHandlers struct {
	engine *nutrition.Engine
}

// Numbers are decoded as float64 so clients sending 350.0 for an integer field still work.
type addMealInput struct {
	MealName         string   `json:"meal_name"`
	Calories         *float64 `json:"calories"`
	Proteins         *float64 `json:"proteins"`
	Fats             *float64 `json:"fats"`
	Carbs            *float64 `json:"carbs"`
	Fiber            *float64 `json:"fiber"`
	WaterML          *float64 `json:"water_ml"`
	MealType         string   `json:"meal_type"`
	HealthinessScore *float64 `json:"healthiness_score"`
	Notes            *string  `json:"notes"`
}

func (in addMealInput) toMeal() (nutrition.MealInput, error) {
	if in.MealName == "" {
		return nutrition.MealInput{}, fmt.Errorf("%w: meal_name is required", nutrition.ErrInvalidInput)
	}
	if in.Calories == nil {
		return nutrition.MealInput{}, fmt.Errorf("%w: calories is required", nutrition.ErrInvalidInput)
	}

	mealType := store.MealType(in.MealType)
	if mealType == "" {
		mealType = store.MealTypeOther
	}

	return nutrition.MealInput{
		MealName:         in.MealName,
		Calories:         roundedInt(in.Calories, 0),
		Proteins:         floatOr(in.Proteins, 0),
		Fats:             floatOr(in.Fats, 0),
		Carbs:            floatOr(in.Carbs, 0),
		Fiber:            floatOr(in.Fiber, 0),
		WaterML:          roundedInt(in.WaterML, 0),
		MealType:         mealType,
		HealthinessScore: roundedInt(in.HealthinessScore, defaultHealthiness),
		Notes:            in.Notes,
	}, nil
}

func (h *calorieHandlers) AddMeal(ctx context.Context, args json.RawMessage) (any, error) {
	var in addMealInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	meal, err := in.toMeal()
	if err != nil {
		return nil, err
	}

	return h.engine.AddMeal(ctx, meal)
}

func (h *calorieHandlers) TodaySummary(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.engine.TodaySummary(ctx)
}

func (h *calorieHandlers) WeeklySummary(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.engine.WeeklySummary(ctx)
}

func (h *calorieHandlers) MonthlySummary(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.engine.MonthlySummary(ctx)
}

type mealHistoryInput struct {
	Limit *float64 `json:"limit"`
}

func (h *calorieHandlers) MealHistory(ctx context.Context, args json.RawMessage) (any, error) {
	var in mealHistoryInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	return h.engine.History(ctx, roundedInt(in.Limit, nutrition.DefaultHistoryLimit))
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// roundedInt rounds to the nearest integer, saturating at the int32 range so
// huge inputs still clamp the right way downstream.
func roundedInt(v *float64, def int) int {
	if v == nil {
		return def
	}
	return int(math.Max(math.MinInt32, math.Min(math.MaxInt32, math.Round(*v))))
}
