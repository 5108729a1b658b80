// ABOUTME: SQL implementation of the Store interface over sqlite (modernc or mattn) and MySQL
// ABOUTME: Provides meal persistence with automatic schema creation and idempotent migrations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so text comparison matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// dialect captures the per-driver DDL differences
type dialect struct {
	name        string
	isSQLite    bool
	schema      string
	columnCheck string // query returning a row when table meals has the column (?)
}

var dialects = map[string]dialect{
	"sqlite":  sqliteDialect("sqlite"),
	"sqlite3": sqliteDialect("sqlite3"),
	"mysql": {
		name: "mysql",
		schema: `
			CREATE TABLE IF NOT EXISTS meals (
				id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
				created_at VARCHAR(32) NOT NULL,
				meal_name VARCHAR(255) NOT NULL,
				calories INT NOT NULL,
				proteins DOUBLE NOT NULL DEFAULT 0,
				fats DOUBLE NOT NULL DEFAULT 0,
				carbs DOUBLE NOT NULL DEFAULT 0,
				fiber DOUBLE NOT NULL DEFAULT 0,
				water_ml INT NOT NULL DEFAULT 0,
				meal_type VARCHAR(16) NOT NULL DEFAULT 'other',
				healthiness_score INT NOT NULL DEFAULT 5,
				notes TEXT NULL,
				INDEX idx_meals_created_at (created_at)
			)`,
		columnCheck: `SELECT 1 FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = 'meals' AND column_name = ?`,
	},
}

func sqliteDialect(driver string) dialect {
	return dialect{
		name:     driver,
		isSQLite: true,
		schema: `
			CREATE TABLE IF NOT EXISTS meals (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TEXT NOT NULL,
				meal_name TEXT NOT NULL,
				calories INTEGER NOT NULL,
				proteins REAL NOT NULL DEFAULT 0,
				fats REAL NOT NULL DEFAULT 0,
				carbs REAL NOT NULL DEFAULT 0,
				fiber REAL NOT NULL DEFAULT 0,
				water_ml INTEGER NOT NULL DEFAULT 0,
				meal_type TEXT NOT NULL DEFAULT 'other',
				healthiness_score INTEGER NOT NULL DEFAULT 5,
				notes TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_meals_created_at ON meals(created_at);`,
		columnCheck: `SELECT 1 FROM pragma_table_info('meals') WHERE name = ?`,
	}
}

// SQLStore implements the Store interface using database/sql
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// NewSQLiteStore creates a new pure-Go SQLite store at the given path.
func NewSQLiteStore(path string) (*SQLStore, error) {
	return Open("sqlite", path)
}

// Open connects to the database behind driver/dsn.
// The schema is automatically created if it doesn't exist.
// For sqlite files, parent directories are created if needed.
func Open(driver, dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	inMemory := d.isSQLite && (dsn == ":memory:" || strings.Contains(dsn, "mode=memory"))

	if d.isSQLite && !inMemory && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// sqlite allows a single writer, and each pooled connection to
	// :memory: would see its own empty database
	if d.isSQLite {
		db.SetMaxOpenConns(1)

		// WAL lets readers proceed during writes
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
	}

	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger,
	}

	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("store initialized", "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	if s.dialect.isSQLite {
		_, err := s.db.Exec(s.dialect.schema)
		return err
	}

	// MySQL rejects multi-statement Exec without multiStatements=true
	for _, stmt := range strings.Split(s.dialect.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// runMigrations adds columns introduced after the first schema.
// These are idempotent - safe to run multiple times.
func (s *SQLStore) runMigrations() error {
	migrations := []struct {
		column string
		apply  string
	}{
		{"fiber", `ALTER TABLE meals ADD COLUMN fiber REAL NOT NULL DEFAULT 0`},
		{"water_ml", `ALTER TABLE meals ADD COLUMN water_ml INTEGER NOT NULL DEFAULT 0`},
		{"healthiness_score", `ALTER TABLE meals ADD COLUMN healthiness_score INTEGER NOT NULL DEFAULT 5`},
		{"notes", `ALTER TABLE meals ADD COLUMN notes TEXT`},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(s.dialect.columnCheck, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking column %s: %w", m.column, err)
		}

		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding column %s: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}

	return nil
}

// CreateMeal inserts a meal and fills in its ID.
func (s *SQLStore) CreateMeal(ctx context.Context, meal *Meal) error {
	if meal.CreatedAt.IsZero() {
		meal.CreatedAt = time.Now()
	}
	meal.CreatedAt = meal.CreatedAt.UTC()

	query := `
		INSERT INTO meals (
			created_at, meal_name, calories, proteins, fats, carbs, fiber,
			water_ml, meal_type, healthiness_score, notes
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		meal.CreatedAt.Format(timeLayout),
		meal.MealName,
		meal.Calories,
		meal.Proteins,
		meal.Fats,
		meal.Carbs,
		meal.Fiber,
		meal.WaterML,
		string(meal.MealType),
		meal.HealthinessScore,
		nullString(meal.Notes),
	)
	if err != nil {
		return fmt.Errorf("inserting meal: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting meal id: %w", err)
	}
	meal.ID = id

	s.logger.Debug("saved meal",
		"id", meal.ID,
		"meal_name", meal.MealName,
		"calories", meal.Calories,
	)
	return nil
}

const mealColumns = `id, created_at, meal_name, calories, proteins, fats, carbs, fiber,
		water_ml, meal_type, healthiness_score, notes`

// GetMeal retrieves a meal by ID.
func (s *SQLStore) GetMeal(ctx context.Context, id int64) (*Meal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mealColumns+` FROM meals WHERE id = ?`, id)
	meal, err := scanMeal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return meal, err
}

// ListMealsBetween returns meals in [start, end), oldest first.
func (s *SQLStore) ListMealsBetween(ctx context.Context, start, end time.Time) ([]*Meal, error) {
	query := `SELECT ` + mealColumns + `
		FROM meals
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, id ASC`

	return s.queryMeals(ctx, query, start.UTC().Format(timeLayout), end.UTC().Format(timeLayout))
}

// ListRecentMeals returns the most recent meals, newest first.
func (s *SQLStore) ListRecentMeals(ctx context.Context, limit int) ([]*Meal, error) {
	query := `SELECT ` + mealColumns + `
		FROM meals
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	return s.queryMeals(ctx, query, limit)
}

func (s *SQLStore) queryMeals(ctx context.Context, query string, args ...any) ([]*Meal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying meals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	meals := []*Meal{}
	for rows.Next() {
		meal, err := scanMeal(rows)
		if err != nil {
			return nil, err
		}
		meals = append(meals, meal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating meal rows: %w", err)
	}

	return meals, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests and maintenance tasks.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeal(row rowScanner) (*Meal, error) {
	var (
		meal      Meal
		createdAt string
		mealType  string
		notes     sql.NullString
	)

	err := row.Scan(
		&meal.ID,
		&createdAt,
		&meal.MealName,
		&meal.Calories,
		&meal.Proteins,
		&meal.Fats,
		&meal.Carbs,
		&meal.Fiber,
		&meal.WaterML,
		&mealType,
		&meal.HealthinessScore,
		&notes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning meal: %w", err)
	}

	meal.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		// rows written by other tools may use plain RFC3339
		meal.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
	}
	meal.CreatedAt = meal.CreatedAt.UTC()
	meal.MealType = MealType(mealType)
	if notes.Valid {
		meal.Notes = &notes.String
	}

	return &meal, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)
