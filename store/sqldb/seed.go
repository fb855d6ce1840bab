package sqldb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Category is a lookup entry offered to users when classifying transactions.
type Category struct {
	ID   string
	Name string
	Kind string // EXPENSE or INCOME
}

// DefaultCategories are inserted on first start.
var DefaultCategories = []Category{
	{Name: "Food", Kind: "EXPENSE"},
	{Name: "Transport", Kind: "EXPENSE"},
	{Name: "Housing", Kind: "EXPENSE"},
	{Name: "Utilities", Kind: "EXPENSE"},
	{Name: "Health", Kind: "EXPENSE"},
	{Name: "Education", Kind: "EXPENSE"},
	{Name: "Leisure", Kind: "EXPENSE"},
	{Name: "Shopping", Kind: "EXPENSE"},
	{Name: "Subscriptions", Kind: "EXPENSE"},
	{Name: "Other Expenses", Kind: "EXPENSE"},
	{Name: "Salary", Kind: "INCOME"},
	{Name: "Investments", Kind: "INCOME"},
	{Name: "Other Income", Kind: "INCOME"},
}

// SeedCategories inserts categories whose name is not present yet and
// returns how many were added. Safe to call on every start.
func (s *Store) SeedCategories(ctx context.Context, categories []Category) (int, error) {
	added := 0
	err := s.inTx(ctx, func(q *queries) error {
		for _, c := range categories {
			id := c.ID
			if id == "" {
				id = uuid.NewString()
			}
			result, err := q.exec(ctx, `
				INSERT INTO categories (id, name, kind, created_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (name) DO NOTHING
			`, id, c.Name, c.Kind, q.dialect.timeArg(q.now()))
			if err != nil {
				return fmt.Errorf("seed category %q: %w", c.Name, err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	return added, err
}

// ListCategories returns all categories by name.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.query(ctx, `SELECT id, name, kind FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
