package postgres

import (
	"context"

	"github.com/behzadon/rulebook/internal/domain"
)

func (s *Store) UpsertRule(ctx context.Context, number int, text string) (*domain.Rule, error) {
	if err := domain.ValidRuleNumber(number); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO rules (number, text, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (number) DO UPDATE
		SET text = EXCLUDED.text, updated_at = NOW()
		RETURNING number, text, created_at, updated_at`

	var rule domain.Rule
	if err := s.db.GetContext(ctx, &rule, query, number, text); err != nil {
		return nil, repoError("upsert rule", err)
	}
	return &rule, nil
}

func (s *Store) GetRule(ctx context.Context, number int) (*domain.Rule, bool, error) {
	query := `SELECT number, text, created_at, updated_at FROM rules WHERE number = $1`

	var rule domain.Rule
	err := s.db.GetContext(ctx, &rule, query, number)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, repoError("get rule", err)
	}
	return &rule, true, nil
}

func (s *Store) ListRules(ctx context.Context) ([]domain.Rule, error) {
	query := `SELECT number, text, created_at, updated_at FROM rules ORDER BY number ASC`

	rules := []domain.Rule{}
	if err := s.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, repoError("list rules", err)
	}
	return rules, nil
}

func (s *Store) DeleteRule(ctx context.Context, number int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE number = $1`, number); err != nil {
		return repoError("delete rule", err)
	}
	return nil
}

func (s *Store) RuleExists(ctx context.Context, number int) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM rules WHERE number = $1)`
	if err := s.db.GetContext(ctx, &exists, query, number); err != nil {
		return false, repoError("rule exists", err)
	}
	return exists, nil
}

func (s *Store) NextRuleNumber(ctx context.Context) (int, error) {
	var next int
	if err := s.db.GetContext(ctx, &next, `SELECT COALESCE(MAX(number), 0) + 1 FROM rules`); err != nil {
		return 0, repoError("next rule number", err)
	}
	return next, nil
}
