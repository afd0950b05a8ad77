package sqlite

import (
	"context"

	"github.com/behzadon/rulebook/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) UpsertRule(ctx context.Context, number int, text string) (*domain.Rule, error) {
	if err := domain.ValidRuleNumber(number); err != nil {
		return nil, err
	}

	now := s.now()
	row := ruleModel{Number: number, Text: text, CreatedAt: now, UpdatedAt: now}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		create := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "number"}},
			DoUpdates: clause.Assignments(map[string]any{
				"text":       text,
				"updated_at": now,
			}),
		}).Create(&row)
		if create.Error != nil {
			return create.Error
		}
		return tx.Where("number = ?", number).First(&row).Error
	})
	if err != nil {
		return nil, s.repoError("upsert rule", err)
	}

	rule := row.toDomain()
	return &rule, nil
}

func (s *Store) GetRule(ctx context.Context, number int) (*domain.Rule, bool, error) {
	var row ruleModel
	err := s.db.WithContext(ctx).Where("number = ?", number).First(&row).Error
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.repoError("get rule", err)
	}
	rule := row.toDomain()
	return &rule, true, nil
}

func (s *Store) ListRules(ctx context.Context) ([]domain.Rule, error) {
	var rows []ruleModel
	if err := s.db.WithContext(ctx).Order("number ASC").Find(&rows).Error; err != nil {
		return nil, s.repoError("list rules", err)
	}

	rules := make([]domain.Rule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, row.toDomain())
	}
	return rules, nil
}

func (s *Store) DeleteRule(ctx context.Context, number int) error {
	if err := s.db.WithContext(ctx).Where("number = ?", number).Delete(&ruleModel{}).Error; err != nil {
		return s.repoError("delete rule", err)
	}
	return nil
}

func (s *Store) RuleExists(ctx context.Context, number int) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ruleModel{}).Where("number = ?", number).Count(&count).Error; err != nil {
		return false, s.repoError("rule exists", err)
	}
	return count > 0, nil
}

func (s *Store) NextRuleNumber(ctx context.Context) (int, error) {
	var max int
	err := s.db.WithContext(ctx).Model(&ruleModel{}).Select("COALESCE(MAX(number), 0)").Scan(&max).Error
	if err != nil {
		return 0, s.repoError("next rule number", err)
	}
	return max + 1, nil
}
