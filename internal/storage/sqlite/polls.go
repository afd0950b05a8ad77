package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/behzadon/rulebook/internal/domain"
	"gorm.io/gorm/clause"
)

func (s *Store) UpsertPoll(ctx context.Context, seen domain.PollSeen) error {
	options := seen.Options
	if options == nil {
		options = []string{}
	}
	encoded, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}

	now := s.now()
	row := pollModel{
		PollID:        seen.PollID,
		ChatID:        seen.ChatID,
		MessageID:     seen.MessageID,
		CreatorUserID: seen.CreatorUserID,
		Question:      seen.Question,
		Options:       string(encoded),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	create := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "poll_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"chat_id":         row.ChatID,
			"message_id":      row.MessageID,
			"creator_user_id": row.CreatorUserID,
			"question":        row.Question,
			"options":         row.Options,
			"updated_at":      now,
		}),
	}).Create(&row)
	if create.Error != nil {
		return s.repoError("upsert poll", create.Error)
	}
	return nil
}

func (s *Store) UpdateTally(ctx context.Context, pollID string, results map[string]int, isClosed bool) error {
	if results == nil {
		results = map[string]int{}
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	update := s.db.WithContext(ctx).Model(&pollModel{}).
		Where("poll_id = ?", pollID).
		Updates(map[string]any{
			"results":    string(encoded),
			"is_closed":  isClosed,
			"updated_at": s.now(),
		})
	if update.Error != nil {
		return s.repoError("update tally", update.Error)
	}
	if update.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) GetPoll(ctx context.Context, pollID string) (*domain.PollRecord, error) {
	var row pollModel
	err := s.db.WithContext(ctx).Where("poll_id = ?", pollID).First(&row).Error
	if isNotFound(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, s.repoError("get poll", err)
	}

	poll, err := row.toDomain()
	if err != nil {
		return nil, s.repoError("get poll", err)
	}
	return &poll, nil
}

func (s *Store) SetPollHints(ctx context.Context, pollID string, hints domain.Hints) error {
	var content *string
	if hints.Content != "" {
		c := hints.Content
		content = &c
	}

	update := s.db.WithContext(ctx).Model(&pollModel{}).
		Where("poll_id = ?", pollID).
		Updates(map[string]any{
			"rule_number":      hints.RuleNumber,
			"proposed_content": content,
			"updated_at":       s.now(),
		})
	if update.Error != nil {
		return s.repoError("set poll hints", update.Error)
	}
	if update.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) MarkPollApplied(ctx context.Context, pollID string, at time.Time) error {
	update := s.db.WithContext(ctx).Model(&pollModel{}).
		Where("poll_id = ? AND applied_at IS NULL", pollID).
		Updates(map[string]any{
			"applied_at": at.UTC(),
			"updated_at": s.now(),
		})
	if update.Error != nil {
		return s.repoError("mark poll applied", update.Error)
	}
	if update.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&pollModel{}).Where("poll_id = ?", pollID).Count(&count).Error; err != nil {
		return s.repoError("mark poll applied", err)
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListPolls(ctx context.Context, chatID int64, filter domain.PollFilter) ([]domain.PollRecord, error) {
	query := s.db.WithContext(ctx).Where("chat_id = ?", chatID)
	switch filter {
	case domain.PollFilterOpen:
		query = query.Where("is_closed = ?", false)
	case domain.PollFilterClosed:
		query = query.Where("is_closed = ?", true)
	}

	var rows []pollModel
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, s.repoError("list polls", err)
	}

	polls := make([]domain.PollRecord, 0, len(rows))
	for _, row := range rows {
		poll, err := row.toDomain()
		if err != nil {
			return nil, s.repoError("list polls", err)
		}
		polls = append(polls, poll)
	}
	return polls, nil
}
