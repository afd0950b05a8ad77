package sqlite

import (
	"context"

	"github.com/behzadon/rulebook/internal/domain"
)

func (s *Store) CreateReminder(ctx context.Context, reminder *domain.Reminder) error {
	row := reminderModel{
		ChatID:    reminder.ChatID,
		UserID:    reminder.UserID,
		Text:      reminder.Text,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return s.repoError("create reminder", err)
	}
	reminder.ID = row.ID
	reminder.CreatedAt = row.CreatedAt
	return nil
}

func (s *Store) ListReminders(ctx context.Context, chatID int64) ([]domain.Reminder, error) {
	var rows []reminderModel
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, s.repoError("list reminders", err)
	}

	reminders := make([]domain.Reminder, 0, len(rows))
	for _, row := range rows {
		reminders = append(reminders, row.toDomain())
	}
	return reminders, nil
}

func (s *Store) GetReminder(ctx context.Context, chatID, id int64) (*domain.Reminder, error) {
	var row reminderModel
	err := s.db.WithContext(ctx).Where("chat_id = ? AND id = ?", chatID, id).First(&row).Error
	if isNotFound(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, s.repoError("get reminder", err)
	}
	reminder := row.toDomain()
	return &reminder, nil
}

func (s *Store) DeleteReminder(ctx context.Context, chatID, id int64) error {
	res := s.db.WithContext(ctx).Where("chat_id = ? AND id = ?", chatID, id).Delete(&reminderModel{})
	if res.Error != nil {
		return s.repoError("delete reminder", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
