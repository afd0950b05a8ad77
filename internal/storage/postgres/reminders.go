package postgres

import (
	"context"

	"github.com/behzadon/rulebook/internal/domain"
)

func (s *Store) CreateReminder(ctx context.Context, reminder *domain.Reminder) error {
	query := `
		INSERT INTO reminders (chat_id, user_id, text, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at`
	err := s.db.QueryRowxContext(ctx, query, reminder.ChatID, reminder.UserID, reminder.Text).
		Scan(&reminder.ID, &reminder.CreatedAt)
	if err != nil {
		return repoError("create reminder", err)
	}
	return nil
}

func (s *Store) ListReminders(ctx context.Context, chatID int64) ([]domain.Reminder, error) {
	query := `SELECT id, chat_id, user_id, text, created_at FROM reminders WHERE chat_id = $1 ORDER BY id ASC`

	reminders := []domain.Reminder{}
	if err := s.db.SelectContext(ctx, &reminders, query, chatID); err != nil {
		return nil, repoError("list reminders", err)
	}
	return reminders, nil
}

func (s *Store) GetReminder(ctx context.Context, chatID, id int64) (*domain.Reminder, error) {
	query := `SELECT id, chat_id, user_id, text, created_at FROM reminders WHERE chat_id = $1 AND id = $2`

	var reminder domain.Reminder
	err := s.db.GetContext(ctx, &reminder, query, chatID, id)
	if isNoRows(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, repoError("get reminder", err)
	}
	return &reminder, nil
}

func (s *Store) DeleteReminder(ctx context.Context, chatID, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE chat_id = $1 AND id = $2`, chatID, id)
	if err != nil {
		return repoError("delete reminder", err)
	}
	return requireAffected(res, "delete reminder")
}
