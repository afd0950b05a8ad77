package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/behzadon/rulebook/internal/domain"
)

type ruleModel struct {
	Number    int    `gorm:"primaryKey;autoIncrement:false"`
	Text      string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ruleModel) TableName() string { return "rules" }

func (m ruleModel) toDomain() domain.Rule {
	return domain.Rule{Number: m.Number, Text: m.Text, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

type pollModel struct {
	PollID          string `gorm:"primaryKey"`
	ChatID          int64  `gorm:"index;not null"`
	MessageID       int64
	CreatorUserID   int64
	Question        string `gorm:"not null"`
	Options         string `gorm:"not null"`
	Results         *string
	IsClosed        bool `gorm:"not null;default:false"`
	RuleNumber      *int
	ProposedContent *string
	AppliedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (pollModel) TableName() string { return "polls" }

func (m pollModel) toDomain() (domain.PollRecord, error) {
	poll := domain.PollRecord{
		PollID:        m.PollID,
		ChatID:        m.ChatID,
		MessageID:     m.MessageID,
		CreatorUserID: m.CreatorUserID,
		Question:      m.Question,
		IsClosed:      m.IsClosed,
		AppliedAt:     m.AppliedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(m.Options), &poll.Options); err != nil {
		return poll, fmt.Errorf("decode options of poll %s: %w", m.PollID, err)
	}
	if m.Results != nil {
		if err := json.Unmarshal([]byte(*m.Results), &poll.Results); err != nil {
			return poll, fmt.Errorf("decode results of poll %s: %w", m.PollID, err)
		}
	}
	if m.RuleNumber != nil {
		n := *m.RuleNumber
		poll.Hints.RuleNumber = &n
	}
	if m.ProposedContent != nil {
		poll.Hints.Content = *m.ProposedContent
	}
	return poll, nil
}

type reminderModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	ChatID    int64  `gorm:"index;not null"`
	UserID    int64  `gorm:"not null"`
	Text      string `gorm:"not null"`
	CreatedAt time.Time
}

func (reminderModel) TableName() string { return "reminders" }

func (m reminderModel) toDomain() domain.Reminder {
	return domain.Reminder{ID: m.ID, ChatID: m.ChatID, UserID: m.UserID, Text: m.Text, CreatedAt: m.CreatedAt}
}
