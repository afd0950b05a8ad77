package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/lib/pq"
)

const pollColumns = `poll_id, chat_id, message_id, creator_user_id, question, options, results,
	is_closed, rule_number, proposed_content, applied_at, created_at, updated_at`

// optionsArray keeps a poll without options off the NOT NULL constraint.
func optionsArray(options []string) pq.StringArray {
	if options == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(options)
}

type pollRow struct {
	PollID          string         `db:"poll_id"`
	ChatID          int64          `db:"chat_id"`
	MessageID       int64          `db:"message_id"`
	CreatorUserID   int64          `db:"creator_user_id"`
	Question        string         `db:"question"`
	Options         pq.StringArray `db:"options"`
	Results         []byte         `db:"results"`
	IsClosed        bool           `db:"is_closed"`
	RuleNumber      sql.NullInt64  `db:"rule_number"`
	ProposedContent sql.NullString `db:"proposed_content"`
	AppliedAt       sql.NullTime   `db:"applied_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r pollRow) toDomain() (domain.PollRecord, error) {
	poll := domain.PollRecord{
		PollID:        r.PollID,
		ChatID:        r.ChatID,
		MessageID:     r.MessageID,
		CreatorUserID: r.CreatorUserID,
		Question:      r.Question,
		Options:       []string(r.Options),
		IsClosed:      r.IsClosed,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Results != nil {
		if err := json.Unmarshal(r.Results, &poll.Results); err != nil {
			return poll, fmt.Errorf("decode results of poll %s: %w", r.PollID, err)
		}
	}
	if r.RuleNumber.Valid {
		n := int(r.RuleNumber.Int64)
		poll.Hints.RuleNumber = &n
	}
	poll.Hints.Content = r.ProposedContent.String
	if r.AppliedAt.Valid {
		at := r.AppliedAt.Time
		poll.AppliedAt = &at
	}
	return poll, nil
}

func (s *Store) UpsertPoll(ctx context.Context, seen domain.PollSeen) error {
	query := `
		INSERT INTO polls (poll_id, chat_id, message_id, creator_user_id, question, options, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (poll_id) DO UPDATE
		SET chat_id = EXCLUDED.chat_id,
			message_id = EXCLUDED.message_id,
			creator_user_id = EXCLUDED.creator_user_id,
			question = EXCLUDED.question,
			options = EXCLUDED.options,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		seen.PollID, seen.ChatID, seen.MessageID, seen.CreatorUserID,
		seen.Question, optionsArray(seen.Options),
	)
	if err != nil {
		return repoError("upsert poll", err)
	}
	return nil
}

func (s *Store) UpdateTally(ctx context.Context, pollID string, results map[string]int, isClosed bool) error {
	if results == nil {
		results = map[string]int{}
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	query := `UPDATE polls SET results = $2, is_closed = $3, updated_at = NOW() WHERE poll_id = $1`
	res, err := s.db.ExecContext(ctx, query, pollID, payload, isClosed)
	if err != nil {
		return repoError("update tally", err)
	}
	return requireAffected(res, "update tally")
}

func (s *Store) GetPoll(ctx context.Context, pollID string) (*domain.PollRecord, error) {
	var row pollRow
	err := s.db.GetContext(ctx, &row, `SELECT `+pollColumns+` FROM polls WHERE poll_id = $1`, pollID)
	if isNoRows(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, repoError("get poll", err)
	}
	poll, err := row.toDomain()
	if err != nil {
		return nil, repoError("get poll", err)
	}
	return &poll, nil
}

func (s *Store) SetPollHints(ctx context.Context, pollID string, hints domain.Hints) error {
	var number sql.NullInt64
	if hints.RuleNumber != nil {
		number = sql.NullInt64{Int64: int64(*hints.RuleNumber), Valid: true}
	}
	content := sql.NullString{String: hints.Content, Valid: hints.Content != ""}

	query := `UPDATE polls SET rule_number = $2, proposed_content = $3, updated_at = NOW() WHERE poll_id = $1`
	res, err := s.db.ExecContext(ctx, query, pollID, number, content)
	if err != nil {
		return repoError("set poll hints", err)
	}
	return requireAffected(res, "set poll hints")
}

func (s *Store) MarkPollApplied(ctx context.Context, pollID string, at time.Time) error {
	query := `UPDATE polls SET applied_at = COALESCE(applied_at, $2), updated_at = NOW() WHERE poll_id = $1`
	res, err := s.db.ExecContext(ctx, query, pollID, at.UTC())
	if err != nil {
		return repoError("mark poll applied", err)
	}
	return requireAffected(res, "mark poll applied")
}

func (s *Store) ListPolls(ctx context.Context, chatID int64, filter domain.PollFilter) ([]domain.PollRecord, error) {
	query := `SELECT ` + pollColumns + ` FROM polls WHERE chat_id = $1`
	switch filter {
	case domain.PollFilterOpen:
		query += ` AND is_closed = FALSE`
	case domain.PollFilterClosed:
		query += ` AND is_closed = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryxContext(ctx, query, chatID)
	if err != nil {
		return nil, repoError("list polls", err)
	}
	defer closeRows(rows, s.logger)

	var polls []domain.PollRecord
	for rows.Next() {
		var row pollRow
		if err := rows.StructScan(&row); err != nil {
			return nil, repoError("scan poll", err)
		}
		poll, err := row.toDomain()
		if err != nil {
			return nil, repoError("list polls", err)
		}
		polls = append(polls, poll)
	}
	if err := rows.Err(); err != nil {
		return nil, repoError("list polls", err)
	}
	return polls, nil
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return repoError(op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
