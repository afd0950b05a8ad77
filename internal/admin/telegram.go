package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/behzadon/rulebook/internal/metrics"
	"go.uber.org/zap"
)

const defaultTelegramAPI = "https://api.telegram.org"

var adminStatuses = map[string]bool{
	"creator":       true,
	"owner":         true,
	"administrator": true,
}

// TelegramChecker asks the Bot API for the member's status in the chat.
type TelegramChecker struct {
	apiURL     string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewTelegramChecker(apiURL, token string, timeout time.Duration, logger *zap.Logger) (*TelegramChecker, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("missing telegram bot token")
	}
	if apiURL == "" {
		apiURL = defaultTelegramAPI
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramChecker{
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "admin")),
	}, nil
}

type chatMemberResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		Status string `json:"status"`
	} `json:"result"`
}

func (c *TelegramChecker) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	query := url.Values{}
	query.Set("chat_id", strconv.FormatInt(chatID, 10))
	query.Set("user_id", strconv.FormatInt(userID, 10))
	endpoint := fmt.Sprintf("%s/bot%s/getChatMember?%s", c.apiURL, c.token, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAdminLookup("error")
		// The url carries the bot token.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return false, fmt.Errorf("get chat member: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordAdminLookup("error")
		return false, fmt.Errorf("read chat member: %w", err)
	}

	var body chatMemberResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		metrics.RecordAdminLookup("error")
		return false, fmt.Errorf("decode chat member: %w", err)
	}
	if !body.OK {
		metrics.RecordAdminLookup("error")
		return false, fmt.Errorf("get chat member: http %d: %s", resp.StatusCode, body.Description)
	}

	isAdmin := adminStatuses[body.Result.Status]
	c.logger.Debug("Chat member status",
		zap.Int64("chat_id", chatID),
		zap.Int64("user_id", userID),
		zap.String("status", body.Result.Status),
	)
	if isAdmin {
		metrics.RecordAdminLookup("admin")
	} else {
		metrics.RecordAdminLookup("member")
	}
	return isAdmin, nil
}
