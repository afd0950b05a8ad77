package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/behzadon/rulebook/internal/auth"
	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/logging"
	"github.com/behzadon/rulebook/internal/metrics"
	"github.com/behzadon/rulebook/internal/notification"
	"github.com/behzadon/rulebook/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handler struct {
	service     service.Service
	logger      *zap.Logger
	rateLimiter *RateLimiter
}

func NewHandler(service service.Service, rateLimiter *RateLimiter, logger *zap.Logger) *Handler {
	return &Handler{
		service:     service,
		logger:      logger,
		rateLimiter: rateLimiter,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, jwtManager auth.JWTManagerInterface, metricsEnabled bool) {
	if metricsEnabled {
		r.Use(metrics.MetricsMiddleware())
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	r.GET("/healthz", h.health)

	api := r.Group("/api")
	api.Use(auth.AuthMiddleware(jwtManager, h.logger))
	{
		api.POST("/polls", h.pollSeen)
		api.GET("/polls/:poll_id", h.getPoll)
		api.PUT("/polls/:poll_id/tally", h.updateTally)
		api.PUT("/polls/:poll_id/hints", h.seedHints)

		api.GET("/rules", h.listRules)
		api.GET("/rules/:number", h.getRule)

		chats := api.Group("/chats/:chat_id")
		chats.POST("/apply", h.rateLimiter.RateLimit(), h.apply)
		chats.GET("/polls", h.listPolls)
		chats.POST("/reminders", h.addReminder)
		chats.GET("/reminders", h.listReminders)
		chats.DELETE("/reminders/:id", h.deleteReminder)
	}
}

func errorJSON(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"status":  "error",
		"message": message,
	})
}

// statusFor maps store and lookup errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPollNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidRuleNumber):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// applyStatus maps an apply failure kind onto an HTTP status.
func applyStatus(kind domain.FailureKind) int {
	switch kind {
	case domain.FailureUnauthorized:
		return http.StatusForbidden
	case domain.FailurePollNotFound:
		return http.StatusNotFound
	case domain.FailureNoActionDetermined, domain.FailureMissingRuleNumber, domain.FailureEmptyContent:
		return http.StatusUnprocessableEntity
	case domain.FailureInvalidInput:
		return http.StatusBadRequest
	case domain.FailureTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
		errorJSON(c, status, "Failed to "+op)
		return
	}
	errorJSON(c, status, err.Error())
}

func chatIDParam(c *gin.Context) (int64, bool) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid chat id")
		return 0, false
	}
	return chatID, true
}

func (h *Handler) pollSeen(c *gin.Context) {
	var req domain.PollSeen
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.OnPollSeen(c.Request.Context(), req); err != nil {
		h.fail(c, "record poll", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"poll_id": req.PollID,
	})
}

func (h *Handler) getPoll(c *gin.Context) {
	poll, err := h.service.GetPoll(c.Request.Context(), c.Param("poll_id"))
	if err != nil {
		h.fail(c, "get poll", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"poll":   poll,
		"state":  poll.State(),
	})
}

func (h *Handler) updateTally(c *gin.Context) {
	var req domain.TallyUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.OnTallyUpdate(c.Request.Context(), c.Param("poll_id"), req); err != nil {
		h.fail(c, "update tally", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) seedHints(c *gin.Context) {
	var req domain.Hints
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SeedHints(c.Request.Context(), c.Param("poll_id"), req); err != nil {
		h.fail(c, "seed hints", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type applyRequest struct {
	UserID   int64                `json:"userId" binding:"required"`
	PollID   string               `json:"pollId"`
	Snapshot *domain.PollSnapshot `json:"snapshot"`
	Inline   *domain.InlinePoll   `json:"inline"`
	// ManualText is the raw /sondaggio_manuale command line.
	ManualText string       `json:"manualText"`
	Hints      domain.Hints `json:"hints"`
}

func (h *Handler) apply(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	cmd := service.ApplyCommand{
		CorrelationID: c.GetString(logging.RequestIDKey),
		ChatID:        chatID,
		UserID:        req.UserID,
		PollID:        req.PollID,
		Snapshot:      req.Snapshot,
		Inline:        req.Inline,
		Hints:         req.Hints,
	}
	if strings.TrimSpace(req.ManualText) != "" {
		inline, err := notification.ParseManualPoll(req.ManualText)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status":  "error",
				"message": err.Error(),
				"failure": domain.FailureInvalidInput,
				"reply":   notification.Render(domain.Outcome{}, err),
			})
			return
		}
		cmd.Inline = &inline
	}
	if cmd.Inline == nil && cmd.PollID == "" && cmd.Snapshot == nil {
		errorJSON(c, http.StatusBadRequest, "one of pollId, snapshot, inline or manualText is required")
		return
	}

	outcome, err := h.service.ApplyRequested(c.Request.Context(), cmd)
	reply := notification.Render(outcome, err)
	if err != nil {
		kind := domain.Classify(err)
		c.JSON(applyStatus(kind), gin.H{
			"status":    "error",
			"message":   err.Error(),
			"failure":   kind,
			"retryable": kind.Retryable(),
			"reply":     reply,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"outcome": outcome,
		"label":   outcome.Label(),
		"reply":   reply,
	})
}

func (h *Handler) listPolls(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	polls, err := h.service.ListPolls(c.Request.Context(), chatID, domain.PollFilter(c.Query("state")))
	if err != nil {
		h.fail(c, "list polls", err)
		return
	}
	if polls == nil {
		polls = []domain.PollRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"polls":  polls,
	})
}

func (h *Handler) listRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context())
	if err != nil {
		h.fail(c, "list rules", err)
		return
	}
	if rules == nil {
		rules = []domain.Rule{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"rules":    rules,
		"messages": notification.SplitMessage(notification.RenderRulebook(rules), notification.MaxMessageLength),
	})
}

func (h *Handler) getRule(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "❌ Numero regola non valido.")
		return
	}

	rule, err := h.service.GetRule(c.Request.Context(), number)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, notification.RenderRuleNotFound(number))
			return
		}
		h.fail(c, "get rule", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"rule":    rule,
		"message": notification.RenderRule(rule),
	})
}

func (h *Handler) addReminder(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	var req domain.CreateReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	reminder, err := h.service.AddReminder(c.Request.Context(), chatID, &req)
	if err != nil {
		h.fail(c, "save reminder", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":   "success",
		"reminder": reminder,
	})
}

func (h *Handler) listReminders(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	reminders, err := h.service.ListReminders(c.Request.Context(), chatID)
	if err != nil {
		h.fail(c, "list reminders", err)
		return
	}
	if reminders == nil {
		reminders = []domain.Reminder{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"reminders": reminders,
		"messages":  notification.SplitMessage(notification.RenderReminders(reminders), notification.MaxMessageLength),
	})
}

func (h *Handler) deleteReminder(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "❌ ID non valido.")
		return
	}

	var req domain.DeleteReminderRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "userId query parameter is required")
		return
	}

	if err := h.service.DeleteReminder(c.Request.Context(), chatID, id, req.UserID); err != nil {
		h.fail(c, "delete reminder", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) health(c *gin.Context) {
	health, err := h.service.Health(c.Request.Context())
	if err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	c.JSON(http.StatusOK, health)
}
