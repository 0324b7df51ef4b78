package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/model"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/storage"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

const (
	queryKeySource = "source"
	queryKeyLimit  = "limit"
	queryKeyBefore = "before"

	errorValueInvalidLimit      = "invalid_limit"
	errorValueInvalidBefore     = "invalid_before"
	errorValueListFailed        = "list_failed"
	errorValueNotFound          = "not_found"
	errorValueStreamUnavailable = "stream_unavailable"

	defaultStreamHeartbeat = 25 * time.Second
)

// FeedbackReader lists and loads stored submissions.
type FeedbackReader interface {
	ListFeedback(ctx context.Context, query storage.FeedbackQuery) ([]model.Feedback, error)
	FindFeedback(ctx context.Context, identifier string) (model.Feedback, error)
}

type AdminConfig struct {
	Reader          FeedbackReader
	Broadcaster     *FeedbackEventBroadcaster
	Logger          *zap.Logger
	StreamHeartbeat time.Duration
}

// AdminHandlers expose stored feedback to the triage service.
type AdminHandlers struct {
	reader      FeedbackReader
	broadcaster *FeedbackEventBroadcaster
	logger      *zap.Logger
	heartbeat   time.Duration
}

type feedbackSummaryResponse struct {
	ID            string                     `json:"id"`
	Source        string                     `json:"source"`
	Type          string                     `json:"type"`
	Message       string                     `json:"message"`
	Email         string                     `json:"email,omitempty"`
	Page          string                     `json:"page"`
	Mode          string                     `json:"mode,omitempty"`
	Metadata      widget.MetadataSnapshot    `json:"metadata"`
	ConsoleErrors []widget.ConsoleErrorEntry `json:"console_errors"`
	HasScreenshot bool                       `json:"has_screenshot"`
	WidgetVersion string                     `json:"widget_version,omitempty"`
	SubmittedAt   time.Time                  `json:"submitted_at"`
	CreatedAt     time.Time                  `json:"created_at"`
}

type feedbackDetailResponse struct {
	feedbackSummaryResponse
	Screenshot string `json:"screenshot,omitempty"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

func NewAdminHandlers(config AdminConfig) *AdminHandlers {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := config.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
	}
	return &AdminHandlers{reader: config.Reader, broadcaster: config.Broadcaster, logger: logger, heartbeat: heartbeat}
}

// ListFeedback answers GET /api/admin/feedback?source=&limit=&before=.
func (handlers *AdminHandlers) ListFeedback(context *gin.Context) {
	query := storage.FeedbackQuery{Source: strings.TrimSpace(context.Query(queryKeySource))}
	if rawLimit := strings.TrimSpace(context.Query(queryKeyLimit)); rawLimit != "" {
		limit, parseErr := strconv.Atoi(rawLimit)
		if parseErr != nil || limit <= 0 {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidLimit})
			return
		}
		query.Limit = limit
	}
	if rawBefore := strings.TrimSpace(context.Query(queryKeyBefore)); rawBefore != "" {
		before, parseErr := time.Parse(time.RFC3339, rawBefore)
		if parseErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidBefore})
			return
		}
		query.Before = before
	}

	feedbacks, listErr := handlers.reader.ListFeedback(context.Request.Context(), query)
	if listErr != nil {
		handlers.logger.Warn("list_feedback", zap.Error(listErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueListFailed})
		return
	}
	summaries := make([]feedbackSummaryResponse, 0, len(feedbacks))
	for _, feedback := range feedbacks {
		summaries = append(summaries, newFeedbackSummary(feedback))
	}
	context.JSON(http.StatusOK, gin.H{"feedback": summaries})
}

// GetFeedback answers GET /api/admin/feedback/:id including the screenshot.
func (handlers *AdminHandlers) GetFeedback(context *gin.Context) {
	feedback, findErr := handlers.reader.FindFeedback(context.Request.Context(), strings.TrimSpace(context.Param("id")))
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueNotFound})
			return
		}
		handlers.logger.Warn("find_feedback", zap.Error(findErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueListFailed})
		return
	}
	context.JSON(http.StatusOK, feedbackDetailResponse{
		feedbackSummaryResponse: newFeedbackSummary(feedback),
		Screenshot:              feedback.Screenshot,
		IP:                      feedback.IP,
		UserAgent:               feedback.UserAgent,
	})
}

// StreamFeedbackEvents streams feedback_created events as server-sent events,
// optionally filtered by ?source=.
func (handlers *AdminHandlers) StreamFeedbackEvents(context *gin.Context) {
	if handlers.broadcaster == nil {
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	flusher, flushable := context.Writer.(http.Flusher)
	if !flushable {
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	subscription := handlers.broadcaster.Subscribe()
	if subscription == nil {
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	defer subscription.Close()

	sourceFilter := strings.TrimSpace(context.Query(queryKeySource))
	context.Header("Content-Type", "text/event-stream")
	context.Header("Cache-Control", "no-cache")
	context.Header("Connection", "keep-alive")
	context.Writer.WriteHeaderNow()
	flusher.Flush()

	heartbeat := time.NewTicker(handlers.heartbeat)
	defer heartbeat.Stop()
	requestContext := context.Request.Context()
	for {
		select {
		case <-requestContext.Done():
			return
		case <-heartbeat.C:
			if _, writeErr := fmt.Fprint(context.Writer, ": keep-alive\n\n"); writeErr != nil {
				return
			}
			flusher.Flush()
		case event, open := <-subscription.Events():
			if !open {
				return
			}
			if sourceFilter != "" && event.Source != sourceFilter {
				continue
			}
			encoded, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				handlers.logger.Debug("encode_feedback_event", zap.Error(marshalErr))
				continue
			}
			if _, writeErr := fmt.Fprintf(context.Writer, "event: %s\ndata: %s\n\n", FeedbackEventCreated, encoded); writeErr != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func newFeedbackSummary(feedback model.Feedback) feedbackSummaryResponse {
	return feedbackSummaryResponse{
		ID:            feedback.ID,
		Source:        feedback.Source,
		Type:          feedback.Type,
		Message:       feedback.Message,
		Email:         feedback.Email,
		Page:          feedback.Page,
		Mode:          feedback.Mode,
		Metadata:      feedback.Metadata,
		ConsoleErrors: feedback.ConsoleErrors,
		HasScreenshot: feedback.HasScreenshot(),
		WidgetVersion: feedback.WidgetVersion,
		SubmittedAt:   feedback.SubmittedAt,
		CreatedAt:     feedback.CreatedAt,
	}
}
