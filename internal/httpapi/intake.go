package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/model"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/ratelimit"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

const (
	jsonKeyError    = "error"
	jsonKeyStatus   = "status"
	jsonKeyID       = "id"
	jsonKeyResetsAt = "resets_at"

	jsonStatusOK = "ok"

	errorValueInvalidJSON      = "invalid_json"
	errorValueRateLimited      = "rate_limited"
	errorValueQuotaExceeded    = "quota_exceeded"
	errorValueQuotaUnavailable = "quota_unavailable"
	errorValueSaveFailed       = "save_failed"
	errorValueInvalidPayload   = "invalid_payload"

	// intakeBodyLimit leaves room for the JSON envelope around a maximal screenshot.
	intakeBodyLimit = model.MaxScreenshotBytes + 256<<10
)

var feedbackValidationErrors = []error{
	model.ErrInvalidFeedbackSource,
	model.ErrInvalidFeedbackType,
	model.ErrInvalidFeedbackMessage,
	model.ErrInvalidFeedbackEmail,
	model.ErrInvalidFeedbackScreenshot,
}

// FeedbackRepository stores submissions and counts them for quota checks.
type FeedbackRepository interface {
	CreateFeedback(ctx context.Context, feedback *model.Feedback) error
	CountFeedbackSince(ctx context.Context, source string, since time.Time) (int64, error)
}

type IntakeConfig struct {
	Repository  FeedbackRepository
	Limiter     *ratelimit.Limiter
	Quota       *ratelimit.Quota
	Broadcaster *FeedbackEventBroadcaster
	Logger      *zap.Logger
	Now         func() time.Time
}

// IntakeHandlers accept widget submissions.
type IntakeHandlers struct {
	repository  FeedbackRepository
	limiter     *ratelimit.Limiter
	quota       *ratelimit.Quota
	broadcaster *FeedbackEventBroadcaster
	logger      *zap.Logger
	now         func() time.Time
}

func NewIntakeHandlers(config IntakeConfig) *IntakeHandlers {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &IntakeHandlers{
		repository:  config.Repository,
		limiter:     config.Limiter,
		quota:       config.Quota,
		broadcaster: config.Broadcaster,
		logger:      logger,
		now:         now,
	}
}

// CreateFeedback validates, throttles and stores one submission.
func (handlers *IntakeHandlers) CreateFeedback(context *gin.Context) {
	context.Request.Body = http.MaxBytesReader(context.Writer, context.Request.Body, intakeBodyLimit)

	var payload widget.SubmissionPayload
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	if strings.TrimSpace(payload.Source) == "" {
		payload.Source = requestSiteHost(context.GetHeader("Origin"), context.GetHeader("Referer"))
	}
	payload.Metadata = enrichMetadata(payload.Metadata, context.Request)

	receivedAt := handlers.now().UTC()
	clientIP := context.ClientIP()
	feedback, feedbackErr := model.NewFeedback(model.FeedbackInput{
		Payload:    payload,
		IP:         clientIP,
		UserAgent:  context.Request.UserAgent(),
		ReceivedAt: receivedAt,
	})
	if feedbackErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: validationErrorValue(feedbackErr)})
		return
	}

	if !handlers.limiter.Allow(ratelimit.Key(feedback.Source, clientIP)) {
		handlers.logger.Info("feedback_rate_limited", zap.String("source", feedback.Source), zap.String("ip", clientIP))
		context.JSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
		return
	}

	requestContext := context.Request.Context()
	decision, quotaErr := handlers.quota.Check(requestContext, feedback.Source, receivedAt)
	if quotaErr != nil {
		handlers.logger.Warn("feedback_quota_check", zap.Error(quotaErr))
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueQuotaUnavailable})
		return
	}
	if !decision.Allowed {
		context.JSON(http.StatusTooManyRequests, gin.H{
			jsonKeyError:    errorValueQuotaExceeded,
			jsonKeyResetsAt: decision.ResetsAt.Format(time.RFC3339),
		})
		return
	}

	if handlers.repository == nil {
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}
	if saveErr := handlers.repository.CreateFeedback(requestContext, &feedback); saveErr != nil {
		handlers.logger.Warn("save_feedback", zap.Error(saveErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	if handlers.broadcaster != nil {
		handlers.broadcaster.Broadcast(NewFeedbackEvent(feedback))
	}
	handlers.logger.Info("feedback_received",
		zap.String("feedback_id", feedback.ID),
		zap.String("source", feedback.Source),
		zap.String("type", feedback.Type),
		zap.Bool("screenshot", feedback.HasScreenshot()),
		zap.Int("console_errors", len(feedback.ConsoleErrors)),
	)
	context.JSON(http.StatusCreated, gin.H{jsonKeyStatus: jsonStatusOK, jsonKeyID: feedback.ID})
}

func validationErrorValue(validationErr error) string {
	for _, sentinel := range feedbackValidationErrors {
		if errors.Is(validationErr, sentinel) {
			return sentinel.Error()
		}
	}
	return errorValueInvalidPayload
}

// enrichMetadata fills fields the browser could not report from the request
// headers. Device classification also uses the submitted screen size and touch
// points. Values the client sent always win.
func enrichMetadata(metadata widget.MetadataSnapshot, request *http.Request) widget.MetadataSnapshot {
	language := request.Header.Get("Accept-Language")
	if separator := strings.IndexAny(language, ",;"); separator >= 0 {
		language = language[:separator]
	}
	environment := widget.Environment{
		UserAgent:      request.UserAgent(),
		Referrer:       request.Referer(),
		URL:            request.Referer(),
		Language:       strings.TrimSpace(language),
		TouchEvents:    metadata.Touch,
		MaxTouchPoints: metadata.TouchPoints,
		PixelRatio:     metadata.PixelRatio,
	}
	environment.ScreenWidth, environment.ScreenHeight, _ = widget.ParseDimensions(metadata.Screen)
	environment.ViewportWidth, environment.ViewportHeight, _ = widget.ParseDimensions(metadata.Viewport)
	derived := widget.CollectMetadata(environment)
	if metadata == (widget.MetadataSnapshot{}) {
		return derived
	}
	if metadata.Browser == "" {
		metadata.Browser = derived.Browser
	}
	if metadata.OS == "" {
		metadata.OS = derived.OS
	}
	if metadata.DeviceType == "" {
		metadata.DeviceType = derived.DeviceType
	}
	if metadata.Language == "" {
		metadata.Language = derived.Language
	}
	if metadata.URL == "" {
		metadata.URL = derived.URL
	}
	return metadata
}

// requestSiteHost names the embedding site from the Origin or Referer header.
func requestSiteHost(candidates ...string) string {
	for _, candidate := range candidates {
		parsed, parseErr := url.Parse(strings.TrimSpace(candidate))
		if parseErr != nil {
			continue
		}
		if host := parsed.Hostname(); host != "" {
			return host
		}
	}
	return ""
}
