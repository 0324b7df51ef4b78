package model

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

const (
	// MaxScreenshotBytes bounds the stored screenshot data URL.
	MaxScreenshotBytes = 2 << 20

	feedbackSourceMaxLength    = 200
	feedbackTypeMaxLength      = 100
	feedbackMessageMaxLength   = 4000
	feedbackEmailMaxLength     = 320
	feedbackPageMaxLength      = 500
	feedbackModeMaxLength      = 20
	feedbackVersionMaxLength   = 20
	feedbackIPMaxLength        = 64
	feedbackUserAgentMaxLength = 400

	screenshotPrefixJPEG = "data:image/jpeg;base64,"
	screenshotPrefixPNG  = "data:image/png;base64,"
)

var (
	ErrInvalidFeedbackSource     = errors.New("invalid_feedback_source")
	ErrInvalidFeedbackType       = errors.New("invalid_feedback_type")
	ErrInvalidFeedbackMessage    = errors.New("invalid_feedback_message")
	ErrInvalidFeedbackEmail      = errors.New("invalid_feedback_email")
	ErrInvalidFeedbackScreenshot = errors.New("invalid_feedback_screenshot")
)

// Feedback is one stored widget submission.
type Feedback struct {
	ID            string                     `gorm:"primaryKey;size:36"`
	Source        string                     `gorm:"not null;size:200;index"`
	Type          string                     `gorm:"not null;size:100"`
	Message       string                     `gorm:"not null;size:4000"`
	Email         string                     `gorm:"size:320"`
	Page          string                     `gorm:"size:500"`
	Mode          string                     `gorm:"size:20"`
	Metadata      widget.MetadataSnapshot    `gorm:"serializer:json"`
	ConsoleErrors []widget.ConsoleErrorEntry `gorm:"serializer:json"`
	Screenshot    string                     `gorm:"type:text"`
	WidgetVersion string                     `gorm:"size:20"`
	IP            string                     `gorm:"size:64"`
	UserAgent     string                     `gorm:"size:400"`
	SubmittedAt   time.Time                  `gorm:"not null"`
	CreatedAt     time.Time                  `gorm:"autoCreateTime;index"`
}

// FeedbackInput holds a received payload and the request it arrived on.
type FeedbackInput struct {
	Payload    widget.SubmissionPayload
	IP         string
	UserAgent  string
	ReceivedAt time.Time
}

// NewFeedback validates and normalizes a submission into a Feedback record.
func NewFeedback(input FeedbackInput) (Feedback, error) {
	payload := input.Payload

	source := strings.TrimSpace(payload.Source)
	if source == "" || len(source) > feedbackSourceMaxLength {
		return Feedback{}, ErrInvalidFeedbackSource
	}
	feedbackType := strings.TrimSpace(payload.Type)
	if feedbackType == "" || len(feedbackType) > feedbackTypeMaxLength {
		return Feedback{}, ErrInvalidFeedbackType
	}
	message := strings.TrimSpace(payload.Message)
	if message == "" {
		return Feedback{}, ErrInvalidFeedbackMessage
	}

	email := ""
	if payload.Email != nil {
		email = strings.TrimSpace(*payload.Email)
	}
	if email != "" {
		if len(email) > feedbackEmailMaxLength {
			return Feedback{}, fmt.Errorf("%w: too long", ErrInvalidFeedbackEmail)
		}
		if _, parseErr := mail.ParseAddress(email); parseErr != nil {
			return Feedback{}, fmt.Errorf("%w: %v", ErrInvalidFeedbackEmail, parseErr)
		}
	}

	screenshot := ""
	if payload.Screenshot != nil {
		screenshot = strings.TrimSpace(*payload.Screenshot)
	}
	if screenshotErr := validateScreenshot(screenshot); screenshotErr != nil {
		return Feedback{}, screenshotErr
	}

	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	submittedAt := payload.Timestamp
	if submittedAt.IsZero() {
		submittedAt = receivedAt
	}

	return Feedback{
		ID:            uuid.NewString(),
		Source:        source,
		Type:          feedbackType,
		Message:       truncateString(message, feedbackMessageMaxLength),
		Email:         email,
		Page:          truncateString(strings.TrimSpace(payload.Page), feedbackPageMaxLength),
		Mode:          truncateString(strings.TrimSpace(payload.Mode), feedbackModeMaxLength),
		Metadata:      payload.Metadata,
		ConsoleErrors: payload.ConsoleErrors,
		Screenshot:    screenshot,
		WidgetVersion: truncateString(strings.TrimSpace(payload.WidgetVersion), feedbackVersionMaxLength),
		IP:            truncateString(strings.TrimSpace(input.IP), feedbackIPMaxLength),
		UserAgent:     truncateString(strings.TrimSpace(input.UserAgent), feedbackUserAgentMaxLength),
		SubmittedAt:   submittedAt.UTC(),
		CreatedAt:     receivedAt.UTC(),
	}, nil
}

// HasScreenshot reports whether a screenshot is still stored.
func (feedback Feedback) HasScreenshot() bool {
	return feedback.Screenshot != ""
}

func validateScreenshot(screenshot string) error {
	if screenshot == "" {
		return nil
	}
	if len(screenshot) > MaxScreenshotBytes {
		return fmt.Errorf("%w: too large", ErrInvalidFeedbackScreenshot)
	}
	if !strings.HasPrefix(screenshot, screenshotPrefixJPEG) && !strings.HasPrefix(screenshot, screenshotPrefixPNG) {
		return fmt.Errorf("%w: unsupported encoding", ErrInvalidFeedbackScreenshot)
	}
	return nil
}

func truncateString(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
