package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/model"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

func stringPointer(value string) *string {
	return &value
}

func validPayload() widget.SubmissionPayload {
	return widget.SubmissionPayload{
		Type:      "bug",
		Message:   "  Checkout button is dead ",
		Email:     stringPointer(" shopper@example.com "),
		Page:      "/checkout",
		Timestamp: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		Source:    "shop",
		Metadata:  widget.MetadataSnapshot{Browser: "Chrome 126"},
	}
}

func TestNewFeedbackNormalizesFields(testingT *testing.T) {
	receivedAt := time.Date(2026, time.March, 1, 12, 0, 5, 0, time.UTC)
	feedback, feedbackErr := model.NewFeedback(model.FeedbackInput{
		Payload:    validPayload(),
		IP:         "203.0.113.9",
		UserAgent:  strings.Repeat("a", 500),
		ReceivedAt: receivedAt,
	})
	require.NoError(testingT, feedbackErr)

	require.Len(testingT, feedback.ID, 36)
	require.Equal(testingT, "Checkout button is dead", feedback.Message)
	require.Equal(testingT, "shopper@example.com", feedback.Email)
	require.Equal(testingT, "Chrome 126", feedback.Metadata.Browser)
	require.Len(testingT, feedback.UserAgent, 400)
	require.Equal(testingT, time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC), feedback.SubmittedAt)
	require.False(testingT, feedback.HasScreenshot())
}

func TestNewFeedbackValidation(testingT *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*widget.SubmissionPayload)
		expected error
	}{
		{name: "missing source", mutate: func(payload *widget.SubmissionPayload) { payload.Source = " " }, expected: model.ErrInvalidFeedbackSource},
		{name: "missing type", mutate: func(payload *widget.SubmissionPayload) { payload.Type = "" }, expected: model.ErrInvalidFeedbackType},
		{name: "blank message", mutate: func(payload *widget.SubmissionPayload) { payload.Message = "\n\t" }, expected: model.ErrInvalidFeedbackMessage},
		{name: "malformed email", mutate: func(payload *widget.SubmissionPayload) { payload.Email = stringPointer("not-an-email") }, expected: model.ErrInvalidFeedbackEmail},
		{name: "gif screenshot", mutate: func(payload *widget.SubmissionPayload) {
			payload.Screenshot = stringPointer("data:image/gif;base64,AAAA")
		}, expected: model.ErrInvalidFeedbackScreenshot},
		{name: "oversized screenshot", mutate: func(payload *widget.SubmissionPayload) {
			payload.Screenshot = stringPointer(widget.JPEGDataURLPrefix + strings.Repeat("A", model.MaxScreenshotBytes))
		}, expected: model.ErrInvalidFeedbackScreenshot},
	}
	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			payload := validPayload()
			testCase.mutate(&payload)
			_, feedbackErr := model.NewFeedback(model.FeedbackInput{Payload: payload})
			require.ErrorIs(testingT, feedbackErr, testCase.expected)
		})
	}
}

func TestNewFeedbackAcceptsScreenshotAndNullEmail(testingT *testing.T) {
	payload := validPayload()
	payload.Email = nil
	payload.Timestamp = time.Time{}
	payload.Screenshot = stringPointer(widget.JPEGDataURLPrefix + "AAAA")
	receivedAt := time.Date(2026, time.April, 2, 8, 0, 0, 0, time.UTC)

	feedback, feedbackErr := model.NewFeedback(model.FeedbackInput{Payload: payload, ReceivedAt: receivedAt})
	require.NoError(testingT, feedbackErr)
	require.Empty(testingT, feedback.Email)
	require.True(testingT, feedback.HasScreenshot())
	require.Equal(testingT, receivedAt, feedback.SubmittedAt)
}
