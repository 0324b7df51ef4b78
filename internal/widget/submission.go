package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// APIKeyHeader carries the optional project key.
	APIKeyHeader = "X-Feedback-Key"

	contentTypeHeader      = "Content-Type"
	contentTypeJSON        = "application/json"
	defaultRequestTimeout  = 20 * time.Second
	maxResponseBodyBytes   = 64 << 10
	defaultPayloadCategory = "other"
)

var (
	ErrEmptyMessage          = errors.New("widget: message is empty")
	ErrThrottled             = errors.New("widget: submission throttled")
	ErrNotReady              = errors.New("widget: no message step to submit from")
	ErrStaleAttempt          = errors.New("widget: submission response discarded")
	ErrRateLimited           = errors.New("widget: rate limited")
	ErrQuotaExceeded         = errors.New("widget: monthly quota exceeded")
	ErrSubmissionRejected    = errors.New("widget: submission rejected")
	ErrSubmissionUnavailable = errors.New("widget: submission endpoint unreachable")
	ErrUnknownCategory       = errors.New("widget: unknown category")
)

// SubmissionPayload is the JSON body posted to the feedback endpoint.
type SubmissionPayload struct {
	Type          string              `json:"type"`
	Message       string              `json:"message"`
	Email         *string             `json:"email"`
	Page          string              `json:"page"`
	Timestamp     time.Time           `json:"timestamp"`
	Source        string              `json:"source"`
	Mode          string              `json:"mode,omitempty"`
	Metadata      MetadataSnapshot    `json:"metadata"`
	ConsoleErrors []ConsoleErrorEntry `json:"console_errors"`
	Screenshot    *string             `json:"screenshot"`
	WidgetVersion string              `json:"widget_version,omitempty"`
	APIKey        string              `json:"api_key,omitempty"`
}

// SubmissionInput is everything the pipeline needs to build a payload.
type SubmissionInput struct {
	Category      string
	Message       string
	Email         string
	Metadata      MetadataSnapshot
	ConsoleErrors []ConsoleErrorEntry
	Screenshot    string
	HasScreenshot bool
	Timestamp     time.Time
}

// TransportResponse is the part of the endpoint response the widget consumes.
type TransportResponse struct {
	StatusCode int
	ResetsAt   *time.Time
}

// Transport delivers a payload to the feedback endpoint.
type Transport interface {
	Send(ctx context.Context, payload SubmissionPayload) (TransportResponse, error)
}

// SubmissionError carries the HTTP status of a rejected submission.
type SubmissionError struct {
	StatusCode int
	ResetsAt   *time.Time
	cause      error
}

func (submissionError *SubmissionError) Error() string {
	return fmt.Sprintf("%v: status %d", submissionError.cause, submissionError.StatusCode)
}

func (submissionError *SubmissionError) Unwrap() error {
	return submissionError.cause
}

// ClassifyResponse turns a transport result into nil on success or a sentinel error.
func ClassifyResponse(response TransportResponse, transportErr error) error {
	if transportErr != nil {
		return fmt.Errorf("%w: %v", ErrSubmissionUnavailable, transportErr)
	}
	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	cause := ErrSubmissionRejected
	if response.StatusCode == http.StatusTooManyRequests {
		cause = ErrRateLimited
		if response.ResetsAt != nil {
			cause = ErrQuotaExceeded
		}
	}
	return &SubmissionError{StatusCode: response.StatusCode, ResetsAt: response.ResetsAt, cause: cause}
}

// NoticeForError picks the inline notice for a failed submission.
func NoticeForError(submitErr error) NoticeKind {
	switch {
	case submitErr == nil:
		return NoticeNone
	case errors.Is(submitErr, ErrThrottled):
		return NoticeThrottled
	case errors.Is(submitErr, ErrQuotaExceeded):
		return NoticeQuotaExceeded
	case errors.Is(submitErr, ErrRateLimited):
		return NoticeRateLimited
	default:
		return NoticeFailed
	}
}

// SubmissionPipeline assembles payloads and sends them once. It never retries.
type SubmissionPipeline struct {
	configuration Config
	transport     Transport
}

func NewSubmissionPipeline(configuration Config, transport Transport) *SubmissionPipeline {
	if transport == nil {
		transport = NewHTTPTransport(configuration.Endpoint, configuration.APIKey, nil)
	}
	return &SubmissionPipeline{configuration: configuration, transport: transport}
}

// Assemble builds the payload from trimmed user input and the diagnostic snapshot.
func (pipeline *SubmissionPipeline) Assemble(input SubmissionInput) (SubmissionPayload, error) {
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return SubmissionPayload{}, ErrEmptyMessage
	}
	category := input.Category
	if category == "" {
		category = defaultPayloadCategory
	}
	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	payload := SubmissionPayload{
		Type:          category,
		Message:       message,
		Page:          pagePath(input.Metadata.URL),
		Timestamp:     timestamp.UTC(),
		Source:        pipeline.configuration.Source,
		Mode:          pipeline.configuration.Mode(),
		Metadata:      input.Metadata,
		WidgetVersion: pipeline.configuration.WidgetVersion,
		APIKey:        pipeline.configuration.APIKey,
	}
	if email := strings.TrimSpace(input.Email); email != "" {
		payload.Email = &email
	}
	if len(input.ConsoleErrors) > 0 {
		payload.ConsoleErrors = append([]ConsoleErrorEntry(nil), input.ConsoleErrors...)
	}
	if input.HasScreenshot && input.Screenshot != "" {
		screenshot := input.Screenshot
		payload.Screenshot = &screenshot
	}
	return payload, nil
}

// Send issues exactly one request and classifies its outcome.
func (pipeline *SubmissionPipeline) Send(ctx context.Context, payload SubmissionPayload) error {
	response, transportErr := pipeline.transport.Send(ctx, payload)
	return ClassifyResponse(response, transportErr)
}

func pagePath(rawURL string) string {
	parsed, parseErr := url.Parse(rawURL)
	if parseErr != nil || parsed.Path == "" {
		return "/"
	}
	return parsed.Path
}

// HTTPTransport posts payloads as JSON.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPTransport(endpoint string, apiKey string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	return &HTTPTransport{endpoint: endpoint, apiKey: strings.TrimSpace(apiKey), client: client}
}

type quotaResponseBody struct {
	ResetsAt *time.Time `json:"resets_at"`
}

func (transport *HTTPTransport) Send(ctx context.Context, payload SubmissionPayload) (TransportResponse, error) {
	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return TransportResponse{}, fmt.Errorf("encode payload: %w", marshalErr)
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, transport.endpoint, bytes.NewReader(encoded))
	if requestErr != nil {
		return TransportResponse{}, fmt.Errorf("build request: %w", requestErr)
	}
	request.Header.Set(contentTypeHeader, contentTypeJSON)
	if transport.apiKey != "" {
		request.Header.Set(APIKeyHeader, transport.apiKey)
	}

	response, sendErr := transport.client.Do(request)
	if sendErr != nil {
		return TransportResponse{}, sendErr
	}
	defer response.Body.Close()

	result := TransportResponse{StatusCode: response.StatusCode}
	if response.StatusCode == http.StatusTooManyRequests {
		var body quotaResponseBody
		if decodeErr := json.NewDecoder(io.LimitReader(response.Body, maxResponseBodyBytes)).Decode(&body); decodeErr == nil {
			result.ResetsAt = body.ResetsAt
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBodyBytes))
	return result, nil
}
