package main_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	feedbackctl "github.com/MarkoPoloResearchLab/feedbackwidget/cmd/feedbackctl"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

type submissionRecorder struct {
	payloads []widget.SubmissionPayload
	apiKeys  []string
}

func newFeedbackServer(testingT *testing.T, status int, body string) (*httptest.Server, *submissionRecorder) {
	testingT.Helper()
	recorder := &submissionRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		var payload widget.SubmissionPayload
		_ = json.NewDecoder(request.Body).Decode(&payload)
		recorder.payloads = append(recorder.payloads, payload)
		recorder.apiKeys = append(recorder.apiKeys, request.Header.Get(widget.APIKeyHeader))
		responseWriter.Header().Set("Content-Type", "application/json")
		responseWriter.WriteHeader(status)
		_, _ = responseWriter.Write([]byte(body))
	}))
	testingT.Cleanup(server.Close)
	return server, recorder
}

func runCLI(testingT *testing.T, server *httptest.Server, arguments ...string) (string, error) {
	testingT.Helper()
	command, commandErr := feedbackctl.NewCLIApplication().WithHTTPClient(server.Client()).Command()
	require.NoError(testingT, commandErr)
	output := &bytes.Buffer{}
	command.SetOut(output)
	command.SetErr(output)
	command.SetArgs(arguments)
	executeErr := command.Execute()
	return output.String(), executeErr
}

func TestSubmitSendsDeveloperFeedback(testingT *testing.T) {
	server, recorder := newFeedbackServer(testingT, http.StatusCreated, `{"status":"ok","id":"abc"}`)

	output, runErr := runCLI(testingT, server,
		"submit",
		"--message", "  Search returns nothing ",
		"--email", "dev@example.com",
		"--page-url", "https://shop.example/search?q=shoes",
		"--endpoint", server.URL,
		"--api-key", "project-key",
		"--attr", "data-source=shop",
	)
	require.NoError(testingT, runErr)
	require.Contains(testingT, output, "feedback submitted: source=shop category=bug screenshot=false")

	require.Len(testingT, recorder.payloads, 1)
	payload := recorder.payloads[0]
	require.Equal(testingT, "bug", payload.Type)
	require.Equal(testingT, "Search returns nothing", payload.Message)
	require.Equal(testingT, "/search", payload.Page)
	require.Equal(testingT, "shop", payload.Source)
	require.NotNil(testingT, payload.Email)
	require.Equal(testingT, "dev@example.com", *payload.Email)
	require.Nil(testingT, payload.Screenshot)
	require.Empty(testingT, payload.Mode)
	require.Equal(testingT, "Chrome 126", payload.Metadata.Browser)
	require.Equal(testingT, "project-key", recorder.apiKeys[0])
}

func TestSubmitBusinessCategoryOnHostPage(testingT *testing.T) {
	server, recorder := newFeedbackServer(testingT, http.StatusOK, `{}`)
	pageFile := filepath.Join(testingT.TempDir(), "host.html")
	require.NoError(testingT, os.WriteFile(pageFile, []byte(`<html data-theme="dark"><head><title>Salon</title></head><body><main>Book now</main></body></html>`), 0o600))

	output, runErr := runCLI(testingT, server,
		"submit",
		"--message", "Do you have Saturday slots?",
		"--category", "Appointment",
		"--page-file", pageFile,
		"--page-url", "https://studio-lux.example/book",
		"--endpoint", server.URL,
		"--attr", "business-type=salon",
		"--attr", "name=Studio Lux",
	)
	require.NoError(testingT, runErr)
	require.Contains(testingT, output, "source=studio-lux.example category=Appointment")

	require.Len(testingT, recorder.payloads, 1)
	require.Equal(testingT, "Appointment", recorder.payloads[0].Type)
	require.Equal(testingT, "business", recorder.payloads[0].Mode)
	require.Nil(testingT, recorder.payloads[0].Email)
}

func TestSubmitReportsQuotaExceeded(testingT *testing.T) {
	server, _ := newFeedbackServer(testingT, http.StatusTooManyRequests, `{"error":"quota_exceeded","resets_at":"2026-11-01T00:00:00Z"}`)

	output, runErr := runCLI(testingT, server, "submit", "--message", "hello", "--endpoint", server.URL)
	require.ErrorIs(testingT, runErr, widget.ErrQuotaExceeded)
	require.Contains(testingT, runErr.Error(), widget.NoticeQuotaExceeded.Text())
	require.NotContains(testingT, output, "feedback submitted")
}

func TestSubmitRejectsBadInput(testingT *testing.T) {
	server, recorder := newFeedbackServer(testingT, http.StatusCreated, `{}`)
	testCases := []struct {
		name      string
		arguments []string
		expected  error
	}{
		{name: "malformed attribute", arguments: []string{"--attr", "business-type"}, expected: feedbackctl.ErrInvalidAttribute},
		{name: "unknown category", arguments: []string{"--category", "praise"}, expected: widget.ErrUnknownCategory},
		{name: "blank message", arguments: []string{"--message", "   "}, expected: widget.ErrEmptyMessage},
	}
	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			arguments := append([]string{"submit", "--message", "hello", "--endpoint", server.URL}, testCase.arguments...)
			_, runErr := runCLI(testingT, server, arguments...)
			require.ErrorIs(testingT, runErr, testCase.expected)
		})
	}
	require.Empty(testingT, recorder.payloads)
}

func TestSubmitRequiresMessage(testingT *testing.T) {
	server, _ := newFeedbackServer(testingT, http.StatusCreated, `{}`)
	_, runErr := runCLI(testingT, server, "submit", "--endpoint", server.URL)
	require.Error(testingT, runErr)
	require.Contains(testingT, runErr.Error(), "message")
}
