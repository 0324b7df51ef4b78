package widget_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

func TestThrottlerMeasuresFromAttemptStart(testingT *testing.T) {
	clock := newManualClock()
	throttler := widget.NewThrottler(widget.ThrottlePolicy{Interval: 30 * time.Second}, clock)

	allowed, _ := throttler.Begin()
	require.True(testingT, allowed)
	require.Equal(testingT, testEpoch, throttler.LastAttempt())

	clock.Advance(29 * time.Second)
	allowed, remaining := throttler.Begin()
	require.False(testingT, allowed)
	require.Equal(testingT, time.Second, remaining)
	require.Equal(testingT, testEpoch, throttler.LastAttempt())

	clock.Advance(time.Second)
	allowed, _ = throttler.Begin()
	require.True(testingT, allowed)
}

func TestDisabledThrottlerAlwaysAdmits(testingT *testing.T) {
	throttler := widget.NewThrottler(widget.ThrottlePolicy{}, newManualClock())
	for attempt := 0; attempt < 3; attempt++ {
		allowed, _ := throttler.Begin()
		require.True(testingT, allowed)
	}
}

func TestCapabilityLoaderSharesOneInFlightLoad(testingT *testing.T) {
	var loadCount atomic.Int32
	release := make(chan struct{})
	loader := widget.NewCapabilityLoader(func(context.Context) (widget.Renderer, error) {
		loadCount.Add(1)
		<-release
		return solidRenderer{}, nil
	})

	var waitGroup sync.WaitGroup
	results := make(chan error, 5)
	for caller := 0; caller < 5; caller++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, getErr := loader.Get(context.Background())
			results <- getErr
		}()
	}
	require.Eventually(testingT, func() bool { return loadCount.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	waitGroup.Wait()
	close(results)

	for getErr := range results {
		require.NoError(testingT, getErr)
	}
	require.True(testingT, loader.Loaded())
	_, getErr := loader.Get(context.Background())
	require.NoError(testingT, getErr)
	require.Equal(testingT, int32(1), loadCount.Load())
}

func TestCapabilityLoaderRetriesAfterFailure(testingT *testing.T) {
	attempts := 0
	loader := widget.NewCapabilityLoader(func(context.Context) (widget.Renderer, error) {
		attempts++
		if attempts == 1 {
			return nil, errRendererUnavailable
		}
		return solidRenderer{}, nil
	})

	_, firstErr := loader.Get(context.Background())
	require.ErrorIs(testingT, firstErr, errRendererUnavailable)
	require.False(testingT, loader.Loaded())

	_, secondErr := loader.Get(context.Background())
	require.NoError(testingT, secondErr)
	require.Equal(testingT, 2, attempts)
}

func TestCapabilityLoaderWithoutLoadFunction(testingT *testing.T) {
	_, getErr := widget.NewCapabilityLoader(nil).Get(context.Background())
	require.ErrorIs(testingT, getErr, widget.ErrCapabilityUnavailable)
}

func TestEncodeScreenshotDownscalesToJPEG(testingT *testing.T) {
	captured, _ := solidRenderer{}.Capture(context.Background())
	dataURL, encodeErr := widget.EncodeScreenshot(captured, widget.DefaultScreenshotOptions())
	require.NoError(testingT, encodeErr)
	require.True(testingT, strings.HasPrefix(dataURL, widget.JPEGDataURLPrefix))

	decodedBytes, decodeErr := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, widget.JPEGDataURLPrefix))
	require.NoError(testingT, decodeErr)
	decoded, jpegErr := jpeg.Decode(strings.NewReader(string(decodedBytes)))
	require.NoError(testingT, jpegErr)
	require.Equal(testingT, testRendererWidth/2, decoded.Bounds().Dx())
}

func TestEncodeScreenshotHonoursQuality(testingT *testing.T) {
	striped := image.NewGray(image.Rect(0, 0, 64, 64))
	for index := range striped.Pix {
		striped.Pix[index] = uint8(index * 37)
	}
	encodedLength := func(quality int) int {
		dataURL, encodeErr := widget.EncodeScreenshot(striped, widget.ScreenshotOptions{Scale: 1, Quality: quality})
		require.NoError(testingT, encodeErr)
		return len(dataURL)
	}
	require.Less(testingT, encodedLength(10), encodedLength(95))
}

func TestEncodeScreenshotRejectsEmptyImage(testingT *testing.T) {
	_, encodeErr := widget.EncodeScreenshot(image.NewRGBA(image.Rect(0, 0, 0, 0)), widget.DefaultScreenshotOptions())
	require.ErrorIs(testingT, encodeErr, widget.ErrEmptyCapture)
}

type panickingRenderer struct{}

func (panickingRenderer) Capture(context.Context) (image.Image, error) {
	panic("canvas tainted")
}

func TestScreenshotPipelineRestoresShellOnPanic(testingT *testing.T) {
	fixture := newRuntimeFixture(testingT, fixtureOptions{})
	loader := widget.NewCapabilityLoader(func(context.Context) (widget.Renderer, error) {
		return panickingRenderer{}, nil
	})
	pipeline := widget.NewScreenshotPipeline(loader, widget.ScreenshotOptions{}, nil)

	dataURL, captured := pipeline.Capture(context.Background(), fixture.runtime.Shell())
	require.False(testingT, captured)
	require.Empty(testingT, dataURL)
	require.False(testingT, fixture.runtime.Shell().Root.Hidden())
}

func TestClassifyResponse(testingT *testing.T) {
	resetsAt := testEpoch
	testCases := []struct {
		name     string
		response widget.TransportResponse
		err      error
		expected error
		notice   widget.NoticeKind
	}{
		{name: "created", response: widget.TransportResponse{StatusCode: http.StatusCreated}, notice: widget.NoticeNone},
		{name: "server error", response: widget.TransportResponse{StatusCode: http.StatusBadGateway}, expected: widget.ErrSubmissionRejected, notice: widget.NoticeFailed},
		{name: "rate limited", response: widget.TransportResponse{StatusCode: http.StatusTooManyRequests}, expected: widget.ErrRateLimited, notice: widget.NoticeRateLimited},
		{name: "quota", response: widget.TransportResponse{StatusCode: http.StatusTooManyRequests, ResetsAt: &resetsAt}, expected: widget.ErrQuotaExceeded, notice: widget.NoticeQuotaExceeded},
		{name: "network", err: errors.New("connection refused"), expected: widget.ErrSubmissionUnavailable, notice: widget.NoticeFailed},
	}
	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			classified := widget.ClassifyResponse(testCase.response, testCase.err)
			if testCase.expected == nil {
				require.NoError(testingT, classified)
			} else {
				require.ErrorIs(testingT, classified, testCase.expected)
			}
			require.Equal(testingT, testCase.notice, widget.NoticeForError(classified))
		})
	}
}

func TestAssembleDefaultsAndOptionalFields(testingT *testing.T) {
	configuration := widget.ResolveConfig(widget.Attributes{widget.AttributeSource: "shop", widget.AttributeKey: "project-key"}, testPageURL)
	pipeline := widget.NewSubmissionPipeline(configuration, newRecordingTransport(http.StatusOK))

	_, emptyErr := pipeline.Assemble(widget.SubmissionInput{Message: "   "})
	require.ErrorIs(testingT, emptyErr, widget.ErrEmptyMessage)

	payload, assembleErr := pipeline.Assemble(widget.SubmissionInput{Message: " hi ", Email: "  ", Timestamp: testEpoch})
	require.NoError(testingT, assembleErr)
	require.Equal(testingT, "other", payload.Type)
	require.Equal(testingT, "/", payload.Page)
	require.Nil(testingT, payload.Email)
	require.Nil(testingT, payload.Screenshot)
	require.Equal(testingT, "project-key", payload.APIKey)

	encoded, marshalErr := json.Marshal(payload)
	require.NoError(testingT, marshalErr)
	var decoded map[string]any
	require.NoError(testingT, json.Unmarshal(encoded, &decoded))
	require.Contains(testingT, decoded, "email")
	require.Nil(testingT, decoded["email"])
	require.Nil(testingT, decoded["console_errors"])
	require.Nil(testingT, decoded["screenshot"])
	require.NotContains(testingT, decoded, "mode")
	require.Equal(testingT, "2026-03-01T12:00:00Z", decoded["timestamp"])
}

func TestHTTPTransportPostsJSONWithKeyHeader(testingT *testing.T) {
	var receivedHeader string
	var receivedContentType string
	var receivedPayload widget.SubmissionPayload
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		receivedHeader = request.Header.Get(widget.APIKeyHeader)
		receivedContentType = request.Header.Get("Content-Type")
		_ = json.NewDecoder(request.Body).Decode(&receivedPayload)
		responseWriter.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	transport := widget.NewHTTPTransport(server.URL, "project-key", server.Client())
	response, sendErr := transport.Send(context.Background(), widget.SubmissionPayload{Type: "bug", Message: "broken", Source: "shop"})
	require.NoError(testingT, sendErr)
	require.Equal(testingT, http.StatusCreated, response.StatusCode)
	require.Equal(testingT, "project-key", receivedHeader)
	require.Equal(testingT, "application/json", receivedContentType)
	require.Equal(testingT, "broken", receivedPayload.Message)
}

func TestHTTPTransportReadsQuotaReset(testingT *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		responseWriter.Header().Set("Content-Type", "application/json")
		responseWriter.WriteHeader(http.StatusTooManyRequests)
		_, _ = responseWriter.Write([]byte(`{"error":"quota_exceeded","resets_at":"2026-04-01T00:00:00Z"}`))
	}))
	defer server.Close()

	transport := widget.NewHTTPTransport(server.URL, "", server.Client())
	response, sendErr := transport.Send(context.Background(), widget.SubmissionPayload{Message: "x"})
	require.NoError(testingT, sendErr)
	require.NotNil(testingT, response.ResetsAt)
	require.ErrorIs(testingT, widget.ClassifyResponse(response, sendErr), widget.ErrQuotaExceeded)
}
