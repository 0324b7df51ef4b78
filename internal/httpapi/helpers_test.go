package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/httpapi"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/model"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/ratelimit"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/storage"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/testutil"
)

const (
	testFeedbackRoute = "/api/feedback"
	testAdminToken    = "triage-token"
	testClientIP      = "203.0.113.7"
	testChromeAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

var testReceivedAt = time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

var errRepositoryDown = errors.New("database is locked")

func init() {
	gin.SetMode(gin.TestMode)
}

type intakeFixture struct {
	store       *storage.FeedbackStore
	broadcaster *httpapi.FeedbackEventBroadcaster
	router      *gin.Engine
}

type intakeOptions struct {
	requestsPerMinute int
	burst             int
	monthlyQuota      int64
	repository        httpapi.FeedbackRepository
}

func newIntakeFixture(testingT *testing.T, options intakeOptions) intakeFixture {
	testingT.Helper()
	database := testutil.NewSQLiteTestDatabase(testingT).OpenMigrated(testingT)
	store, storeErr := storage.NewFeedbackStore(database)
	require.NoError(testingT, storeErr)

	limiter, limiterErr := ratelimit.NewLimiter(ratelimit.LimiterConfig{
		RequestsPerMinute: options.requestsPerMinute,
		Burst:             options.burst,
		Now:               func() time.Time { return testReceivedAt },
	})
	require.NoError(testingT, limiterErr)

	var repository httpapi.FeedbackRepository = store
	if options.repository != nil {
		repository = options.repository
	}
	broadcaster := httpapi.NewFeedbackEventBroadcaster()
	testingT.Cleanup(broadcaster.Close)

	handlers := httpapi.NewIntakeHandlers(httpapi.IntakeConfig{
		Repository:  repository,
		Limiter:     limiter,
		Quota:       ratelimit.NewQuota(options.monthlyQuota, repository),
		Broadcaster: broadcaster,
		Now:         func() time.Time { return testReceivedAt },
	})
	router := gin.New()
	router.POST(testFeedbackRoute, handlers.CreateFeedback)
	return intakeFixture{store: store, broadcaster: broadcaster, router: router}
}

func (fixture intakeFixture) post(testingT *testing.T, body any, headers map[string]string) *httptest.ResponseRecorder {
	testingT.Helper()
	var encoded []byte
	switch typedBody := body.(type) {
	case string:
		encoded = []byte(typedBody)
	default:
		var marshalErr error
		encoded, marshalErr = json.Marshal(typedBody)
		require.NoError(testingT, marshalErr)
	}
	request := httptest.NewRequest(http.MethodPost, testFeedbackRoute, bytes.NewReader(encoded))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", testChromeAgent)
	request.RemoteAddr = testClientIP + ":51234"
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(testingT *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	testingT.Helper()
	var decoded map[string]any
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	return decoded
}

type failingRepository struct{}

func (failingRepository) CreateFeedback(context.Context, *model.Feedback) error {
	return errRepositoryDown
}

func (failingRepository) CountFeedbackSince(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}
