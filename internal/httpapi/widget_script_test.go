package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/httpapi"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

const testPublicEndpoint = "https://intake.example.net/api/feedback"

func newScriptRouter() *gin.Engine {
	handlers := httpapi.NewWidgetScriptHandlers(httpapi.WidgetScriptConfig{PublicEndpoint: testPublicEndpoint})
	router := gin.New()
	router.GET("/widget.js", handlers.WidgetJS)
	router.GET("/widget/preview", handlers.Preview)
	return router
}

func serve(router *gin.Engine, target string, headers map[string]string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodGet, target, nil)
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestWidgetJSEmbedsResolvedBundle(testingT *testing.T) {
	recorder := serve(newScriptRouter(), "/widget.js?data-business-type=salon&name=Studio+Lux&accent=%23ff6600", map[string]string{
		"Referer": "https://studio-lux.example/booking",
	})

	require.Equal(testingT, http.StatusOK, recorder.Code)
	require.Contains(testingT, recorder.Header().Get("Content-Type"), "application/javascript")
	script := recorder.Body.String()
	require.Contains(testingT, script, widget.WidgetVersion)
	require.Contains(testingT, script, `"source":"studio-lux.example"`)
	require.Contains(testingT, script, `"mode":"business"`)
	require.Contains(testingT, script, `"endpoint":"`+testPublicEndpoint+`"`)
	require.Contains(testingT, script, `"throttleMs":0`)
	require.Contains(testingT, script, "#ff6600")
	require.Contains(testingT, script, "Appointment")
	require.Contains(testingT, script, "Leave a message for Studio Lux")
	require.NotContains(testingT, script, "<textarea", "markup must be JSON-escaped inside the script")
	require.NotContains(testingT, script, "{{")
}

func TestWidgetJSDeveloperDefaults(testingT *testing.T) {
	script := serve(newScriptRouter(), "/widget.js?source=docs&api-url=https://custom.example/api&key=k-1", nil).Body.String()

	require.Contains(testingT, script, `"source":"docs"`)
	require.Contains(testingT, script, `"endpoint":"https://custom.example/api"`)
	require.Contains(testingT, script, `"apiKey":"k-1"`)
	require.Contains(testingT, script, `"throttleMs":30000`)
	require.NotContains(testingT, script, `"mode"`)
	require.Contains(testingT, script, "payload.api_key = config.apiKey")
	require.Contains(testingT, script, "max_touch_points: navigator.maxTouchPoints")
	require.True(testingT, strings.Contains(script, `"bug"`) && strings.Contains(script, `"feature"`))
}

func TestPreviewRendersOpenPanel(testingT *testing.T) {
	testCases := []struct {
		name             string
		target           string
		expectedStatus   int
		expectedFragment []string
	}{
		{name: "category step", target: "/widget/preview?business-type=restaurant", expectedStatus: http.StatusOK, expectedFragment: []string{`id="fw-cats"`, "Reservation", `class="fw-panel fw-open"`}},
		{name: "message step", target: "/widget/preview?business-type=restaurant&category=Complaint", expectedStatus: http.StatusOK, expectedFragment: []string{`id="fw-msg"`, "Tell us what happened so we can make it right…"}},
		{name: "dark theme", target: "/widget/preview?theme=dark", expectedStatus: http.StatusOK, expectedFragment: []string{`data-theme="dark"`, `class="fw-root fw-dark"`}},
		{name: "unknown category", target: "/widget/preview?category=nope", expectedStatus: http.StatusInternalServerError},
	}
	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			recorder := serve(newScriptRouter(), testCase.target, nil)
			require.Equal(testingT, testCase.expectedStatus, recorder.Code)
			for _, fragment := range testCase.expectedFragment {
				require.Contains(testingT, recorder.Body.String(), fragment)
			}
		})
	}
}

func TestRenderPreviewIncludesStylesheetOnce(testingT *testing.T) {
	markup, previewErr := httpapi.RenderPreview(widget.ResolveConfig(nil, "https://docs.example"), "", "")
	require.NoError(testingT, previewErr)
	require.Equal(testingT, 1, strings.Count(markup, widget.StylesheetMarkerAttribute))
	require.Contains(testingT, markup, `class="fw-trigger fw-trigger-open"`)
}
