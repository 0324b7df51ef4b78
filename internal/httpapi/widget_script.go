package httpapi

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/dom"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

const (
	contentTypeJavaScript = "application/javascript; charset=utf-8"
	contentTypeHTML       = "text/html; charset=utf-8"

	queryKeyCategory = "category"
	queryKeyTheme    = "theme"

	html2canvasURL = "https://cdn.jsdelivr.net/npm/html2canvas@1.4.1/dist/html2canvas.min.js"

	previewPageMarkupFormat = `<!DOCTYPE html><html%s><head><meta charset="utf-8"><title>Widget preview</title></head><body></body></html>`
)

//go:embed assets/widget.js
var widgetScriptSource string

var widgetScriptTemplate = template.Must(template.New("widget.js").Parse(widgetScriptSource))

// scriptConfig is the subset of widget.Config the browser binding acts on.
type scriptConfig struct {
	Source         string  `json:"source"`
	Endpoint       string  `json:"endpoint"`
	APIKey         string  `json:"apiKey,omitempty"`
	APIKeyHeader   string  `json:"apiKeyHeader"`
	Mode           string  `json:"mode,omitempty"`
	WidgetVersion  string  `json:"widgetVersion,omitempty"`
	ThrottleMillis int64   `json:"throttleMs"`
	AutoCloseMs    int64   `json:"autoCloseMs"`
	ResetMs        int64   `json:"resetMs"`
	ErrorCapacity  int     `json:"errorCapacity"`
	ScreenshotLib  string  `json:"screenshotLib"`
	ScreenshotSize float64 `json:"screenshotScale"`
	ScreenshotQ    float64 `json:"screenshotQuality"`
	GuardKey       string  `json:"guardKey"`
	GlobalKey      string  `json:"globalKey"`
	ThemeAttribute string  `json:"themeAttribute"`
}

// scriptBundle carries markup pre-rendered by the Go view templates, so the browser
// binding only toggles between fragments and fills in field values.
type scriptBundle struct {
	Config        scriptConfig                 `json:"config"`
	Stylesheet    string                       `json:"stylesheet"`
	FontLinks     []string                     `json:"fontLinks"`
	TriggerClosed string                       `json:"triggerClosed"`
	TriggerOpen   string                       `json:"triggerOpen"`
	CategoryStep  string                       `json:"categoryStep"`
	MessageSteps  map[string]string            `json:"messageSteps"`
	Success       string                       `json:"success"`
	Notices       map[widget.NoticeKind]string `json:"notices"`
	SubmitIdle    string                       `json:"submitIdle"`
	SubmitSending string                       `json:"submitSending"`
}

type WidgetScriptConfig struct {
	// PublicEndpoint replaces the widget default endpoint when the embed omits api-url.
	PublicEndpoint string
	Logger         *zap.Logger
}

// WidgetScriptHandlers serve the browser binding and the server-side preview.
type WidgetScriptHandlers struct {
	publicEndpoint string
	logger         *zap.Logger
}

func NewWidgetScriptHandlers(config WidgetScriptConfig) *WidgetScriptHandlers {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WidgetScriptHandlers{publicEndpoint: strings.TrimSpace(config.PublicEndpoint), logger: logger}
}

// WidgetJS renders /widget.js for the embed attributes carried on its query string.
func (handlers *WidgetScriptHandlers) WidgetJS(context *gin.Context) {
	configuration := handlers.resolveConfig(context)
	script, renderErr := renderWidgetScript(configuration)
	if renderErr != nil {
		handlers.logger.Error("render_widget_script", zap.Error(renderErr))
		context.String(http.StatusInternalServerError, "/* render error */")
		return
	}
	context.Header("Cache-Control", "public, max-age=300")
	context.Data(http.StatusOK, contentTypeJavaScript, []byte(script))
}

// Preview renders a page in which the Go runtime has built the widget and opened
// its panel, optionally on the message step of ?category=.
func (handlers *WidgetScriptHandlers) Preview(context *gin.Context) {
	configuration := handlers.resolveConfig(context)
	markup, previewErr := RenderPreview(configuration, context.Query(queryKeyCategory), context.Query(queryKeyTheme))
	if previewErr != nil {
		handlers.logger.Warn("render_widget_preview", zap.Error(previewErr))
		context.String(http.StatusInternalServerError, "render error")
		return
	}
	context.Data(http.StatusOK, contentTypeHTML, []byte(markup))
}

func (handlers *WidgetScriptHandlers) resolveConfig(context *gin.Context) widget.Config {
	attributes := widget.AttributesFromQuery(context.Request.URL.Query())
	if _, explicit := attributes[widget.AttributeAPIURL]; !explicit && handlers.publicEndpoint != "" {
		attributes[widget.AttributeAPIURL] = handlers.publicEndpoint
	}
	return widget.ResolveConfig(attributes, context.GetHeader("Referer"))
}

// RenderPreview runs the widget on an in-memory page and serialises the result.
func RenderPreview(configuration widget.Config, category string, theme string) (string, error) {
	rootAttributes := ""
	if normalizedTheme := strings.ToLower(strings.TrimSpace(theme)); normalizedTheme == string(widget.ThemeDark) || normalizedTheme == string(widget.ThemeLight) {
		rootAttributes = fmt.Sprintf(` %s="%s"`, widget.ThemeAttribute, normalizedTheme)
	}
	page, pageErr := dom.NewPage(dom.PageInput{Markup: fmt.Sprintf(previewPageMarkupFormat, rootAttributes)})
	if pageErr != nil {
		return "", pageErr
	}
	runtime := widget.NewRuntime(configuration, widget.Dependencies{Host: page})
	if !runtime.Init() {
		return "", fmt.Errorf("render preview: widget did not initialise")
	}
	defer runtime.Teardown()

	runtime.Open()
	if trimmedCategory := strings.TrimSpace(category); trimmedCategory != "" {
		if selectErr := runtime.SelectCategory(trimmedCategory); selectErr != nil {
			return "", fmt.Errorf("render preview: %w", selectErr)
		}
	}
	return page.Serialize()
}

func renderWidgetScript(configuration widget.Config) (string, error) {
	bundle, bundleErr := buildScriptBundle(configuration)
	if bundleErr != nil {
		return "", bundleErr
	}
	bundleJSON, marshalErr := json.Marshal(bundle)
	if marshalErr != nil {
		return "", fmt.Errorf("encode widget bundle: %w", marshalErr)
	}
	var buffer bytes.Buffer
	if executeErr := widgetScriptTemplate.Execute(&buffer, map[string]any{
		"Bundle":  string(bundleJSON),
		"Version": configuration.WidgetVersion,
	}); executeErr != nil {
		return "", fmt.Errorf("render widget template: %w", executeErr)
	}
	return buffer.String(), nil
}

func buildScriptBundle(configuration widget.Config) (scriptBundle, error) {
	stylesheet, stylesheetErr := widget.RenderStylesheet(configuration)
	if stylesheetErr != nil {
		return scriptBundle{}, stylesheetErr
	}

	closedView := widget.Project(configuration, widget.InitialState(), widget.Draft{}, widget.NoticeNone)
	openState := widget.InitialState()
	openState.Open = true
	openView := widget.Project(configuration, openState, widget.Draft{}, widget.NoticeNone)

	bundle := scriptBundle{
		Config:        newScriptConfig(configuration),
		Stylesheet:    stylesheet,
		FontLinks:     []string{widget.FontStylesheetURL, widget.SerifOnlyStylesheetURL},
		MessageSteps:  make(map[string]string, len(configuration.Categories)),
		Notices:       make(map[widget.NoticeKind]string),
		SubmitIdle:    openView.SubmitLabel,
		SubmitSending: widget.Project(configuration, widget.State{Open: true, Step: widget.StepMessage, Status: widget.StatusSending}, widget.Draft{}, widget.NoticeNone).SubmitLabel,
	}

	var renderErr error
	if bundle.TriggerClosed, renderErr = widget.RenderTrigger(closedView); renderErr != nil {
		return scriptBundle{}, renderErr
	}
	if bundle.TriggerOpen, renderErr = widget.RenderTrigger(openView); renderErr != nil {
		return scriptBundle{}, renderErr
	}
	if bundle.CategoryStep, renderErr = widget.RenderPanel(openView); renderErr != nil {
		return scriptBundle{}, renderErr
	}

	for _, category := range configuration.Categories {
		messageState := widget.State{Open: true, Step: widget.StepMessage, Category: category.Value, Status: widget.StatusIdle}
		markup, messageErr := widget.RenderPanel(widget.Project(configuration, messageState, widget.Draft{}, widget.NoticeNone))
		if messageErr != nil {
			return scriptBundle{}, messageErr
		}
		bundle.MessageSteps[category.Value] = markup
	}

	successState := widget.State{Open: true, Step: widget.StepMessage, Status: widget.StatusSuccess}
	if bundle.Success, renderErr = widget.RenderPanel(widget.Project(configuration, successState, widget.Draft{}, widget.NoticeNone)); renderErr != nil {
		return scriptBundle{}, renderErr
	}

	for _, kind := range []widget.NoticeKind{widget.NoticeThrottled, widget.NoticeFailed, widget.NoticeRateLimited, widget.NoticeQuotaExceeded} {
		bundle.Notices[kind] = kind.Text()
	}
	return bundle, nil
}

func newScriptConfig(configuration widget.Config) scriptConfig {
	screenshot := configuration.Screenshot
	if screenshot.Scale <= 0 {
		screenshot = widget.DefaultScreenshotOptions()
	}
	return scriptConfig{
		Source:         configuration.Source,
		Endpoint:       configuration.Endpoint,
		APIKey:         configuration.APIKey,
		APIKeyHeader:   widget.APIKeyHeader,
		Mode:           configuration.Mode(),
		WidgetVersion:  configuration.WidgetVersion,
		ThrottleMillis: configuration.Throttle.Interval.Milliseconds(),
		AutoCloseMs:    configuration.AutoCloseDelay.Milliseconds(),
		ResetMs:        configuration.ResetDelay.Milliseconds(),
		ErrorCapacity:  widget.DefaultErrorCapacity,
		ScreenshotLib:  html2canvasURL,
		ScreenshotSize: screenshot.Scale,
		ScreenshotQ:    float64(screenshot.Quality) / 100,
		GuardKey:       widget.GuardKey,
		GlobalKey:      widget.GlobalAPIKey,
		ThemeAttribute: widget.ThemeAttribute,
	}
}
