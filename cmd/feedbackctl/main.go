package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/dom"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/screenshot"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

const (
	rootCommandUseName              = "feedbackctl"
	rootCommandShortDescription     = "Drive the feedback widget from the command line"
	submitCommandUseName            = "submit"
	submitCommandShortDescription   = "Open the widget on a page, fill it in and submit"
	flagNameMessage                 = "message"
	flagNameCategory                = "category"
	flagNameEmail                   = "email"
	flagNameScreenshot              = "screenshot"
	flagNamePageFile                = "page-file"
	flagNamePageURL                 = "page-url"
	flagNameUserAgent               = "user-agent"
	flagNameAttribute               = "attr"
	flagNameEndpoint                = "endpoint"
	flagNameAPIKey                  = "api-key"
	flagNameTimeout                 = "timeout"
	flagNameVerbose                 = "verbose"
	flagUsageMessage                = "feedback message to send"
	flagUsageCategory               = "category value to select (defaults to the first category)"
	flagUsageEmail                  = "optional reply-to email"
	flagUsageScreenshot             = "attach a screenshot rendered by headless Chrome"
	flagUsagePageFile               = "HTML file used as the host page"
	flagUsagePageURL                = "URL the host page pretends to be served from"
	flagUsageUserAgent              = "user agent reported in the submission metadata"
	flagUsageAttribute              = "embed attribute as key=value (repeatable)"
	flagUsageEndpoint               = "feedback endpoint, same as --attr api-url=…"
	flagUsageAPIKey                 = "project key, same as --attr key=…"
	flagUsageTimeout                = "overall submission timeout"
	flagUsageVerbose                = "log runtime events to stderr"
	environmentKeyEndpoint          = "FEEDBACK_ENDPOINT"
	environmentKeyAPIKey            = "FEEDBACK_API_KEY"
	defaultPageURL                  = "https://localhost/"
	defaultUserAgent                = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	defaultLanguage                 = "en-US"
	defaultTimeout                  = time.Minute
	attributeSeparator              = "="
	flagNotDefinedMessage           = "flag %s not defined"
	commandInitializationFailure    = "failed to configure command"
	submissionOutcomeMessage        = "feedback submitted: source=%s category=%s screenshot=%t\n"
	submissionFailedMessage         = "submission failed"
	runtimeUnavailableMessage       = "widget already initialised on this page"
	defaultViewportWidth            = screenshot.DefaultViewportWidth
	defaultViewportHeight           = screenshot.DefaultViewportHeight
	defaultScreenWidth              = 1920
	defaultScreenHeight             = 1080
	defaultPixelRatio               = 1.0
	loggerCreationErrorMessage      = "logger"
	logEventScreenshotBrowserClosed = "screenshot_browser_closed"
)

var (
	ErrInvalidAttribute   = errors.New("invalid attribute, expected key=value")
	ErrRuntimeUnavailable = errors.New(runtimeUnavailableMessage)
)

// SubmitOptions are the resolved inputs of one submit run.
type SubmitOptions struct {
	Message    string
	Category   string
	Email      string
	Screenshot bool
	PageFile   string
	PageURL    string
	UserAgent  string
	Attributes []string
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	Verbose    bool
}

// CLIApplication constructs and executes the feedbackctl commands.
type CLIApplication struct {
	configurationLoader *viper.Viper
	httpClient          *http.Client
}

func NewCLIApplication() *CLIApplication {
	return &CLIApplication{configurationLoader: viper.New()}
}

// WithHTTPClient overrides the client used to reach the feedback endpoint.
func (application *CLIApplication) WithHTTPClient(httpClient *http.Client) *CLIApplication {
	application.httpClient = httpClient
	return application
}

// Command builds the root command with its subcommands.
func (application *CLIApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:           rootCommandUseName,
		Short:         rootCommandShortDescription,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	submitCommand := &cobra.Command{
		Use:   submitCommandUseName,
		Short: submitCommandShortDescription,
		Args:  cobra.NoArgs,
		RunE:  application.runSubmit,
	}
	if configurationErr := application.configureSubmitCommand(submitCommand); configurationErr != nil {
		return nil, configurationErr
	}
	rootCommand.AddCommand(submitCommand)
	return rootCommand, nil
}

func (application *CLIApplication) configureSubmitCommand(command *cobra.Command) error {
	application.configurationLoader.SetDefault(environmentKeyEndpoint, "")
	application.configurationLoader.SetDefault(environmentKeyAPIKey, "")
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	commandFlags.String(flagNameMessage, "", flagUsageMessage)
	commandFlags.String(flagNameCategory, "", flagUsageCategory)
	commandFlags.String(flagNameEmail, "", flagUsageEmail)
	commandFlags.Bool(flagNameScreenshot, false, flagUsageScreenshot)
	commandFlags.String(flagNamePageFile, "", flagUsagePageFile)
	commandFlags.String(flagNamePageURL, defaultPageURL, flagUsagePageURL)
	commandFlags.String(flagNameUserAgent, defaultUserAgent, flagUsageUserAgent)
	commandFlags.StringArray(flagNameAttribute, nil, flagUsageAttribute)
	commandFlags.String(flagNameEndpoint, "", flagUsageEndpoint)
	commandFlags.String(flagNameAPIKey, "", flagUsageAPIKey)
	commandFlags.Duration(flagNameTimeout, defaultTimeout, flagUsageTimeout)
	commandFlags.Bool(flagNameVerbose, false, flagUsageVerbose)

	if bindErr := application.bindFlag(commandFlags, environmentKeyEndpoint, flagNameEndpoint); bindErr != nil {
		return bindErr
	}
	if bindErr := application.bindFlag(commandFlags, environmentKeyAPIKey, flagNameAPIKey); bindErr != nil {
		return bindErr
	}

	return command.MarkFlagRequired(flagNameMessage)
}

func (application *CLIApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}
	return application.configurationLoader.BindPFlag(environmentKey, flag)
}

func (application *CLIApplication) runSubmit(command *cobra.Command, _ []string) error {
	commandFlags := command.Flags()
	options := SubmitOptions{
		Endpoint: strings.TrimSpace(application.configurationLoader.GetString(environmentKeyEndpoint)),
		APIKey:   strings.TrimSpace(application.configurationLoader.GetString(environmentKeyAPIKey)),
	}
	options.Message, _ = commandFlags.GetString(flagNameMessage)
	options.Category, _ = commandFlags.GetString(flagNameCategory)
	options.Email, _ = commandFlags.GetString(flagNameEmail)
	options.Screenshot, _ = commandFlags.GetBool(flagNameScreenshot)
	options.PageFile, _ = commandFlags.GetString(flagNamePageFile)
	options.PageURL, _ = commandFlags.GetString(flagNamePageURL)
	options.UserAgent, _ = commandFlags.GetString(flagNameUserAgent)
	options.Attributes, _ = commandFlags.GetStringArray(flagNameAttribute)
	options.Timeout, _ = commandFlags.GetDuration(flagNameTimeout)
	options.Verbose, _ = commandFlags.GetBool(flagNameVerbose)

	logger := zap.NewNop()
	if options.Verbose {
		developmentLogger, loggerErr := zap.NewDevelopment()
		if loggerErr != nil {
			return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
		}
		logger = developmentLogger
		defer func() {
			_ = logger.Sync()
		}()
	}

	ctx := command.Context()
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}
	return application.submit(ctx, options, command.OutOrStdout(), logger)
}

// submit drives one widget runtime through open, category, message and submit.
func (application *CLIApplication) submit(ctx context.Context, options SubmitOptions, output io.Writer, logger *zap.Logger) error {
	attributes, attributesErr := parseAttributes(options.Attributes)
	if attributesErr != nil {
		return attributesErr
	}
	if options.Endpoint != "" {
		attributes[widget.AttributeAPIURL] = options.Endpoint
	}
	if options.APIKey != "" {
		attributes[widget.AttributeKey] = options.APIKey
	}
	configuration := widget.ResolveConfig(attributes, options.PageURL)

	markup := ""
	if options.PageFile != "" {
		pageBytes, readErr := os.ReadFile(options.PageFile)
		if readErr != nil {
			return fmt.Errorf("read page file: %w", readErr)
		}
		markup = string(pageBytes)
	}
	page, pageErr := dom.NewPage(dom.PageInput{
		Markup: markup,
		Environment: widget.Environment{
			UserAgent:      options.UserAgent,
			URL:            options.PageURL,
			Language:       defaultLanguage,
			Timezone:       time.Local.String(),
			ViewportWidth:  defaultViewportWidth,
			ViewportHeight: defaultViewportHeight,
			ScreenWidth:    defaultScreenWidth,
			ScreenHeight:   defaultScreenHeight,
			PixelRatio:     defaultPixelRatio,
		},
	})
	if pageErr != nil {
		return pageErr
	}

	httpClient := application.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: options.Timeout}
	}
	dependencies := widget.Dependencies{
		Host:      page,
		Transport: widget.NewHTTPTransport(configuration.Endpoint, configuration.APIKey, httpClient),
		Logger:    logger,
	}
	var launched *screenshot.BrowserRenderer
	if options.Screenshot {
		dependencies.RendererLoader = func(loadContext context.Context) (widget.Renderer, error) {
			renderer, launchErr := screenshot.Launch(loadContext, screenshot.LoaderConfig{Page: page, Logger: logger})
			if launchErr != nil {
				return nil, launchErr
			}
			launched = renderer
			return renderer, nil
		}
	}

	runtime := widget.NewRuntime(configuration, dependencies)
	if !runtime.Init() {
		return ErrRuntimeUnavailable
	}
	defer runtime.Teardown()
	defer func() {
		if launched != nil {
			launched.Close()
			logger.Debug(logEventScreenshotBrowserClosed)
		}
	}()

	category := strings.TrimSpace(options.Category)
	if category == "" && len(configuration.Categories) > 0 {
		category = configuration.Categories[0].Value
	}
	runtime.Open()
	if selectErr := runtime.SelectCategory(category); selectErr != nil {
		return fmt.Errorf("%w: %q", selectErr, category)
	}
	runtime.SetMessage(options.Message)
	runtime.SetEmail(options.Email)
	runtime.SetScreenshot(options.Screenshot)

	if submitErr := runtime.Submit(ctx); submitErr != nil {
		if notice := runtime.Notice().Text(); notice != "" {
			return fmt.Errorf("%s (%s): %w", submissionFailedMessage, notice, submitErr)
		}
		return fmt.Errorf("%s: %w", submissionFailedMessage, submitErr)
	}
	_, writeErr := fmt.Fprintf(output, submissionOutcomeMessage, configuration.Source, category, launched != nil)
	return writeErr
}

// parseAttributes reads repeated key=value pairs the way embed attributes are
// read from a script URL, so data- prefixes are optional.
func parseAttributes(rawAttributes []string) (widget.Attributes, error) {
	values := url.Values{}
	for _, rawAttribute := range rawAttributes {
		key, value, found := strings.Cut(rawAttribute, attributeSeparator)
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAttribute, rawAttribute)
		}
		values.Set(key, value)
	}
	return widget.AttributesFromQuery(values), nil
}

func main() {
	application := NewCLIApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
