package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/httpapi"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/ratelimit"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/storage"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/task"
)

const (
	commandUseName                       = "server"
	commandShortDescription              = "Run the feedback intake server"
	commandLongDescription               = "Serve widget.js, accept widget submissions and expose them to the triage service"
	missingConfigurationMessage          = "missing required configuration"
	loggerCreationErrorMessage           = "logger"
	logEventListening                    = "listening"
	logEventShutdown                     = "shutdown"
	logFieldAddress                      = "addr"
	logFieldMode                         = "mode"
	flagNameApplicationAddress           = "app-addr"
	flagNameDatabaseDriver               = "db-driver"
	flagNameDatabaseDataSourceName       = "db-dsn"
	flagNameAdminBearerToken             = "admin-bearer-token"
	flagNamePublicFeedbackEndpoint       = "public-feedback-endpoint"
	flagNameMonthlyQuota                 = "monthly-quota"
	flagNameRateLimitPerMinute           = "rate-limit-per-minute"
	flagNameScreenshotRetention          = "screenshot-retention"
	flagNameServeMode                    = "serve-mode"
	flagUsageApplicationAddress          = "address for the HTTP server to listen on"
	flagUsageDatabaseDriver              = "database driver name"
	flagUsageDatabaseDataSourceName      = "database connection string"
	flagUsageAdminBearerToken            = "bearer token required for admin API access (empty disables the admin API)"
	flagUsagePublicFeedbackEndpoint      = "feedback endpoint baked into widget.js when the embed omits api-url"
	flagUsageMonthlyQuota                = "submissions accepted per source per calendar month (0 disables)"
	flagUsageRateLimitPerMinute          = "submissions accepted per source and client IP per minute (0 disables)"
	flagUsageScreenshotRetention         = "how long screenshots are kept before being cleared (0 keeps them)"
	flagUsageServeMode                   = "route groups to serve: all, intake or admin"
	environmentKeyApplicationAddress     = "APP_ADDR"
	environmentKeyDatabaseDriver         = "DB_DRIVER"
	environmentKeyDatabaseDataSource     = "DB_DSN"
	environmentKeyAdminBearerToken       = "ADMIN_BEARER_TOKEN"
	environmentKeyPublicFeedbackEndpoint = "PUBLIC_FEEDBACK_ENDPOINT"
	environmentKeyMonthlyQuota           = "MONTHLY_QUOTA"
	environmentKeyRateLimitPerMinute     = "RATE_LIMIT_PER_MINUTE"
	environmentKeyScreenshotRetention    = "SCREENSHOT_RETENTION"
	environmentKeyServeMode              = "SERVE_MODE"
	defaultApplicationAddress            = ":8080"
	defaultMonthlyQuota                  = 1000
	defaultRateLimitPerMinute            = 6
	defaultScreenshotRetention           = 30 * 24 * time.Hour
	retentionSchedulerName               = "screenshot_retention"
	loggerContextOpenDatabase            = "open_db"
	loggerContextAutoMigrate             = "migrate"
	loggerContextServer                  = "server"
	readHeaderTimeout                    = 5 * time.Second
	shutdownTimeout                      = 10 * time.Second
	unexpectedArgumentsMessage           = "unexpected command arguments"
	commandInitializationFailure         = "failed to configure command"
	flagNotDefinedMessage                = "flag %s not defined"
	environmentConfigurationError        = "failed to apply environment configuration"
)

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress     string
	DatabaseDriverName     string
	DatabaseDataSourceName string
	AdminBearerToken       string
	PublicFeedbackEndpoint string
	MonthlyQuota           int64
	RateLimitPerMinute     int
	ScreenshotRetention    time.Duration
	ServeMode              ServeMode
}

// DatabaseOpener opens a database connection for the configured driver.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
}

type flagBinding struct {
	environmentKey string
	flagName       string
}

var serverFlagBindings = []flagBinding{
	{environmentKey: environmentKeyApplicationAddress, flagName: flagNameApplicationAddress},
	{environmentKey: environmentKeyDatabaseDriver, flagName: flagNameDatabaseDriver},
	{environmentKey: environmentKeyDatabaseDataSource, flagName: flagNameDatabaseDataSourceName},
	{environmentKey: environmentKeyAdminBearerToken, flagName: flagNameAdminBearerToken},
	{environmentKey: environmentKeyPublicFeedbackEndpoint, flagName: flagNamePublicFeedbackEndpoint},
	{environmentKey: environmentKeyMonthlyQuota, flagName: flagNameMonthlyQuota},
	{environmentKey: environmentKeyRateLimitPerMinute, flagName: flagNameRateLimitPerMinute},
	{environmentKey: environmentKeyScreenshotRetention, flagName: flagNameScreenshotRetention},
	{environmentKey: environmentKeyServeMode, flagName: flagNameServeMode},
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.SetDefault(environmentKeyApplicationAddress, defaultApplicationAddress)
	application.configurationLoader.SetDefault(environmentKeyDatabaseDriver, storage.DriverNameSQLite)
	application.configurationLoader.SetDefault(environmentKeyDatabaseDataSource, "")
	application.configurationLoader.SetDefault(environmentKeyAdminBearerToken, "")
	application.configurationLoader.SetDefault(environmentKeyPublicFeedbackEndpoint, "")
	application.configurationLoader.SetDefault(environmentKeyMonthlyQuota, defaultMonthlyQuota)
	application.configurationLoader.SetDefault(environmentKeyRateLimitPerMinute, defaultRateLimitPerMinute)
	application.configurationLoader.SetDefault(environmentKeyScreenshotRetention, defaultScreenshotRetention)
	application.configurationLoader.SetDefault(environmentKeyServeMode, string(ServeModeAll))
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	commandFlags.String(flagNameApplicationAddress, defaultApplicationAddress, flagUsageApplicationAddress)
	commandFlags.String(flagNameDatabaseDriver, storage.DriverNameSQLite, flagUsageDatabaseDriver)
	commandFlags.String(flagNameDatabaseDataSourceName, "", flagUsageDatabaseDataSourceName)
	commandFlags.String(flagNameAdminBearerToken, "", flagUsageAdminBearerToken)
	commandFlags.String(flagNamePublicFeedbackEndpoint, "", flagUsagePublicFeedbackEndpoint)
	commandFlags.Int64(flagNameMonthlyQuota, defaultMonthlyQuota, flagUsageMonthlyQuota)
	commandFlags.Int(flagNameRateLimitPerMinute, defaultRateLimitPerMinute, flagUsageRateLimitPerMinute)
	commandFlags.Duration(flagNameScreenshotRetention, defaultScreenshotRetention, flagUsageScreenshotRetention)
	commandFlags.String(flagNameServeMode, string(ServeModeAll), flagUsageServeMode)

	for _, binding := range serverFlagBindings {
		if bindErr := application.bindFlag(commandFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}
	}

	for _, binding := range serverFlagBindings {
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	if markErr := command.MarkFlagRequired(flagNameDatabaseDataSourceName); markErr != nil {
		return markErr
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadServerConfig() (ServerConfig, error) {
	serveMode, serveModeErr := ParseServeMode(application.configurationLoader.GetString(environmentKeyServeMode))
	if serveModeErr != nil {
		return ServerConfig{}, serveModeErr
	}
	return ServerConfig{
		ApplicationAddress:     application.configurationLoader.GetString(environmentKeyApplicationAddress),
		DatabaseDriverName:     strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDataSourceName: strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDataSource)),
		AdminBearerToken:       strings.TrimSpace(application.configurationLoader.GetString(environmentKeyAdminBearerToken)),
		PublicFeedbackEndpoint: strings.TrimSpace(application.configurationLoader.GetString(environmentKeyPublicFeedbackEndpoint)),
		MonthlyQuota:           application.configurationLoader.GetInt64(environmentKeyMonthlyQuota),
		RateLimitPerMinute:     application.configurationLoader.GetInt(environmentKeyRateLimitPerMinute),
		ScreenshotRetention:    application.configurationLoader.GetDuration(environmentKeyScreenshotRetention),
		ServeMode:              serveMode,
	}, nil
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig, configErr := application.loadServerConfig()
	if configErr != nil {
		return configErr
	}
	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriverName,
		DataSourceName: serverConfig.DatabaseDataSourceName,
	})
	if databaseErr != nil {
		logger.Error(loggerContextOpenDatabase, zap.Error(databaseErr))
		return databaseErr
	}

	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Error(loggerContextAutoMigrate, zap.Error(migrateErr))
		return migrateErr
	}

	components, componentsErr := buildServerComponents(serverConfig, database, logger)
	if componentsErr != nil {
		return componentsErr
	}

	signalContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	if components.retentionScheduler != nil {
		components.retentionScheduler.Start(signalContext)
		defer components.retentionScheduler.Stop()
	}
	defer components.broadcaster.Close()

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           components.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErrors := make(chan error, 1)
	go func() {
		logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress), zap.String(logFieldMode, string(serverConfig.ServeMode)))
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case serveErr := <-serveErrors:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error(loggerContextServer, zap.Error(serveErr))
			return serveErr
		}
		return nil
	case <-signalContext.Done():
	}

	logger.Info(logEventShutdown)
	// Open SSE streams only end once the broadcaster closes.
	components.broadcaster.Close()
	shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if shutdownErr := httpServer.Shutdown(shutdownContext); shutdownErr != nil {
		logger.Warn(loggerContextServer, zap.Error(shutdownErr))
		return shutdownErr
	}
	return nil
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.DatabaseDriverName == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDriver)
	}

	if configuration.DatabaseDataSourceName == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDataSourceName)
	}

	if len(missingParameters) == 0 {
		return nil
	}

	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

type serverComponents struct {
	router             *gin.Engine
	broadcaster        *httpapi.FeedbackEventBroadcaster
	retentionScheduler *task.Scheduler
}

// buildServerComponents wires storage, limits and handlers into a router for
// the configured serve mode.
func buildServerComponents(configuration ServerConfig, database *gorm.DB, logger *zap.Logger) (serverComponents, error) {
	store, storeErr := storage.NewFeedbackStore(database)
	if storeErr != nil {
		return serverComponents{}, storeErr
	}
	broadcaster := httpapi.NewFeedbackEventBroadcaster()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))
	registerHealthRoute(router, configuration.ServeMode)

	if configuration.ServeMode.servesIntake() {
		limiter, limiterErr := ratelimit.NewLimiter(ratelimit.LimiterConfig{RequestsPerMinute: configuration.RateLimitPerMinute})
		if limiterErr != nil {
			return serverComponents{}, limiterErr
		}
		intakeHandlers := httpapi.NewIntakeHandlers(httpapi.IntakeConfig{
			Repository:  store,
			Limiter:     limiter,
			Quota:       ratelimit.NewQuota(configuration.MonthlyQuota, store),
			Broadcaster: broadcaster,
			Logger:      logger,
		})
		scriptHandlers := httpapi.NewWidgetScriptHandlers(httpapi.WidgetScriptConfig{
			PublicEndpoint: configuration.PublicFeedbackEndpoint,
			Logger:         logger,
		})
		registerIntakeRoutes(router, intakeHandlers, scriptHandlers)
	}

	if configuration.ServeMode.servesAdmin() {
		adminHandlers := httpapi.NewAdminHandlers(httpapi.AdminConfig{
			Reader:      store,
			Broadcaster: broadcaster,
			Logger:      logger,
		})
		registerAdminRoutes(router, adminHandlers, configuration.AdminBearerToken)
	}

	components := serverComponents{router: router, broadcaster: broadcaster}
	if configuration.ScreenshotRetention > 0 {
		retentionJob, retentionErr := task.NewScreenshotRetentionJob(store, logger, task.ScreenshotRetentionConfig{
			Retention: configuration.ScreenshotRetention,
		})
		if retentionErr != nil {
			return serverComponents{}, retentionErr
		}
		components.retentionScheduler = task.NewScheduler(task.SchedulerConfig{
			Name:       retentionSchedulerName,
			Runner:     retentionJob.Runner(),
			RunOnStart: true,
			Logger:     logger,
		})
	}
	return components, nil
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
