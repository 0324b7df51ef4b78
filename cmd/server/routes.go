package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/httpapi"
	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/widget"
)

const (
	publicRouteFeedback      = "/api/feedback"
	publicRouteWidget        = "/widget.js"
	publicRouteWidgetPreview = "/widget/preview"
	adminRoutePrefix         = "/api/admin"
	adminRouteFeedback       = "/feedback"
	adminRouteFeedbackEvents = "/feedback/events"
	adminRouteFeedbackByID   = "/feedback/:id"
	healthRoute              = "/healthz"
	corsOriginWildcard       = "*"
	corsHeaderAuthorization  = "Authorization"
	corsHeaderContentType    = "Content-Type"
	corsMaxAge               = 12 * time.Hour
)

var (
	corsAllowedMethods = []string{http.MethodPost, http.MethodGet, http.MethodOptions}
	corsAllowedHeaders = []string{corsHeaderAuthorization, corsHeaderContentType, widget.APIKeyHeader, httpapi.RequestIDHeader}
	corsExposedHeaders = []string{corsHeaderContentType, httpapi.RequestIDHeader}
)

func newPublicCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{corsOriginWildcard},
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           corsMaxAge,
	})
}

// registerIntakeRoutes mounts the endpoints embedding pages talk to. They accept
// any origin because the widget runs on third-party sites.
func registerIntakeRoutes(router *gin.Engine, intakeHandlers *httpapi.IntakeHandlers, scriptHandlers *httpapi.WidgetScriptHandlers) {
	publicGroup := router.Group("/")
	publicGroup.Use(newPublicCORS())
	publicGroup.POST(publicRouteFeedback, intakeHandlers.CreateFeedback)
	publicGroup.OPTIONS(publicRouteFeedback, func(context *gin.Context) {
		context.Status(http.StatusNoContent)
	})
	publicGroup.GET(publicRouteWidget, scriptHandlers.WidgetJS)
	publicGroup.GET(publicRouteWidgetPreview, scriptHandlers.Preview)
}

func registerAdminRoutes(router *gin.Engine, adminHandlers *httpapi.AdminHandlers, adminBearerToken string) {
	adminGroup := router.Group(adminRoutePrefix)
	adminGroup.Use(httpapi.AdminAuthMiddleware(adminBearerToken))
	adminGroup.GET(adminRouteFeedback, adminHandlers.ListFeedback)
	adminGroup.GET(adminRouteFeedbackEvents, adminHandlers.StreamFeedbackEvents)
	adminGroup.GET(adminRouteFeedbackByID, adminHandlers.GetFeedback)
}

func registerHealthRoute(router *gin.Engine, mode ServeMode) {
	router.GET(healthRoute, func(context *gin.Context) {
		context.JSON(http.StatusOK, gin.H{"status": "ok", "mode": string(mode)})
	})
}
