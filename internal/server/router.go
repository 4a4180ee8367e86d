package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/spoolhq/content-service/internal/handlers"
	"github.com/spoolhq/content-service/internal/middleware"
	"github.com/spoolhq/content-service/internal/platform/envutil"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

type RouterConfig struct {
	ServiceName      string
	Log              *logger.Logger
	IngestionHandler *handlers.IngestionHandler
	SearchHandler    *handlers.SearchHandler
	LibraryHandler   *handlers.LibraryHandler
	HealthHandler    *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if strings.EqualFold(envutil.Str("ENVIRONMENT", ""), "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestLogger(cfg.Log))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(envutil.Str("CORS_ALLOW_ORIGINS", "http://localhost:3000"), ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/health", cfg.HealthHandler.Health)

	api := router.Group("/api/content")
	{
		api.POST("/upload", cfg.IngestionHandler.Upload)
		api.GET("/jobs", cfg.IngestionHandler.ListJobs)
		api.GET("/status/:job_id", cfg.IngestionHandler.GetJob)
		api.POST("/jobs/:job_id/cancel", cfg.IngestionHandler.CancelJob)

		api.POST("/search", cfg.SearchHandler.Search)

		api.GET("/books", cfg.LibraryHandler.ListBooks)
		api.GET("/books/:id", cfg.LibraryHandler.GetBook)
		api.POST("/books/:id/reconcile", cfg.LibraryHandler.Reconcile)
		api.DELETE("/books/:id", cfg.LibraryHandler.DeleteBook)

		api.GET("/graph/concept/:id", cfg.LibraryHandler.ConceptGraph)
		api.GET("/graph/path", cfg.LibraryHandler.LearningPath)
	}

	return router
}
