package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/tutor-be/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a plain function to HealthChecker
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Options configures the router beyond the handler dependencies
type Options struct {
	Tokens         TokenVerifier
	AllowedOrigins []string
	ServiceName    string

	// Health names each backing service /health reports on
	Health map[string]HealthChecker
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		checks := make(map[string]string, len(opts.Health))
		for name, checker := range opts.Health {
			if err := checker.HealthCheck(ctx); err != nil {
				status, code = "unhealthy", http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}

		c.JSON(code, gin.H{
			"status":  status,
			"service": opts.ServiceName,
			"checks":  checks,
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	generateHandler := handler.NewGenerateHandler(deps)
	libraryHandler := handler.NewLibraryHandler(deps)
	analyticsHandler := handler.NewAnalyticsHandler(deps)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(opts.Tokens))
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
			jobs.GET("/:job_id/events", jobHandler.StreamJobEvents)
		}

		v1.POST("/generate", generateHandler.Generate)

		lib := v1.Group("/library")
		{
			lib.GET("", libraryHandler.ListItems)
			lib.GET("/:item_id", libraryHandler.GetItem)
			lib.DELETE("/:item_id", libraryHandler.DeleteItem)
			lib.POST("/:item_id/favorite/toggle", libraryHandler.ToggleFavorite)
			lib.PUT("/:item_id/favorite", libraryHandler.SetFavorite)
			lib.PUT("/:item_id/tags", libraryHandler.UpdateTags)
		}

		v1.POST("/analytics/export", analyticsHandler.ExportCSV)
	}

	return r
}
