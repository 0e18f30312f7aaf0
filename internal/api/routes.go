package api

import (
	"github.com/gin-gonic/gin"
	"github.com/goodtune/promptrelay/internal/quota"
	"github.com/rs/zerolog"
)

// Deps holds dependencies needed for API routes.
type Deps struct {
	Limiter        *quota.Limiter
	Generator      Generator
	Logger         zerolog.Logger
	AllowedOrigins []string
	ClientIPHeader string
}

// SetupRoutes registers all API routes with the Gin engine.
func SetupRoutes(r *gin.Engine, deps *Deps) {
	// Global middleware
	r.Use(RequestIDMiddleware())
	r.Use(ClientIdentityMiddleware(deps.ClientIPHeader))
	r.Use(MetricsMiddleware())
	r.Use(LoggingMiddleware(deps.Logger))

	if len(deps.AllowedOrigins) > 0 {
		r.Use(CORSMiddleware(deps.AllowedOrigins))
	}

	views := NewViews(deps.Limiter, deps.Generator, deps.Logger)

	r.GET("/", views.Health)
	r.GET("/usage", views.Usage)
	r.POST("/generate", views.Generate)

	r.NoRoute(func(ctx *gin.Context) {
		abortWithError(ctx, errNotFound)
	})
}
