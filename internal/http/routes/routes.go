package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phambaophuc/brushset-converter/internal/http/handlers"
	"github.com/phambaophuc/brushset-converter/internal/http/middleware"
	"go.uber.org/zap"
)

type Router struct {
	brushsetHandler *handlers.BrushsetHandler
	logger          *zap.Logger
}

func NewRouter(
	brushsetHandler *handlers.BrushsetHandler,
	logger *zap.Logger,
) *Router {
	return &Router{
		brushsetHandler: brushsetHandler,
		logger:          logger,
	}
}

func (r *Router) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(r.logger))
	router.Use(middleware.ErrorHandler(r.logger))
	router.Use(middleware.CORS())
	router.Use(middleware.SecurityHeaders())

	// API version 1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", r.brushsetHandler.HealthCheck)
		v1.POST("/convert", middleware.RequireMultipart(), r.brushsetHandler.Convert)
	}

	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":  "OK",
			"message": "Brushset converter is running",
		})
	})

	return router
}
