package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tieubaoca/docrag/middleware"
)

type RouterConfig struct {
	JWTSecret      string
	RequestTimeout time.Duration
}

// NewRouter wires the document API. Mutating routes require a bearer token
// when a JWT secret is configured. events may be nil.
func NewRouter(documents DocumentService, events http.HandlerFunc, config RouterConfig) *gin.Engine {
	corsHandler := NewCorsHandler()
	documentHandler := NewDocumentHandler(documents, config.RequestTimeout)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), corsHandler.CorsMiddleware)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	apiV1 := router.Group("/api/v1")
	apiV1.GET("/documents", documentHandler.HandleList)
	apiV1.GET("/documents/:id", documentHandler.HandleGet)
	apiV1.GET("/documents/:id/history", documentHandler.HandleHistory)
	apiV1.POST("/query", documentHandler.HandleQuery)
	apiV1.POST("/cross-query", documentHandler.HandleCrossQuery)
	apiV1.POST("/json-aggregation", documentHandler.HandleAggregation)
	if events != nil {
		apiV1.GET("/events", gin.WrapF(events))
	}

	writeRoutes := apiV1.Group("/")
	if config.JWTSecret != "" {
		writeRoutes.Use(middleware.JWTAuth(config.JWTSecret))
	}
	{
		writeRoutes.POST("/documents/upload", documentHandler.HandleUpload)
		writeRoutes.PUT("/documents/:id", documentHandler.HandleUpdate)
		writeRoutes.DELETE("/documents/:id", documentHandler.HandleDelete)
	}

	return router
}
