package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"docdl/services"
	"docdl/store"
)

// RunTrigger ist der Teil des Runners, den die API braucht.
type RunTrigger interface {
	Start(ctx context.Context) error
	Running() bool
	LastReport() *services.RunReport
}

func apiKeyAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != secret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// NewRouter baut den gin-Router mit Metriken, Laufsteuerung und Lesezugriff
// auf Items, Läufe und Regulations.
func NewRouter(secret string, runner RunTrigger, reader store.Reader, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(secret))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "running": runner.Running()})
	})

	setupRunRoutes(router, runner, reader, log)
	setupItemRoutes(router, reader, log)
	setupRegulationRoutes(router, reader, log)
	return router
}

func setupRunRoutes(router *gin.Engine, runner RunTrigger, reader store.Reader, log *zap.Logger) {
	rg := router.Group("/runs")
	rg.POST("", func(c *gin.Context) {
		err := runner.Start(c.Request.Context())
		if errors.Is(err, services.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "ingestion run already in progress"})
			return
		}
		if err != nil {
			log.Error("Failed to start ingestion run", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start run"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Ingestion run triggered."})
	})

	rg.GET("/last", func(c *gin.Context) {
		report := runner.LastReport()
		if report == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no run finished yet"})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	rg.GET("/:run_id", func(c *gin.Context) {
		run, err := reader.GetIngestRun(c.Request.Context(), c.Param("run_id"))
		if err != nil {
			log.Error("Failed to load ingest run", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, run)
	})
}

func setupItemRoutes(router *gin.Engine, reader store.Reader, log *zap.Logger) {
	router.GET("/items", func(c *gin.Context) {
		docURL := c.Query("doc_url")
		if docURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "doc_url required"})
			return
		}
		item, err := reader.GetIngestItem(c.Request.Context(), docURL)
		if err != nil {
			log.Error("Failed to load ingest item", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if item == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}
		c.JSON(http.StatusOK, item)
	})
}

func setupRegulationRoutes(router *gin.Engine, reader store.Reader, log *zap.Logger) {
	router.GET("/regulations", func(c *gin.Context) {
		docURL := c.Query("doc_url")
		if docURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "doc_url required"})
			return
		}
		reg, err := reader.GetRegulationByDocURL(c.Request.Context(), docURL)
		if err != nil {
			log.Error("Failed to load regulation", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if reg == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "regulation not found"})
			return
		}
		c.JSON(http.StatusOK, reg)
	})
}
