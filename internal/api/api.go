// Package api exposes the health and readiness HTTP surface. It does not
// serve indexed data: read access to transfers, balances, and anomalies
// lives outside this service's scope.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/store"
	"github.com/csic/platform/chainwatch-indexer/internal/supervisor"
)

// ChainStatusSource reports the last-known state of every running chain
// task.
type ChainStatusSource interface {
	Status() []supervisor.ChainStatus
}

// Handler holds the dependencies the health endpoints read from.
type Handler struct {
	db     *store.Store
	chains ChainStatusSource
	logger *zap.Logger
}

// NewRouter builds the gin engine: recovery and logging middleware, CORS,
// and the health/readiness/status routes.
func NewRouter(db *store.Store, chains ChainStatusSource, logger *zap.Logger, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	h := &Handler{db: db, chains: chains, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(corsMiddleware())

	router.GET("/healthz", h.healthz)
	router.GET("/readyz", h.readyz)
	router.GET("/chains", h.chainStatus)

	return router
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "chainwatch-indexer",
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Pool().Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *Handler) chainStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chains": h.chains.Status()})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
