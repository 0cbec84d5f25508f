package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"sales-call-pipeline/internal/config"
	"sales-call-pipeline/internal/httpapi"
	"sales-call-pipeline/pkg/logger"
	"sales-call-pipeline/pkg/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// healthChecks holds optional backing services; nil means not configured.
type healthChecks struct {
	db  *sql.DB
	rdb *redis.Client
}

// newRouter wires middleware and routes. Keep this file free of business logic.
func newRouter(cfg config.Config, log *slog.Logger, h httpapi.Handlers, hc healthChecks) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	if len(cfg.App.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.App.CORSOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-Id"},
			ExposeHeaders: []string{"X-Request-Id", "Content-Disposition"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.GET("/healthz", hc.handle)
	h.Mount(r)
	return r
}

func (hc healthChecks) handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	if hc.db != nil {
		checks["postgres"] = "ok"
		if err := utils.HealthCheck(ctx, hc.db, time.Second); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		}
	}
	if hc.rdb != nil {
		checks["redis"] = "ok"
		if err := hc.rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}
