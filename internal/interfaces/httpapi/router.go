package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storyweave/lorekeeper/internal/app"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
)

// NewRouter builds the complete route tree. Mode is one of gin's
// DebugMode/ReleaseMode/TestMode strings.
func NewRouter(svc *app.Service, logger logging.Logger, mode string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	h := NewHandler(svc, logger)

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(svc.MetricsHandler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/scan", h.Scan)
		v1.POST("/mentions", h.BulkMentions)
		v1.DELETE("/documents/:id", h.DeleteDocument)

		v1.GET("/entities", h.ListEntities)
		v1.POST("/entities", h.CreateEntity)
		v1.POST("/entities/merge", h.MergeEntities)
		v1.GET("/entities/:id", h.GetEntity)
		v1.PATCH("/entities/:id", h.UpdateEntity)
		v1.DELETE("/entities/:id", h.DeleteEntity)
		v1.POST("/entities/:id/aliases", h.AddAlias)
		v1.DELETE("/entities/:id/aliases/:alias", h.RemoveAlias)
		v1.GET("/entities/:id/relationships", h.GetRelationships)
		v1.GET("/entities/:id/cooccurring", h.GetCoOccurring)

		v1.POST("/relationships", h.AddRelationship)

		v1.GET("/promotions", h.GetPromotions)
		v1.GET("/integrity", h.CheckIntegrity)
		v1.POST("/integrity/repair", h.RepairIntegrity)
		v1.GET("/export", h.Export)
		v1.POST("/import", h.Import)
		v1.POST("/flush", h.Flush)
		v1.GET("/stats", h.GetStats)
	}

	return r
}

// requestLogger emits one structured line per request.
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.Named("http")
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("duration", time.Since(started)),
		}
		if c.Writer.Status() >= 500 {
			logger.Error("request failed", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}
