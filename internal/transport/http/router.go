package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"quiz-room-service/internal/gateway"
)

type RouterConfig struct {
	AllowedOrigins []string
	// Metrics serves the load-test counters at /metrics.
	Metrics bool
	WS      WSConfig
}

// NewRouter mounts the socket endpoint, the REST API and the operational routes.
func NewRouter(gw *gateway.Gateway, cfg RouterConfig, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics {
		r.GET("/metrics", func(c *gin.Context) {
			c.JSON(http.StatusOK, gw.Metrics().Snapshot())
		})
	}

	wsCfg := cfg.WS
	wsCfg.AllowedOrigins = cfg.AllowedOrigins
	ws := NewWSHandler(gw, wsCfg, log)
	r.GET("/ws", gin.WrapF(ws.ServeWS))

	NewRESTHandler(gw, log).Register(r.Group("/api"))
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Origin", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if allowsAny(origins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

// requestLogger skips the socket and event-stream routes, whose duration is the connection lifetime.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if path == "/ws" || strings.HasSuffix(path, "/events") {
			return
		}
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("dur", time.Since(start)).
			Msg("http")
	}
}
