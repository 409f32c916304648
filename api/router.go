// Package api assembles the HTTP surface of the bridge.
package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/ptybridge/api/handlers"
	"github.com/remote-agent-terminal/ptybridge/api/middleware"
	"github.com/remote-agent-terminal/ptybridge/internal/session"
	"github.com/remote-agent-terminal/ptybridge/internal/storage"
	"github.com/remote-agent-terminal/ptybridge/internal/ws"
)

// RouterConfig lists what the router serves.
type RouterConfig struct {
	WSPath      string
	CORSOrigins []string

	Sessions  *session.Manager
	WebSocket *ws.Handler
	Store     *storage.FileStore
	Logger    *zap.Logger
}

// NewRouter builds the Gin engine with every route mounted.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(cfg.Logger.Named("http")))
	r.Use(middleware.RequestMetrics())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ok": true,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.NewWebSocketHandler(cfg.WebSocket).RegisterRoutes(r, cfg.WSPath)
	handlers.NewUploadHandler(cfg.Store).RegisterRoutes(r)

	api := r.Group("/api")
	{
		handlers.NewSessionHandler(cfg.Sessions).RegisterRoutes(api)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if allowsAny(origins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func allowsAny(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// CheckOrigin returns the WebSocket origin check for the CORS origins.
// Requests without an Origin header, such as non-browser clients, pass.
func CheckOrigin(origins []string) func(r *http.Request) bool {
	if allowsAny(origins) {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSuffix(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}
