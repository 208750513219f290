package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/hub"
	"github.com/mossy-p/call-signaling/internal/logging"
	"github.com/mossy-p/call-signaling/internal/metrics"
	"github.com/mossy-p/call-signaling/internal/middleware"
)

// RouterDeps is everything the HTTP layer needs
type RouterDeps struct {
	Config   *config.Config
	Hub      *hub.Hub
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Log      *logrus.Logger
}

// NewRouter wires every route
func NewRouter(d RouterDeps) *gin.Engine {
	if d.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logging.Component(d.Log, "http")))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(d.Config.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", Health(d.Hub))

	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// Read-only admin API
	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", Login(d.Config.Admin, d.Config.JWTSecret))

		admin := apiGroup.Group("", middleware.JWTAuth(d.Config.JWTSecret))
		admin.GET("/users", ListUsers(d.Hub))
		admin.GET("/calls", ListCalls(d.Hub))
	}

	// WebSocket signaling endpoint
	signaling := NewSignaling(d.Hub, d.Config.WebSocket, d.Metrics, logging.Component(d.Log, "ws"))
	wsGroup := router.Group("/ws")
	{
		// Identity is passed as ?identity=<id>
		wsGroup.GET("/signal", signaling.HandleSignaling)
	}

	return router
}
