package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"chatly/internal/infra/config"
	"chatly/internal/infra/obs"
)

// Handlers wires the HTTP surface: chat endpoints, the WebSocket upgrade and
// the auth middleware.
type Handlers struct {
	Chat           ChatHTTP
	WebSocket      http.Handler
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Chat != nil {
		api.POST("/chat/new", h.Chat.CreateChat)
		api.GET("/chat/all", h.Chat.ListChats)
		api.POST("/message", h.Chat.SendMessage)
		api.GET("/message/:chatId", h.Chat.ListMessages)
	}

	// The WebSocket upgrade hijacks the TCP connection, which gin's wrapped
	// ResponseWriter refuses after it has started a response. /ws is served
	// from the root mux so the upgrade sees the bare net/http writer.
	mux := http.NewServeMux()
	if h.WebSocket != nil {
		mux.Handle("/ws", h.WebSocket)
	}
	mux.Handle("/", router)

	return &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
