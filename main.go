package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay-service/config"
	"chat-relay-service/handlers"
	"chat-relay-service/llm"
	"chat-relay-service/metrics"
	"chat-relay-service/middleware"
	"chat-relay-service/prompt"
	"chat-relay-service/relay"
	"chat-relay-service/stubllm"
	"chat-relay-service/utils"
	"chat-relay-service/version"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	EndPointHealth  = "/health"
	EndPointVersion = "/version"
	EndPointMetrics = "/metrics"
	EndPointChat    = "/api/chat"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Info(".env file not found, using system environment variables")
	}

	cfg := config.Load()

	if err := utils.SetupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.WithError(err).Fatal("invalid logging configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	log.Infof("Starting %s", version.Get())

	provider, err := newProvider(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to create upstream provider")
	}

	metrics.Register()
	router := setupRouter(cfg, newRelay(cfg, provider))

	// Cancelled on shutdown so open streams release their upstream calls.
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	srv := newHTTPServer(rootCtx, cfg.Port, router)

	go func() {
		log.WithFields(log.Fields{
			"port":     cfg.Port,
			"provider": provider.Name(),
			"upstream": cfg.UpstreamBaseURL,
		}).Info("chat relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancelRoot()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}

// newHTTPServer serves handler with every request context derived from ctx.
// No write timeout is set since chat streams are long-lived.
func newHTTPServer(ctx context.Context, port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	if cfg.Provider == config.ProviderStub {
		return stubllm.NewClient(), nil
	}
	return llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.UpstreamBaseURL,
		Model:       cfg.UpstreamModel,
		IdleTimeout: cfg.UpstreamIdleTimeout,
	})
}

func newRelay(cfg *config.Config, provider llm.Provider) *relay.Relay {
	return relay.New(provider, prompt.NewBuilder(cfg.SystemPrompt), relay.Options{
		Params: llm.GenerationParams{
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		},
		ExposeUpstreamErrors: cfg.ExposeUpstreamErrors,
	})
}

func setupRouter(cfg *config.Config, r *relay.Relay) *gin.Engine {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	// The chat stream must reach the caller unbuffered.
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{EndPointChat})))

	router.GET(EndPointHealth, handlers.HealthCheck)
	router.GET(EndPointVersion, handlers.Version)
	router.GET(EndPointMetrics, gin.WrapH(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		DisableCompression: true,
	})))

	chatHandler := handlers.NewChatHandler(r)
	router.POST(EndPointChat, middleware.RateLimitMiddleware(cfg.RateLimitPerMinute, time.Minute), chatHandler.Chat)

	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Cache-Control", middleware.HeaderRequestID},
		ExposeHeaders: []string{middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	for _, origin := range origins {
		if origin == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	return c
}
