package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/reena96/bmax-adgenie-563362/internal/auth"
	"github.com/reena96/bmax-adgenie-563362/internal/client"
	"github.com/reena96/bmax-adgenie-563362/internal/compose"
	"github.com/reena96/bmax-adgenie-563362/internal/config"
	"github.com/reena96/bmax-adgenie-563362/internal/handler"
	"github.com/reena96/bmax-adgenie-563362/internal/middleware"
	"github.com/reena96/bmax-adgenie-563362/internal/model"
	"github.com/reena96/bmax-adgenie-563362/internal/service"
	"github.com/reena96/bmax-adgenie-563362/internal/store"
	ws "github.com/reena96/bmax-adgenie-563362/internal/websocket"
	"github.com/reena96/bmax-adgenie-563362/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
		redisAvailable = false
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize asset storage (S3-compatible, local fallback)
	var storage client.StorageClient
	if cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
		s3Client, err := client.NewS3Client(&cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize storage client: %v", err)
		}
		storage = s3Client
	} else {
		log.Println("Info: object storage not configured, using local storage")
		local, err := client.NewLocalStorage(cfg.Storage.LocalDir)
		if err != nil {
			log.Fatalf("Failed to initialize local storage: %v", err)
		}
		storage = local
	}

	// Initialize generation provider clients
	sceneClient := client.NewSceneClient(&cfg.Scene, &cfg.Generation, storage)
	audioClient := client.NewAudioClient(&cfg.Voice, &cfg.Music, &cfg.SFX, &cfg.Generation, storage)
	if !sceneClient.IsConfigured() {
		log.Println("Info: scene provider not configured, jobs will use synthesized clips")
	}

	// Initialize composition runner
	runner := compose.NewRunner(cfg.Generation.FFmpegBin, cfg.Generation.FFprobeBin)
	compositor := compose.NewCompositor(storage, runner, &cfg.Generation)

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		var err error
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
		}
	}

	// Initialize job store and service (in-memory fallback when Redis
	// is down, matching the unconfigured-storage path above)
	var jobStore store.JobStore
	if redisAvailable {
		jobStore = store.NewRedisStore(redisClient)
	} else {
		log.Println("Info: Redis not available, using in-memory job store")
		jobStore = store.NewMemoryStore()
	}
	generationService := service.NewGenerationService(jobStore, asynqClient, &cfg.Generation)

	// Initialize handlers
	generationHandler := handler.NewGenerationHandler(generationService, validate)

	// Initialize auth handler for ForwardAuth verification
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	// Initialize middleware (with fallback support)
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled — using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		// Direct mode: auth is handled by the backend itself
		var authMiddleware *middleware.AuthMiddleware
		if jwksVerifier != nil && cfg.JWT.Secret != "" {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
		} else if jwksVerifier != nil {
			authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
		} else {
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		apiAuthMiddleware = authMiddleware.Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"scene":   sceneClient.IsConfigured(),
				"voice":   audioClient.IsConfigured(model.AudioKindVoice),
				"music":   audioClient.IsConfigured(model.AudioKindMusic),
				"sfx":     audioClient.IsConfigured(model.AudioKindSFX),
				"storage": cfg.Storage.AccessKeyID != "",
				"auth":    jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Generation routes
	generation := api.Group("/generation")
	generation.Post("/start", rateLimiter.StartLimit(cfg.RateLimit.StartPerHour), generationHandler.Start)
	generation.Get("/status/:jobId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), generationHandler.Status)
	generation.Get("/result/:jobId", generationHandler.Result)
	generation.Post("/cancel/:jobId", generationHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, generationService, sceneClient, audioClient, compositor, storage, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	generationService *service.GenerationService,
	sceneClient *client.SceneClient,
	audioClient *client.AudioClient,
	compositor *compose.Compositor,
	storage client.StorageClient,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			// Each job runs a local ffmpeg encode on top of provider polling.
			Concurrency: 4,
			Queues: map[string]int{
				"generation": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	generationWorker := worker.NewGenerationWorker(generationService, sceneClient, audioClient, compositor, storage, hub, &cfg.Generation)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGeneration, generationWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
