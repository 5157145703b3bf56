package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jaydenbeard/messaging-app/internal/auth"
	"github.com/jaydenbeard/messaging-app/internal/config"
	"github.com/jaydenbeard/messaging-app/internal/db"
	"github.com/jaydenbeard/messaging-app/internal/handlers"
	"github.com/jaydenbeard/messaging-app/internal/metrics"
	"github.com/jaydenbeard/messaging-app/internal/middleware"
	"github.com/jaydenbeard/messaging-app/internal/security"
	"github.com/jaydenbeard/messaging-app/internal/sessiondir"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

// main wires up the relay: a thin server that publishes X3DH bundles,
// stores one opaque Session Directory blob per conversation, and
// relays ratchet ciphertexts in arrival order. It never computes X3DH
// or touches ratchet state itself — that happens client-side in
// internal/security and is only persisted here.
func main() {
	cfg := config.Load()

	config.InitializeKeyManager(cfg.JWTSecret)
	if err := config.ValidateJWTSecret(cfg.JWTSecret); err != nil {
		log.Fatalf("FATAL: JWT secret validation failed: %v", err)
	}

	log.Printf("Starting relay: %s", cfg.ServerID)

	database, err := db.NewPostgresDB(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Warning: failed to close database: %v", err)
		}
	}()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("Warning: failed to close Redis: %v", err)
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: Redis ping failed at startup: %v", err)
	}

	// Session Directory: Postgres-backed persistence for opaque ratchet
	// state, fronted by a Redis hot-path cache (spec.md §4.5).
	sessionPG, err := sessiondir.NewPostgresDirectory(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("Failed to connect Session Directory to Postgres: %v", err)
	}
	defer func() {
		if err := sessionPG.Close(); err != nil {
			log.Printf("Warning: failed to close Session Directory: %v", err)
		}
	}()
	sessionDir := sessiondir.NewRedisCache(sessionPG, redisClient)

	// Key rotation scheduler for the server's own JWT secret.
	keyRotationScheduler := security.NewKeyRotationScheduler()
	keyRotationScheduler.SetRotationInterval(24 * time.Hour)
	keyRotationScheduler.Start()

	auditLogger := security.NewAuditLogger(database.GetDB())

	authService, err := auth.NewAuthService(database, config.GetCurrentSecret())
	if err != nil {
		log.Fatalf("Failed to initialize auth service: %v", err)
	}

	router := mux.NewRouter()

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.Use(mux.MiddlewareFunc(metrics.MetricsMiddleware))

	api := router.PathPrefix("/api/v1").Subrouter()

	enhancedRateLimiter := middleware.NewEnhancedRateLimiter(&middleware.RateLimitConfig{
		IPLimits:       make(map[string]*middleware.TieredLimitConfig),
		UserLimits:     make(map[string]*middleware.TieredLimitConfig),
		EndpointLimits: make(map[string]*middleware.TieredLimitConfig),
		GlobalLimits: &middleware.TieredLimitConfig{
			Normal: &middleware.LimitConfig{MaxRequests: 1000, Window: 1 * time.Minute},
			Strict: &middleware.LimitConfig{MaxRequests: 500, Window: 1 * time.Minute},
		},
		AbuseDetection: &middleware.AbuseDetectionConfig{
			Threshold:          100,
			Window:             5 * time.Minute,
			PenaltyDuration:    15 * time.Minute,
			StrictModeDuration: 30 * time.Minute,
		},
	}, redisClient)

	// SMS endpoints are the strictest — they cost money and are an
	// enumeration vector. Auth endpoints follow.
	enhancedRateLimiter.SetEndpointStrictMode("POST /api/v1/auth/request-code", true)
	enhancedRateLimiter.SetEndpointStrictMode("POST /api/v1/auth/verify", true)
	enhancedRateLimiter.SetEndpointStrictMode("POST /api/v1/auth/register", true)
	enhancedRateLimiter.SetEndpointStrictMode("POST /api/v1/auth/login", true)

	// Auth routes — public, but rate limited.
	api.Handle("/auth/request-code", enhancedRateLimiter.Middleware(http.HandlerFunc(handlers.RequestVerificationCode(authService, auditLogger)))).Methods("POST")
	api.Handle("/auth/verify", enhancedRateLimiter.Middleware(http.HandlerFunc(handlers.VerifyCode(authService, database)))).Methods("POST")
	api.Handle("/auth/register", enhancedRateLimiter.Middleware(http.HandlerFunc(handlers.Register(authService, database)))).Methods("POST")
	api.Handle("/auth/login", enhancedRateLimiter.Middleware(http.HandlerFunc(handlers.Login(authService, database)))).Methods("POST")
	api.HandleFunc("/auth/refresh", handlers.RefreshToken(authService)).Methods("POST")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(authService, nil))

	// Bundle / pre-key routes — the X3DH session-establishment surface.
	protected.HandleFunc("/users/{userId}/bundle", handlers.GetBundle(database)).Methods("GET")
	protected.HandleFunc("/users/me/prekeys", handlers.UploadPreKeys(database)).Methods("POST")

	// Session Directory routes — opaque ratchet-state persistence.
	protected.HandleFunc("/sessions/{peerId}", handlers.EstablishSession(sessionDir)).Methods("POST")
	protected.HandleFunc("/sessions/{peerId}", handlers.GetSessionState(sessionDir)).Methods("GET")
	protected.HandleFunc("/sessions/{peerId}", handlers.WipeSession(sessionDir)).Methods("DELETE")

	// Message relay routes — opaque ciphertext store-and-forward.
	protected.HandleFunc("/messages", handlers.SendMessage(database)).Methods("POST")
	protected.HandleFunc("/messages", handlers.PullMessages(database)).Methods("GET")
	protected.HandleFunc("/messages/{messageId}/status", handlers.AckMessage(database)).Methods("PUT")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
			"https://silentrelay.com.au",
			"https://www.silentrelay.com.au",
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           corsHandler.Handler(router),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second, // gosec G112 / Slowloris
	}

	go func() {
		log.Printf("Relay listening on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %v - starting graceful shutdown...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownDone := make(chan struct{})
	go func() {
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Warning: HTTP server shutdown error: %v", err)
		}
		close(shutdownDone)
	}()

	keyRotationScheduler.Stop()
	<-shutdownDone

	log.Println("Relay stopped gracefully")
}
