// cmd/chatserver/main.go
// Reference message server for the messenger client
// Bootstraps storage, the websocket hub and the REST routes

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fisionet/messaging/internal/chatserver"
	"github.com/fisionet/messaging/internal/common/database"
	"github.com/fisionet/messaging/internal/config"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	log.Println("========================================")
	log.Println("🚀 Starting chat server")
	log.Println("========================================")

	// 1. Load environment variables
	log.Println("📁 Step 1: Loading .env file...")
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  Warning: No .env file found (%v), using environment variables", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// 2. Load and validate configuration
	log.Println("\n📋 Step 2: Loading configuration...")
	cfg := config.Load()
	if err := cfg.ValidateServer(); err != nil {
		log.Fatal("❌ Configuration validation failed: ", err)
	}
	log.Println("✅ Configuration is valid")

	ctx := context.Background()

	// 3. Message store
	log.Println("\n📮 Step 3: Connecting message store...")
	var store chatserver.Store
	switch cfg.Store {
	case "redis":
		redisClient, err := database.NewRedisClientFromURL(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("❌ Failed to connect to Redis: ", err)
		}
		defer redisClient.Close()
		store = chatserver.NewRedisStore(redisClient)
		log.Println("✅ Connected to Redis successfully")
	default:
		store = chatserver.NewMemoryStore()
		log.Println("⚠️  Using in-memory store (development mode)")
	}

	// 4. User directory
	log.Println("\n🗄️  Step 4: Connecting user directory...")
	var users chatserver.UserDirectory
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDBFromURL(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("❌ Failed to connect to PostgreSQL: ", err)
		}
		defer db.Close()
		users = chatserver.NewPostgresUsers(db)
		log.Println("✅ Connected to PostgreSQL successfully")
	} else {
		users = chatserver.NewStaticUsers(parseDevUsers(os.Getenv("DEV_USERS"))...)
		log.Println("⚠️  DATABASE_URL not set, using DEV_USERS")
	}

	// 5. Hub and service
	log.Println("\n💬 Step 5: Initializing messaging...")
	hub := chatserver.NewHub()
	go hub.Run()

	service := chatserver.NewService(store, users, hub, cfg.MessagesDefaultLimit)
	handler := chatserver.NewHandler(service, hub, chatserver.HandlerConfig{
		RateLimit:      cfg.WSRateLimit,
		RateBurst:      cfg.WSRateBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	secret := cfg.JWTSecret
	if cfg.IsDevelopment() && os.Getenv("AUTH_DISABLED") == "true" {
		secret = ""
		log.Println("⚠️  Authentication disabled (AUTH_DISABLED=true)")
	}
	router := chatserver.NewRouter(handler, chatserver.NewAuthMiddleware(secret), cfg.AllowedOrigins)
	log.Println("✅ Messaging initialized")

	// 6. HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Println("\n========================================")
		log.Printf("🚀 Server starting on http://localhost%s", srv.Addr)
		log.Printf("🌍 Environment: %s", cfg.Environment)
		log.Println("========================================")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Failed to start server: ", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n⚠️  Shutdown signal received...")

	log.Println("   - Shutting down messaging hub...")
	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("❌ Server forced to shutdown: ", err)
	}

	log.Println("✅ Server exited gracefully")
}

// parseDevUsers reads "id:Full Name:role,..." entries.
func parseDevUsers(raw string) []chatserver.UserInfo {
	var users []chatserver.UserInfo
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		u := chatserver.UserInfo{ID: parts[0], Name: parts[0]}
		if len(parts) > 1 && parts[1] != "" {
			u.Name = parts[1]
		}
		if len(parts) > 2 {
			u.Role = parts[2]
		}
		users = append(users, u)
	}
	return users
}
