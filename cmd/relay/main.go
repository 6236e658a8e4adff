package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/bubblechat/core/api/handlers"
	"github.com/bubblechat/core/internal/relay"
)

func main() {
	port := getEnv("PORT", "8080")

	hub := relay.NewHub()
	defer hub.Close()

	relayHandler := handlers.NewRelayHandler(relay.NewHandler(hub))

	r := gin.Default()

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"clients": hub.ClientCount(),
		})
	})

	root := r.Group("/")
	relayHandler.RegisterRoutes(root)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down relay...")
		hub.Close()
		os.Exit(0)
	}()

	log.Printf("Starting relay on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start relay: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
