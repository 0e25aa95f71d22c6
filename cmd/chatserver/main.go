package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parley/chat-app/internal/conversation"
	"github.com/parley/chat-app/internal/messaging"
	"github.com/parley/chat-app/internal/metrics"
	"github.com/parley/chat-app/internal/presence"
	"github.com/parley/chat-app/internal/ratelimit"
	"github.com/parley/chat-app/internal/room"
	"github.com/parley/chat-app/internal/router"
	"github.com/parley/chat-app/internal/session"
	"github.com/parley/chat-app/internal/upload"
	"github.com/parley/chat-app/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	uploadDir := "./uploads"
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		uploadDir = v
	}

	// --- NATS (outbound room-event feed) ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	var natsClient *messaging.NATSClient
	var events router.EventPublisher
	if natsConfig.URL != "disabled" {
		nc, err := messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		natsClient = nc
		events = nc
	}

	// --- Redis (rate limiting) ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	limiter := ratelimit.NewLimiter(redisClient)

	log.Printf("Parley chat server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections:  %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  upload_dir:      %s", uploadDir)

	// --- Chat state ---
	defs := room.DefaultRooms()
	registry := session.NewRegistry(defs[0].ID)
	rooms := room.NewDirectory(registry, defs)
	convs := conversation.NewStore(registry)

	// Declare server early so the broadcaster can use it as its sender.
	var server *ws.Server

	broadcaster := presence.NewBroadcaster(presence.SenderFunc(func(connID string, data []byte) error {
		return server.Send(connID, data)
	}), rooms)

	rt := router.New(registry, rooms, convs, broadcaster, limiter, events)

	dispatcher := ws.NewMessageDispatcher()
	rt.Bind(dispatcher)

	server = ws.NewServer(config, dispatcher.Dispatch)
	server.SetOnDisconnect(rt.HandleDisconnect)

	// --- HTTP routes beyond /ws ---
	uploads, err := upload.NewHandler(uploadDir, "/uploads")
	if err != nil {
		log.Fatalf("failed to init upload handler: %v", err)
	}
	server.Handle("/upload", uploads)
	server.Handle("/uploads/", uploads.FileServer())
	server.Handle("/metrics", metrics.Handler())

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if natsClient != nil {
			natsClient.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
