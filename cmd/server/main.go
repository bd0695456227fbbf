// Command server starts the chat backend: HTTP + WebSocket surface (spec.md
// §6), backed by Postgres/SQLite storage, Redis pub/sub, and Redis
// presence. Grounded on the teacher's ecommerce-backend cmd/server/main.go
// (config load -> store open -> migrate -> services -> router -> graceful
// shutdown), adapted from Gin to gorilla/mux and from a single DB
// connection to the Store/Bus/Presence/Hub stack this domain needs.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cpu-jia/chatroom/internal/auth"
	"github.com/cpu-jia/chatroom/internal/bus"
	"github.com/cpu-jia/chatroom/internal/config"
	"github.com/cpu-jia/chatroom/internal/discovery"
	"github.com/cpu-jia/chatroom/internal/hub"
	"github.com/cpu-jia/chatroom/internal/httpapi"
	"github.com/cpu-jia/chatroom/internal/presence"
	"github.com/cpu-jia/chatroom/internal/service"
	"github.com/cpu-jia/chatroom/internal/store"
	"github.com/cpu-jia/chatroom/pkg/logger"
	"github.com/go-redis/redis/v8"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store: %v", err)
		return 2
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	eventBus := bus.NewRedisBus(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
	defer eventBus.Close()
	presenceStore := presence.NewRedisPresence(redisClient)

	authenticator := auth.New(cfg.JWT.Secret, cfg.Auth.BcryptCost, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	services := service.New(st, eventBus, presenceStore, authenticator)

	h := hub.New(hub.Config{
		HeartbeatInterval: cfg.Hub.HeartbeatInterval,
		SendBufferSize:    cfg.Hub.SendBufferSize,
	}, services, presenceStore, eventBus)
	go h.Run()

	router := httpapi.NewRouter(services, authenticator, h, []string{"*"})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var registry *discovery.Registry
	if cfg.Consul.Enabled {
		registry, err = discovery.New(cfg.Consul.Addr)
		if err != nil {
			logger.Warn("consul unavailable, continuing without service registration: %v", err)
		} else if err := registerWithConsul(registry, cfg); err != nil {
			logger.Warn("consul registration failed, continuing: %v", err)
		}
	}

	go func() {
		logger.Info("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if registry != nil {
		if err := registry.Deregister(); err != nil {
			logger.Warn("consul deregistration failed: %v", err)
		}
	}

	h.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown: %v", err)
		return 1
	}

	logger.Info("shut down cleanly")
	return 0
}

func registerWithConsul(registry *discovery.Registry, cfg *config.Config) error {
	host, port := splitAddr(cfg.Server.Addr)
	return registry.Register(cfg.Consul.ServiceName, host, port, cfg.Consul.Tags)
}

func splitAddr(addr string) (string, int) {
	host := "localhost"
	port := 8080
	fmt.Sscanf(addr, ":%d", &port)
	return host, port
}
