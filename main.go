package main

import (
	"context"
	"log"
	"os"
	"strings"

	"waverchat/internal/api"
	"waverchat/internal/config"
	"waverchat/internal/history"
	"waverchat/internal/metrics"
	"waverchat/internal/presence"
	"waverchat/internal/redis"
	"waverchat/internal/scroll"
	"waverchat/internal/service/ai"
	"waverchat/internal/service/chat"
	"waverchat/internal/session"
	"waverchat/internal/storage"
	"waverchat/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}
	cfgPath := os.Getenv("WAVERCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var rdb *redis.Client
	driver := strings.ToLower(cfg.BasicConfig.StorageDriver)
	if driver == "redis" || cfg.Redis.Host != "" {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
	}

	log.Printf("storage driver: %s", driver)
	var kv storage.KV
	switch driver {
	case "memory":
		kv = storage.NewMemoryStore()
	case "redis":
		kv = storage.NewRedisStore(rdb)
	default:
		db, err := storage.Open(driver, cfg)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		// Create the key-value table holding history and flags
		if err := storage.Migrate(db, driver); err != nil {
			log.Fatalf("migrate database: %v", err)
		}
		kv = storage.NewSQLStore(db, driver)
	}

	var (
		service session.ChatService
		remote  api.Remote
	)
	switch cfg.Service.Mode {
	case "direct":
		direct, err := ai.NewService(context.Background(), cfg)
		if err != nil {
			log.Fatalf("init direct model: %v", err)
		}
		service = direct
	default:
		client := chat.NewClient(cfg.Service.BaseURL, cfg.Service.SessionID, cfg.RequestTimeout())
		service, remote = client, client
	}

	loop := worker.NewLoop(nil)
	defer loop.Stop()

	hub := api.NewHub()
	store := history.NewStore(kv, cfg.Session.HistoryCapacity)
	store.Load(context.Background())
	log.Printf("restored %d history entries", store.Len())

	viewport := scroll.NewTrackedViewport(hub.ScrollToBottom)
	machine := presence.New(loop, cfg.IdleTimeout())
	ctl := session.NewController(loop, session.Options{
		Service:        service,
		History:        store,
		Presence:       machine,
		Sampler:        metrics.NewSampler(loop, hub.MetricsSampled),
		Scroll:         scroll.NewCoordinator(loop, viewport),
		Observer:       hub,
		Welcome:        cfg.Session.WelcomeMessage,
		Apology:        cfg.Session.ApologyMessage,
		RequestTimeout: cfg.RequestTimeout(),
		NoticeDuration: cfg.NoticeDuration(),
	})
	defer ctl.Close()
	ctl.Subscribe(hub.PresenceChanged)
	if rdb != nil {
		broadcaster := presence.NewBroadcaster(rdb, cfg.Redis.PresenceChannel)
		defer broadcaster.Close()
		ctl.Subscribe(broadcaster.Publish)
	}

	sidebar := storage.NewFlag(kv, storage.KeySidebarOpen, true)
	handlers := api.NewHandler(ctl, remote, viewport, sidebar, hub)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	if err := router.Run(cfg.BasicConfig.ServerAddress); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
