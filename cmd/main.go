package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"campaign-delivery/internal/api"
	"campaign-delivery/internal/auth"
	"campaign-delivery/internal/campaign"
	"campaign-delivery/internal/config"
	"campaign-delivery/internal/dispatcher"
	"campaign-delivery/internal/live"
	"campaign-delivery/internal/manager"
	"campaign-delivery/internal/messaging"
	"campaign-delivery/internal/metrics"
	"campaign-delivery/internal/model"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/provider"
	"campaign-delivery/internal/reconciler"
	"campaign-delivery/internal/redisx"
	"campaign-delivery/internal/scheduler"
	"campaign-delivery/internal/storage"
	"campaign-delivery/internal/storage/memory"
	"campaign-delivery/internal/telemetry"
	"campaign-delivery/internal/vault"
	"campaign-delivery/internal/webhook"
)

// @title Campaign Delivery API
// @version 1.0
// @description Multi-tenant campaign message delivery: dispatch, status webhooks, resends and live metrics
// @host localhost:8080
// @BasePath /
// @schemes http

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	// Init Metrics
	metrics.Init()

	// Load Configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}

	// Setup JWT Secret
	auth.SetSecret(cfg.Auth.JWTSecret)

	// Storage
	var store storage.Store
	switch cfg.Database.Driver {
	case "memory":
		store = memory.New()
		log.Println("Using in-memory storage (every transaction copies the full state; not for production volume)")
	default:
		db, err := storage.NewStorage(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to init DB: %v", err)
		}
		defer db.DB.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate DB: %v", err)
		}
		store = db
		log.Println("PostgreSQL connected")
	}

	// Broker
	var (
		broker       messaging.Broker
		rabbitClient *messaging.RabbitClient
	)
	if cfg.RabbitMQ.URL != "" {
		rabbitClient, err = messaging.NewRabbitClient(cfg.RabbitMQ.URL, cfg.Workers)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rabbitClient.Close()
		if err := rabbitClient.DeclareTopology(); err != nil {
			log.Fatalf("Failed to declare queues: %v", err)
		}
		broker = rabbitClient
		log.Println("RabbitMQ connected")
	} else {
		mem := messaging.NewInMemoryBroker()
		defer mem.Close()
		broker = mem
		log.Println("Using in-memory broker")
	}

	// Coordination
	var (
		locker redisx.Locker
		bus    redisx.Bus
	)
	if cfg.Redis.URL != "" {
		rdb, err := redisx.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		locker = redisx.NewRedisLocker(rdb, "campaign-delivery:lock:")
		bus = redisx.NewRedisBus(rdb)
		log.Println("Redis connected")
	} else {
		locker = redisx.NewMemoryLocker()
		bus = redisx.NewMemoryBus()
	}

	credentials, err := vault.New(cfg.Vault.Key)
	if err != nil {
		log.Fatalf("Failed to init credential vault: %v", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	registry := provider.NewRegistry()
	registry.Register(provider.NewTwilio(httpClient), model.ChannelSMS, model.ChannelWhatsApp)
	registry.Register(provider.NewGateway(httpClient), model.ChannelSMS)

	// Status notifications default to this process's own aggregator
	notifyURL, notifyToken := cfg.Notifier.URL, cfg.Notifier.Token
	if notifyURL == "" {
		notifyURL = localURL(cfg.Server.Addr) + "/internal/status-events"
		notifyToken = cfg.Auth.ServiceToken
	}
	statusNotifier := notifier.NewHTTPNotifier(notifyURL, notifyToken, cfg.Notifier.Timeout)

	rec := reconciler.New(store).WithClaimLease(cfg.Dispatch.ClaimLease)
	sched := scheduler.New(broker, scheduler.DefaultSequence(cfg.Scheduler.DeliveredAfter, cfg.Scheduler.ReadAfter))
	applier := scheduler.NewApplier(rec, statusNotifier)

	callbackBase := cfg.Webhook.PublicBaseURL
	if callbackBase == "" {
		callbackBase = localURL(cfg.Server.Addr)
	}
	disp := dispatcher.New(store, rec, registry, credentials, sched, statusNotifier, dispatcher.Config{CallbackBaseURL: callbackBase})
	ingester := webhook.NewIngester(store, rec, registry, credentials, statusNotifier, callbackBase)
	campaigns := campaign.NewService(store, broker, locker, cfg.Resend.Cooldown).
		WithNotifier(statusNotifier).
		WithClaimLease(cfg.Dispatch.ClaimLease)

	hub := live.NewHub(store, bus).WithOriginPatterns(cfg.Live.AllowedOrigins)
	go func() {
		if err := hub.Run(ctx); err != nil {
			log.Printf("Live hub stopped: %v", err)
		}
	}()

	// Pipeline consumers
	pm := manager.NewPipelineManager(broker)
	if err := pm.AddQueue(messaging.DispatchQueue, cfg.Workers, disp.HandleDelivery); err != nil {
		log.Fatalf("Failed to start dispatch consumer: %v", err)
	}
	if err := pm.AddQueue(messaging.StatusEventsQueue, cfg.Workers, applier.Handle); err != nil {
		log.Fatalf("Failed to start status event consumer: %v", err)
	}

	// Start background loop for updating queue depth metrics
	if rabbitClient != nil {
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					for _, queue := range pm.ListQueues() {
						rabbitClient.UpdateQueueDepth(queue)
					}
				}
			}
		}()
	}

	// Init API
	apiHandler := api.NewAPI(store, campaigns, hub, ingester, pm, cfg.Auth.ServiceToken)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: apiHandler.Router(),
	}

	go func() {
		log.Printf("Starting API server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done() // Wait for interrupt signal
	log.Println("Shutdown initiated...")

	// Shutdown sequence
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	// Let in-flight deliveries finish, then drain notifications
	pm.ShutdownAll()
	statusNotifier.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}

	log.Println("Graceful shutdown complete")
}

// localURL turns a listen address like ":8080" into a loopback base URL.
func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
