package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itskum47/PulseForge/control_plane/coordination"
	"github.com/itskum47/PulseForge/control_plane/idempotency"
	"github.com/itskum47/PulseForge/control_plane/middleware"
	"github.com/itskum47/PulseForge/control_plane/store"
	"github.com/itskum47/PulseForge/control_plane/streaming"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "pulseforge",
		Level:      hclog.LevelFromString(envOr("LOG_LEVEL", "info")),
		JSONFormat: os.Getenv("LOG_JSON") == "true",
	})

	agentToken := os.Getenv("AGENT_TOKEN")
	if agentToken == "" {
		logger.Error("AGENT_TOKEN is required; refusing to start with an open agent surface")
		os.Exit(1)
	}
	apiKey := os.Getenv("ADMIN_API_KEY")
	if apiKey == "" {
		logger.Warn("ADMIN_API_KEY not set; dashboard API is unauthenticated")
	}

	listenAddr := envOr("LISTEN_ADDR", ":8080")
	wsBase := envOr("PUBLIC_WS_URL", "ws://localhost:8080")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store: Postgres when configured, in-memory otherwise. The memory
	// store is for development and tests; it loses everything on restart.
	var st store.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pg, err := store.NewPostgresStore(ctx, dbURL)
		if err != nil {
			logger.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.InitSchema(ctx); err != nil {
			logger.Error("schema init failed", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to postgres")
		st = pg
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store (single node, non-durable)")
		st = store.NewMemoryStore()
	}

	if err := st.SeedDefaultSettings(ctx, store.DefaultSettings()); err != nil {
		logger.Error("seeding default settings failed", "error", err)
		os.Exit(1)
	}

	// Push bus: Redis pub/sub lets any instance accept a push and have the
	// instance holding the agent's socket deliver it. The loopback bus
	// keeps the same path working on a single node.
	hostname, _ := os.Hostname()
	var bus streaming.Bus
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rb, err := streaming.NewRedisBus(redisAddr, os.Getenv("REDIS_PASSWORD"), 0, hostname, logger)
		if err != nil {
			logger.Error("redis connection failed", "addr", redisAddr, "error", err)
			os.Exit(1)
		}
		defer rb.Close()
		logger.Info("connected to redis push bus", "addr", redisAddr)
		bus = rb
	} else {
		logger.Info("REDIS_ADDR not set; push bus is process-local")
		bus = streaming.NewLoopbackBus(hostname, logger)
	}

	hub := NewHub(logger)
	go hub.Run(ctx)

	notifier := NewNotifier(st, logger)
	api := NewAPI(st, hub, bus, notifier, agentToken, wsBase, logger)

	dispatchInterval := 30 * time.Second
	if v := os.Getenv("DISPATCH_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dispatchInterval = time.Duration(n) * time.Second
		}
	}
	dispatcher := NewDispatcher(st, hub, dispatchInterval, logger)
	go dispatcher.Run(ctx)

	bridge := NewPushBridge(bus, hub, logger)
	go bridge.Run(ctx)

	offline := coordination.NewOfflineMonitor(st, hub, notifier, logger)
	go offline.Run(ctx)

	alerts := coordination.NewAlertEngine(st, hub, notifier, logger)
	go alerts.Run(ctx)

	retention := coordination.NewRetentionSweeper(st, 0, logger)
	go retention.Run(ctx)

	// Agent surface. The channel endpoint is registered bare: the token is
	// verified after the upgrade so agents get a close frame they can act
	// on instead of a failed handshake.
	probeLimiter := middleware.NewKeyedLimiter(5, 20)
	http.Handle("/api/agent/checkin", middleware.AgentAuth(agentToken, http.HandlerFunc(api.handleCheckin)))
	http.Handle("/api/agent/tasks/", middleware.AgentAuth(agentToken,
		middleware.RateLimit(probeLimiter, "task_probe", http.HandlerFunc(api.handleTaskProbe))))
	http.HandleFunc("/ws/agent/", api.handleAgentWS)

	// Dashboard surface.
	http.Handle("/api/devices", middleware.APIKeyAuth(apiKey, http.HandlerFunc(api.handleListDevices)))
	http.Handle("/api/devices/", middleware.APIKeyAuth(apiKey, http.HandlerFunc(api.handleDeviceItem)))
	http.Handle("/api/tasks", middleware.APIKeyAuth(apiKey,
		idempotency.Middleware(api.idempotency, http.HandlerFunc(api.handleTasks))))
	http.Handle("/api/tasks/", middleware.APIKeyAuth(apiKey, http.HandlerFunc(api.handleTaskItem)))
	http.Handle("/api/alert-rules", middleware.APIKeyAuth(apiKey, http.HandlerFunc(api.handleAlertRules)))
	http.Handle("/api/alert-rules/", middleware.APIKeyAuth(apiKey, http.HandlerFunc(api.handleAlertRuleItem)))
	http.Handle("/api/settings", middleware.APIKeyAuth(apiKey, http.HandlerFunc(api.handleSettings)))
	http.Handle("/api/settings/", middleware.APIKeyAuth(apiKey, http.HandlerFunc(api.handleSettingItem)))
	http.Handle("/api/logs", middleware.APIKeyAuth(apiKey, http.HandlerFunc(api.handleLogs)))
	http.Handle("/api/dashboard", middleware.APIKeyAuth(apiKey, http.HandlerFunc(api.handleDashboardSummary)))
	http.Handle("/ws/dashboard", middleware.APIKeyAuth(apiKey, http.HandlerFunc(api.handleDashboardWS)))

	http.HandleFunc("/health", api.handleHealth)
	http.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           middleware.CORSMiddleware(http.DefaultServeMux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("control plane listening", "addr", listenAddr, "ws_base", wsBase)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", "error", err)
	}
}
