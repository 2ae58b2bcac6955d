package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"poscal/internal/cache"
	"poscal/internal/client/finnhub"
	"poscal/internal/config"
	cronrunner "poscal/internal/cron"
	"poscal/internal/db"
	"poscal/internal/handler"
	"poscal/internal/logger"
	"poscal/internal/notify"
	"poscal/internal/observability"
	"poscal/internal/pricefeed"
	"poscal/internal/ratelimit"
	gormrepository "poscal/internal/repository/gorm"
	"poscal/internal/service"
)

const backlogSchedule = "@every 10m"

func main() {
	cfgPath := os.Getenv("POSCAL_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("POSCAL_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		log.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		log.Warn("init default system switches failed", zap.Error(err))
	}

	metrics := observability.NewMetrics(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)

	// Hot quote tier: redis when configured so replicas share it.
	var (
		hot       cache.Store
		memHot    *cache.MemoryStore
		readiness handler.Pinger
	)
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		rs := cache.NewRedisStore(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, "poscal:")
		defer rs.Close()
		hot, readiness = rs, rs
	} else {
		memHot = cache.NewMemoryStore()
		hot = memHot
	}

	livePrices := newLimiter(cfg.RateLimit.LivePrices)
	pushLimiter := newLimiter(cfg.RateLimit.PushNotification)
	monitorLimiter := newLimiter(cfg.RateLimit.SignalMonitor)
	priceAPILimiter := newLimiter(cfg.RateLimit.LivePrices)

	feed := pricefeed.Chain{
		pricefeed.Timed{
			Name:    "cache",
			Feed:    &pricefeed.CacheFeed{Hot: hot, Repo: store, MaxAge: cfg.Monitor.PriceMaxAge},
			Metrics: metrics,
		},
		pricefeed.Timed{
			Name: "rest",
			Feed: pricefeed.NewRESTFeed(pricefeed.RESTOptions{
				BaseURL:        cfg.PriceFeed.BaseURL,
				APIKey:         cfg.PriceFeed.APIKey,
				HTTPClient:     &http.Client{Timeout: cfg.PriceFeed.Timeout},
				RequestsPerMin: cfg.PriceFeed.RequestsPerMin,
				Window:         livePrices,
			}),
			Metrics: metrics,
		},
	}

	queue := notify.NewQueue(cfg.Notify.QueueSize, log, metrics)
	dispatcher := &notify.Dispatcher{
		Queue:   queue,
		Outbox:  store,
		Sinks:   notifySinks(cfg.Notify),
		Limiter: pushLimiter,
		Enabled: func(ctx context.Context) bool {
			return settingsSvc.IsEnabled(ctx, service.FeatureNotifications, true)
		},
		SendTimeout: cfg.Notify.SendTimeout,
		Logger:      logger.Job(log, "notify"),
		Metrics:     metrics,
	}

	settlement := &service.SettlementService{
		Repo:    store,
		Config:  cfg.Settlement,
		Emitter: queue,
		Logger:  logger.Job(log, "settlement"),
		Metrics: metrics,
		Flags:   settingsSvc,
	}
	monitor := &service.SignalMonitorService{
		Repo:       store,
		Feed:       feed,
		Settlement: settlement,
		Emitter:    queue,
		Config:     cfg.Monitor,
		Logger:     logger.Job(log, "monitor"),
		Metrics:    metrics,
		Flags:      settingsSvc,
	}
	ingest := &service.PriceIngestService{
		Repo:          store,
		Hot:           hot,
		HotTTL:        cfg.PriceFeed.HotTTL,
		FlushInterval: cfg.PriceStream.BatchInterval,
		Logger:        logger.Job(log, "price_ingest"),
		Metrics:       metrics,
		Flags:         settingsSvc,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(handler.RequestID())
	engine.Use(handler.RequireServiceToken(cfg.Server.ServiceToken))
	engine.Use(handler.WriteAudit(log))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Cache: readiness}
	healthHandler.Register(engine)
	engine.GET("/metrics", gin.WrapH(observability.Handler()))

	clientKey := ratelimit.ClientKey([]byte(cfg.Server.UserTokenSecret))
	api := engine.Group("/api/v1")
	(&handler.SwitchesHandler{Settings: settingsSvc}).Register(api)
	(&handler.SignalsHandler{Repo: store, Settlement: settlement}).Register(api)
	(&handler.PricesHandler{Repo: store, Ingest: ingest}).
		Register(api.Group("", ratelimit.Middleware(priceAPILimiter, "live_prices", clientKey, metrics)))
	(&handler.MonitorHandler{Monitor: monitor, Settlement: settlement}).
		Register(api.Group("", ratelimit.Middleware(monitorLimiter, "signal_monitor", clientKey, metrics)))

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	baseCtx := ctx

	go func() {
		if err := dispatcher.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("notification dispatcher stopped", zap.Error(err))
		}
	}()

	cronRunner := cronrunner.New(log, baseCtx)
	if cfg.Cron.Enabled {
		if cfg.Monitor.Enabled {
			if _, err := cronRunner.Add(cfg.Monitor.Interval, monitor.Tick); err != nil {
				log.Warn("cron register signal monitor failed", zap.Error(err))
			}
		}
		if cfg.Settlement.BacklogEnabled {
			_, err := cronRunner.Add(backlogSchedule, func(ctx context.Context) {
				if _, err := settlement.SettleBacklog(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn("settlement backlog failed", zap.Error(err))
				}
			})
			if err != nil {
				log.Warn("cron register settlement backlog failed", zap.Error(err))
			}
		}
		_, err := cronRunner.Add(cfg.Cron.Sweep, func(ctx context.Context) {
			now := time.Now()
			swept := 0
			for _, l := range []*ratelimit.Limiter{livePrices, pushLimiter, monitorLimiter, priceAPILimiter} {
				if l != nil {
					swept += l.Sweep(now)
				}
			}
			if memHot != nil {
				swept += memHot.Sweep(now)
			}
			if swept > 0 {
				log.Debug("expired entries swept", zap.Int("count", swept))
			}
		})
		if err != nil {
			log.Warn("cron register sweep failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	} else if cfg.Monitor.Enabled {
		go func() {
			if err := monitor.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("signal monitor stopped", zap.Error(err))
			}
		}()
	}

	if cfg.PriceStream.Enabled && settingsSvc.IsEnabled(baseCtx, service.FeaturePriceStream, true) {
		stream := finnhub.NewStream(finnhub.StreamOptions{
			URL:     cfg.PriceStream.URL,
			APIKey:  cfg.PriceStream.APIKey,
			Symbols: cfg.PriceStream.Symbols,
			Logger:  logger.Job(log, "finnhub"),
		})
		go func() {
			err := stream.Run(baseCtx, func(t finnhub.Trade) {
				ingest.Observe(t.Pair, t.Price, t.At, "finnhub")
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("price stream stopped", zap.Error(err))
			}
		}()
		go func() {
			if err := ingest.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("price ingest stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newLimiter(w config.WindowConfig) *ratelimit.Limiter {
	if w.MaxRequests <= 0 || w.Window <= 0 {
		return nil
	}
	return ratelimit.New(w.MaxRequests, w.Window)
}

func notifySinks(cfg config.NotifyConfig) []notify.Sink {
	client := &http.Client{Timeout: cfg.SendTimeout}
	var sinks []notify.Sink
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		sinks = append(sinks, notify.WebhookSink{URL: cfg.WebhookURL, Project: cfg.Project, HTTP: client})
	}
	if strings.TrimSpace(cfg.TelegramBotToken) != "" && strings.TrimSpace(cfg.TelegramChatID) != "" {
		sinks = append(sinks, notify.TelegramSink{BotToken: cfg.TelegramBotToken, ChatID: cfg.TelegramChatID, HTTP: client})
	}
	return sinks
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-User-Token")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
