package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-skykit/gateway"
	"github.com/tinywideclouds/go-skykit/gateway/config"
	"github.com/tinywideclouds/go-skykit/internal/fanout"
	"github.com/tinywideclouds/go-skykit/internal/platform/apns"
	"github.com/tinywideclouds/go-skykit/internal/platform/fcm"
	"github.com/tinywideclouds/go-skykit/internal/platform/web"
	"github.com/tinywideclouds/go-skykit/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-skykit/internal/storage/firestore"
	"github.com/tinywideclouds/go-skykit/internal/storage/sqlite"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "skykit-gateway")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Gateway exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// --- Config Loading ---
	yamlCfg, err := config.ParseYaml(configFile)
	if err != nil {
		return err
	}
	baseCfg, err := config.NewConfigFromYaml(yamlCfg, logger)
	if err != nil {
		return err
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("config failed: %w", err)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client failed: %w", err)
	}
	defer psClient.Close()

	// --- Device Store (Decorated) ---
	var store dispatch.DeviceStore
	switch cfg.Store.Backend {
	case config.StoreSQLite:
		sqlStore, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		store = sqlStore
	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("firestore client failed: %w", err)
		}
		defer fsClient.Close()
		store = fsStore.NewDeviceStore(fsClient, logger)
	}
	logger.Info("DeviceStore initialized", "type", cfg.Store.Backend)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		store = cache.NewCachedDeviceStore(store, redisClient, cfg.Redis.TTL, logger)
		logger.Info("DeviceStore upgraded", "type", "redis_cached_"+cfg.Store.Backend)
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		return fmt.Errorf("jwt discovery failed: %w", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return fmt.Errorf("auth middleware failed: %w", err)
	}

	// --- Dispatchers ---
	dispatchers, err := newDispatchers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	router := fanout.NewRouter(store, dispatchers, logger)

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		return err
	}

	service, err := gateway.New(cfg, consumer, router, store, authMiddleware, registry, logger)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

func newDispatchers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (fanout.Dispatchers, error) {
	var dispatchers fanout.Dispatchers

	// A. Android and browsers via Firebase
	if cfg.FCM.Enabled {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return dispatchers, fmt.Errorf("failed to initialize firebase app: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return dispatchers, fmt.Errorf("failed to create fcm messaging client: %w", err)
		}
		dispatchers.FCM = fcm.NewDispatcher(fcmMessaging, cfg.FCM.Icon, logger)
		logger.Info("FCM Dispatcher enabled")
	}

	// B. iOS via APNs
	if cfg.APNS.Enabled {
		keyContent, err := os.ReadFile(cfg.APNS.KeyPath)
		if err != nil {
			return dispatchers, fmt.Errorf("failed to read apns key: %w", err)
		}
		apnsDispatcher, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: string(keyContent),
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)
		if err != nil {
			return dispatchers, err
		}
		dispatchers.APNS = apnsDispatcher
		logger.Info("APNs Dispatcher enabled", "bundle_id", cfg.APNS.BundleID, "sandbox", cfg.APNS.Sandbox)
	}

	// C. Web Push (VAPID)
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push is disabled.")
	} else {
		dispatchers.Web = web.NewDispatcher(cfg.Vapid, logger)
		logger.Info("Web Dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
	}
	return dispatchers, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := resourceName(cfg.ProjectID, "subscriptions", cfg.PubsubConsumerConfig.SubscriptionID)
	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              resourceName(cfg.ProjectID, "topics", cfg.TopicID),
		AckDeadlineSeconds: 30,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: durationpb.New(5 * time.Second),
			MaximumBackoff: durationpb.New(5 * time.Minute),
		},
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     resourceName(cfg.ProjectID, "topics", cfg.SubscriptionDLQTopicID),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) != codes.AlreadyExists {
			return nil, fmt.Errorf("could not create subscription %s: %w", sub, err)
		}
		logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

func resourceName(project, kind, id string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
