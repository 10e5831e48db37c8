// Package gateway assembles the push gateway: a Pub/Sub pipeline that turns
// push requests into SendOperations, plus the HTTP device and push APIs.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-skykit/gateway/config"
	"github.com/tinywideclouds/go-skykit/internal/api"
	"github.com/tinywideclouds/go-skykit/internal/metrics"
	"github.com/tinywideclouds/go-skykit/internal/pipeline"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/push"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.PushJob]
	logger          *slog.Logger
}

// New assembles the service. transport delivers every SendOperation the
// gateway runs; store backs the device API. A nil registry disables metrics.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	transport dispatch.Transport,
	store dispatch.DeviceStore,
	authMiddleware func(http.Handler) http.Handler,
	registry *prometheus.Registry,
	logger *slog.Logger,
) (*Wrapper, error) {
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	var opOpts []push.Option
	if registry != nil {
		opOpts = append(opOpts, push.WithObserver(metrics.NewCollector(registry)))
	}

	processor := pipeline.NewProcessor(transport, logger, opOpts...)
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.PushRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	deviceAPI := api.NewDeviceAPI(store, logger)
	pushAPI := api.NewPushAPI(transport, cfg.PushAPIKey, logger, opOpts...)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}
	handle("GET /api/v1/devices", deviceAPI.ListDevices)
	handle("POST /api/v1/devices", deviceAPI.RegisterDevice)
	handle("DELETE /api/v1/devices/{id}", deviceAPI.UnregisterDevice)

	// Server-to-server; guarded by the push API key instead of user auth.
	mux.Handle("POST /api/v1/push", corsMiddleware(http.HandlerFunc(pushAPI.Push)))

	// CORS preflight for the API namespace.
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	if registry != nil && cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
