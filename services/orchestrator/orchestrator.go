// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the chat relay service together.
//
// The Service owns the HTTP router, the completion client, the retriever,
// the tokenizer factory and the observability stack:
//
//	cfg, err := config.Load(path)
//	svc, err := orchestrator.New(cfg, orchestrator.Options{APIKey: enclave})
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/thenextblock/ask-discord-ui/pkg/tokenizer"
	"github.com/thenextblock/ask-discord-ui/services/llm"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/config"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/contextwindow"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/handlers"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/middleware"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/observability"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/routes"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/services"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// StdoutTraceEndpoint as the OTel endpoint prints spans instead of
// exporting them.
const StdoutTraceEndpoint = "stdout"

// Service is the relay service lifecycle.
type Service interface {
	// Run serves HTTP until ctx is canceled, then shuts down gracefully.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, for tests.
	Router() *gin.Engine
}

// Options carries dependencies that do not come from the configuration.
type Options struct {
	// APIKey is the server-side completion key. May be nil when every
	// caller supplies its own.
	APIKey *memguard.Enclave

	// Retriever replaces the configured retrieval backend when set.
	Retriever services.Retriever

	// Tokenizer replaces the tiktoken factory when set.
	Tokenizer tokenizer.Factory
}

type service struct {
	config        config.Config
	opts          Options
	router        *gin.Engine
	registry      *prometheus.Registry
	metrics       *observability.RelayMetrics
	completion    *llm.OpenAIClient
	retriever     services.Retriever
	tiktoken      *tiktokenHolder
	tracerCleanup func(context.Context)
}

// tiktokenHolder lets cleanup shut down a factory it created while still
// accepting a caller-supplied one.
type tiktokenHolder struct {
	factory tokenizer.Factory
	owned   *tokenizer.TiktokenFactory
}

// New builds the service from cfg. cfg is expected to be validated.
func New(cfg config.Config, opts Options) (Service, error) {
	s := &service{config: cfg, opts: opts}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = observability.NewMetrics(s.registry)

	if err := s.initRetriever(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize retriever: %w", err)
	}
	if err := s.initCompletion(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize completion client: %w", err)
	}
	s.initTokenizer()
	s.initRouter()

	return s, nil
}

func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting relay server", "port", s.config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		slog.Info("Shutting down relay server", "timeout", timeout.String())
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// initTracer installs the global tracer provider. Without an endpoint the
// otel no-op provider stays in place.
func (s *service) initTracer() (func(context.Context), error) {
	endpoint := s.config.Telemetry.OTelEndpoint
	if endpoint == "" {
		slog.Info("Tracing disabled, no OTel endpoint configured")
		return nil, nil
	}
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	if endpoint == StdoutTraceEndpoint {
		stdoutExporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = stdoutExporter
	} else {
		conn, err := grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		grpcExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = grpcExporter
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.config.Telemetry.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	slog.Info("Tracing enabled", "endpoint", endpoint)

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

func (s *service) initRetriever() error {
	if s.opts.Retriever != nil {
		s.retriever = s.opts.Retriever
		return nil
	}

	rc := s.config.Retrieval
	switch rc.Backend {
	case config.BackendWeaviate:
		parsed, err := url.Parse(rc.WeaviateURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid Weaviate URL: %s", rc.WeaviateURL)
		}
		client, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme})
		if err != nil {
			return fmt.Errorf("failed to create Weaviate client: %w", err)
		}
		s.retriever = services.NewWeaviateRetriever(client, rc.ContentProperty, rc.ChannelProperty)
		slog.Info("Using Weaviate retrieval backend", "url", rc.WeaviateURL)
	default:
		if rc.SearchURL == "" {
			return fmt.Errorf("search URL is not configured")
		}
		s.retriever = services.NewSearchClient(rc.SearchURL, &http.Client{Timeout: rc.Timeout})
		slog.Info("Using HTTP search retrieval backend", "url", rc.SearchURL)
	}
	return nil
}

func (s *service) initCompletion() error {
	cc := s.config.Completion
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cc.Timeout

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		Provider:     llm.Provider(cc.Provider),
		Host:         cc.Host,
		APIVersion:   cc.APIVersion,
		Organization: cc.Organization,
		Deployment:   cc.Deployment,
		DefaultKey:   s.opts.APIKey,
		MaxTokens:    cc.MaxTokens,
		HTTPClient:   &http.Client{Transport: transport},
	})
	if err != nil {
		return err
	}
	s.completion = client
	return nil
}

func (s *service) initTokenizer() {
	if s.opts.Tokenizer != nil {
		s.tiktoken = &tiktokenHolder{factory: s.opts.Tokenizer}
		return
	}
	owned := tokenizer.NewTiktokenFactory(s.config.Chat.Encoding)
	s.tiktoken = &tiktokenHolder{factory: owned, owned: owned}
}

func (s *service) initRouter() {
	if s.config.Server.GinMode != "" {
		gin.SetMode(s.config.Server.GinMode)
	}
	s.router = gin.New()
	s.router.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.AccessLog(),
		cors.New(s.corsConfig()),
		otelgin.Middleware(s.config.Telemetry.ServiceName),
	)

	relay := services.NewChatRelay(s.retriever, s.completion, s.metrics.RecordRetrieval)
	chat := handlers.NewChatHandler(relay, contextwindow.New(s.reserve()), s.tiktoken.factory,
		s.config.ChatDefaults(), s.metrics)

	routes.SetupRoutes(s.router, chat, s.completion, s.registry)
}

func (s *service) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	origins := s.config.Server.AllowedOrigins
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AddAllowHeaders(handlers.APIKeyHeader, middleware.RequestIDHeader)
	cfg.AddExposeHeaders(handlers.ErrorMessageHeader, middleware.RequestIDHeader)
	return cfg
}

// reserve maps the configured reserve onto Builder semantics, where zero
// selects the default.
func (s *service) reserve() int {
	if s.config.Chat.Reserve == 0 {
		return -1
	}
	return s.config.Chat.Reserve
}

func (s *service) cleanup() {
	if s.tiktoken != nil && s.tiktoken.owned != nil {
		s.tiktoken.owned.Shutdown()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

var _ Service = (*service)(nil)
