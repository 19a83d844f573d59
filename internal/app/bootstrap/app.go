package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/prescription-ai-platform/internal/agent"
	"github.com/wolfman30/prescription-ai-platform/internal/api/router"
	"github.com/wolfman30/prescription-ai-platform/internal/blob"
	"github.com/wolfman30/prescription-ai-platform/internal/chat"
	appconfig "github.com/wolfman30/prescription-ai-platform/internal/config"
	"github.com/wolfman30/prescription-ai-platform/internal/conversation"
	httpmiddleware "github.com/wolfman30/prescription-ai-platform/internal/http/middleware"
	"github.com/wolfman30/prescription-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

// App is the wired API server.
type App struct {
	Handler     http.Handler
	RateLimiter *httpmiddleware.RateLimiter
	closers     []func()
}

// Close releases pools and clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Build connects every backing service named in cfg and returns the HTTP
// handler serving the chat API.
func Build(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, reg *prometheus.Registry, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	app := &App{}

	pool, err := BuildPostgresPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, pool.Close)

	healthChecks := map[string]router.HealthCheck{
		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
	}

	var cache *conversation.SessionCache
	if redisClient := BuildRedisClient(ctx, cfg, logger, true); redisClient != nil {
		app.closers = append(app.closers, func() { _ = redisClient.Close() })
		cache = conversation.NewSessionCache(redisClient, cfg.SessionCacheSize, nil)
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	history := conversation.NewHistory(conversation.NewPGStore(pool), cache, logger)

	if strings.TrimSpace(cfg.S3Bucket) == "" {
		app.Close()
		return nil, fmt.Errorf("bootstrap: S3_BUCKET is required")
	}
	localstack := strings.TrimSpace(cfg.AWSEndpointOverride) != ""
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = localstack
	})
	blobOpts := []blob.Option{blob.WithPresigner(s3.NewPresignClient(s3Client))}
	if localstack {
		blobOpts = append(blobOpts, blob.WithPublicBaseURL(strings.TrimRight(cfg.AWSEndpointOverride, "/")+"/"+cfg.S3Bucket))
	}
	blobs := blob.NewStore(s3Client, cfg.S3Bucket, cfg.AWSRegion, logger, blobOpts...)

	records, err := BuildPrescriptionStore(cfg, pool, dynamodb.NewFromConfig(awsCfg), logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	bedrock := bedrockruntime.NewFromConfig(awsCfg)
	analyzer, err := BuildVisionAnalyzer(cfg, bedrock, blobs, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	model, err := BuildLLMClient(ctx, cfg, bedrock, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	drugs, err := BuildDrugClient(cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	agentMetrics := metrics.NewAgentMetrics(reg)
	pipeline := agent.NewPipeline(records, analyzer, agentMetrics, logger, cfg.VQATimeout)
	turnRouter, err := BuildRouter(cfg, model, drugs, pipeline, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	core := agent.New(agent.Config{
		Pipeline:         pipeline,
		Records:          records,
		Analyzer:         analyzer,
		Drugs:            drugs,
		History:          history,
		LLM:              model,
		Router:           turnRouter,
		Metrics:          agentMetrics,
		Logger:           logger,
		HistoryLimit:     cfg.HistoryLimit,
		DrugMaxChars:     cfg.DrugDetailMaxChars,
		InferenceTimeout: cfg.VQATimeout,
	})
	service := chat.NewService(chat.Config{
		Records:        records,
		Blobs:          blobs,
		Agent:          core,
		Analyzer:       core.Pipeline(),
		History:        history,
		Drugs:          drugs,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
		PresignTTL:     cfg.S3PresignTTL,
		DrugMaxChars:   cfg.DrugDetailMaxChars,
	})

	if cfg.RateLimitRPS > 0 {
		app.RateLimiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; trusting the X-User-ID header")
	}

	app.Handler = router.New(&router.Config{
		Logger:             logger,
		ChatHandler:        chat.NewHandler(service, logger),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HTTPMetrics:        metrics.NewHTTPMetrics(reg),
		RateLimiter:        app.RateLimiter,
		HealthChecks:       healthChecks,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		JWTSecret:          cfg.JWTSecret,
	})
	logger.Info("api wired",
		"prescription_store", cfg.PrescriptionStore,
		"vision_provider", cfg.VisionProvider,
		"llm_provider", cfg.LLMProvider,
		"agent_strategy", cfg.AgentStrategy,
		"session_cache", cache != nil,
	)
	return app, nil
}
