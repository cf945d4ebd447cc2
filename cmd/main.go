package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"synchire-go/internal/api/handler"
	"synchire-go/internal/api/router"
	"synchire-go/internal/config"
	"synchire-go/internal/extraction"
	"synchire-go/internal/lifecycle"
	appCoreLogger "synchire-go/internal/logger"
	"synchire-go/internal/matching"
	"synchire-go/internal/outbox"
	"synchire-go/internal/parser"
	"synchire-go/internal/processor"
	"synchire-go/internal/storage"
	"synchire-go/internal/tracing"
	"synchire-go/pkg/ratelimit"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
)

var (
	version     = "1.0.0"       //nolint:gochecknoglobals
	serviceName = "synchire-go" //nolint:gochecknoglobals
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("加载配置失败")
	}

	logFile, err := appCoreLogger.Init(appCoreLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
		File:         cfg.Logger.File,
	})
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("初始化日志失败")
	}
	if logFile != nil {
		defer logFile.Close()
	}
	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))
	appCoreLogger.Info().Str("service", serviceName).Str("version", version).Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("初始化链路追踪失败")
	}

	storageManager, err := storage.NewStorage(ctx, cfg, appCoreLogger.Component("storage"))
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()
	repo := storageManager.Repository()
	appCoreLogger.Info().Msg("存储服务初始化成功")

	// 结构化提取：LLM -> 限流 -> 提取器 -> 按内容哈希缓存
	chatModel, err := parser.NewChatModel(cfg.LLM, appCoreLogger.Logger)
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("初始化LLM客户端失败")
	}
	limitedModel := ratelimit.Wrap(
		chatModel,
		chatModel.ModelName(),
		cfg.ModelQPMLimits,
		cfg.LLM.QPM,
		ratelimit.WithRetryPolicy(time.Duration(cfg.LLM.RetryWaitSeconds)*time.Second, cfg.LLM.MaxRetries),
		ratelimit.WithLogger(appCoreLogger.Component("llm_ratelimit")),
	)
	llmExtractor := parser.NewLLMExtractor(limitedModel, appCoreLogger.Component("llm_extractor"))

	cacheOpts := []extraction.CacheOption{
		extraction.WithComputeTimeout(config.GetDuration(cfg.Extraction.ComputeTimeout, 2*time.Minute)),
		extraction.WithLockTTL(config.GetDuration(cfg.Extraction.LockTTL, 3*time.Minute)),
		extraction.WithLogger(appCoreLogger.Component("extraction_cache")),
	}
	if cfg.Extraction.DistributedLock && storageManager.Redis != nil {
		cacheOpts = append(cacheOpts, extraction.WithLocker(storageManager.Redis))
	}
	extractionCache := extraction.NewCache(storageManager.ExtractionStore(), cacheOpts...)
	extractionService := extraction.NewService(extractionCache, llmExtractor, cfg.Extraction.MaxTextChars)
	appCoreLogger.Info().Msg("提取缓存初始化成功")

	pdfExtractor, err := parser.NewPDFTextExtractor(ctx,
		parser.WithPDFTimeout(config.GetDuration(cfg.Extraction.ComputeTimeout, 2*time.Minute)),
		parser.WithPDFLogger(appCoreLogger.Component("pdf")),
	)
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("创建PDF提取器失败")
	}

	scorer := matching.NewScorer(
		matching.WithWeights(cfg.Matching.SkillWeight, cfg.Matching.SeniorityWeight),
		matching.WithMaxListSize(cfg.Matching.MaxListSize),
	)

	lcOpts := []lifecycle.Option{lifecycle.WithLogger(appCoreLogger.Component("lifecycle"))}
	if cfg.Lifecycle.DistributedLock && storageManager.Redis != nil {
		lcOpts = append(lcOpts, lifecycle.WithDistributedLock(storageManager.Redis))
	}
	lc := lifecycle.NewManager(repo, lcOpts...)

	// 可选组件为 nil 时不能直接赋给接口
	var (
		originals   processor.OriginalStore
		transcripts processor.TranscriptStore
	)
	if storageManager.MinIO != nil {
		originals = storageManager.MinIO
		transcripts = storageManager.MinIO
	}

	jobService := processor.NewJobService(repo, extractionService, appCoreLogger.Component("jobs"))
	cvIntake := processor.NewCVIntake(extractionService, repo, pdfExtractor, originals, appCoreLogger.Component("cv_intake"))
	applicationService := processor.NewApplicationService(repo, lc, scorer, appCoreLogger.Component("applications"))
	matcher := processor.NewMatchOrchestrator(repo, scorer, lc,
		processor.WithThresholdPolicy(processor.ThresholdPolicy(cfg.Matching.ThresholdPolicy)),
		processor.WithMatchWorkers(cfg.Matching.Workers),
		processor.WithMatchLogger(appCoreLogger.Component("matching")),
	)

	// 后台任务
	evaluationTrigger := processor.NewEvaluationTrigger(transcripts, repo, appCoreLogger.Component("evaluation_trigger"))

	webhookOpts := []processor.WebhookOption{
		processor.WithWebhookLogger(appCoreLogger.Component("webhook")),
	}
	if storageManager.Redis != nil {
		webhookOpts = append(webhookOpts, processor.WithEventLedger(storageManager.Redis))
	}

	var (
		messageRelay *outbox.MessageRelay
		stopConsumer chan<- struct{}
		dispatcher   *processor.FollowUpDispatcher
	)
	if storageManager.MySQL != nil && storageManager.RabbitMQ != nil {
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ, appCoreLogger.Component("outbox"),
			outbox.WithPollingInterval(config.GetDuration(cfg.RabbitMQ.OutboxPollInterval, 5*time.Second)),
			outbox.WithBatchSize(cfg.RabbitMQ.OutboxBatchSize),
		)
		messageRelay.Start()
		appCoreLogger.Info().Msg("消息中继服务已启动")

		// 回调请求内同步写发件箱，写入失败时回调返回错误由发送方重投
		webhookOpts = append(webhookOpts, processor.WithFollowUpHandler(
			processor.OutboxFollowUpHandler(repo, cfg.RabbitMQ.InterviewEventsExchange, cfg.RabbitMQ.CompletedRoutingKey)))
		stopConsumer, err = storageManager.RabbitMQ.StartConsumer(cfg.RabbitMQ.EvaluationQueue, cfg.RabbitMQ.PrefetchCount, evaluationTrigger.HandleDelivery)
		if err != nil {
			appCoreLogger.Fatal().Err(err).Str("queue", cfg.RabbitMQ.EvaluationQueue).Msg("启动面试完成事件消费者失败")
		}
	} else {
		appCoreLogger.Warn().Msg("未同时启用MySQL和RabbitMQ，面试后续任务在进程内执行")
		dispatcher = processor.NewFollowUpDispatcher(evaluationTrigger.Handle,
			processor.WithFollowUpWorkers(cfg.Webhook.FollowUpWorkers),
			processor.WithFollowUpQueueSize(cfg.Webhook.FollowUpQueue),
			processor.WithFollowUpTimeout(config.GetDuration(cfg.Webhook.FollowUpTimeout, 30*time.Second)),
			processor.WithFollowUpLogger(appCoreLogger.Component("follow_up")),
		)
		dispatcher.Start()
		webhookOpts = append(webhookOpts, processor.WithFollowUpDispatcher(dispatcher))
	}

	webhookProcessor := processor.NewInterviewWebhookProcessor(repo, lc, webhookOpts...)

	sweeper := processor.NewExpirySweeper(lc,
		config.GetDuration(cfg.Lifecycle.SweepInterval, time.Hour),
		time.Duration(cfg.Lifecycle.RetentionDays)*24*time.Hour,
		cfg.Lifecycle.SweepBatchSize,
		appCoreLogger.Component("expiry_sweeper"),
	)
	sweeper.Start()

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.Default(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithMaxRequestBodySize((cfg.Extraction.MaxUploadSizeMB+1)<<20),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		glog.CtxInfof(c, "%s %s -> %d (%s)", ctx.Method(), ctx.Path(), ctx.Response.StatusCode(), time.Since(start))
	})

	router.RegisterRoutes(h, router.Handlers{
		Jobs:         handler.NewJobHandler(jobService, matcher, applicationService, config.GetDuration(cfg.Matching.Timeout, 2*time.Minute)),
		Applications: handler.NewApplicationHandler(applicationService),
		CVs:          handler.NewCVHandler(cvIntake, int64(cfg.Extraction.MaxUploadSizeMB)<<20),
		Webhooks:     handler.NewWebhookHandler(webhookProcessor, cfg.Webhook.Secret, config.GetDuration(cfg.Webhook.Timeout, 10*time.Second)),
		Health:       storageManager.HealthCheck,
	}, cfg.Auth.APIKeys)
	appCoreLogger.Info().Str("address", cfg.Server.Address).Bool("api_key_auth", len(cfg.Auth.APIKeys) > 0).Msg("HTTP路由注册成功")

	go func() {
		if err := h.Run(); err != nil {
			appCoreLogger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appCoreLogger.Info().Msg("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout, 5*time.Second))
	defer cancelShutdown()

	// 先停入口，再排空后台任务
	if err := h.Shutdown(shutdownCtx); err != nil {
		appCoreLogger.Error().Err(err).Msg("服务器关闭失败")
	}
	sweeper.Stop()
	if dispatcher != nil {
		dispatcher.Stop()
	}
	if stopConsumer != nil {
		close(stopConsumer)
	}
	if messageRelay != nil {
		messageRelay.Stop()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		appCoreLogger.Error().Err(err).Msg("关闭链路追踪失败")
	}
	appCoreLogger.Info().Interface("extraction_stats", extractionService.Stats()).Msg("优雅退出完成")
}
