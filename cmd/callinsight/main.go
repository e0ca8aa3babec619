package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"callinsight-server/pkg/alerting"
	"callinsight-server/pkg/analysis"
	"callinsight-server/pkg/call"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/elasticsearch"
	"callinsight-server/pkg/embedding"
	"callinsight-server/pkg/insights"
	"callinsight-server/pkg/messaging"
	"callinsight-server/pkg/metrics"
	"callinsight-server/pkg/pipeline"
	"callinsight-server/pkg/queue"
	"callinsight-server/pkg/store"
	"callinsight-server/pkg/stt"
	"callinsight-server/pkg/util"
	"callinsight-server/pkg/version"
)

var (
	logger    = logrus.New()
	appConfig *config.Config

	db           *store.MySQLDatabase
	callStore    store.CallStore
	alertStore   alerting.AlertStore
	insightStore insights.InsightStore

	stageQueues map[call.Stage]queue.TaskQueue

	sttManager        *stt.ProviderManager
	analysisProvider  analysis.Provider
	embeddingProvider embedding.Provider

	orchestrator *pipeline.Orchestrator
	workers      []*pipeline.StageWorker
	sweeper      *pipeline.StalenessSweeper

	alertEngine *alerting.Engine
	publisher   *messaging.Publisher
	scheduler   *insights.Scheduler

	metricsServer    *http.Server
	runtimeCollector *metrics.RuntimeCollector

	panicHandler *util.PanicHandler
	shutdown     *util.GracefulShutdown

	// Context for graceful shutdown
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	// Basic formatter for startup logging; replaced once the
	// configuration is loaded.
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	if err := initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}

	start()
	logger.WithField("version", version.Version).Info("Call insight server started")

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up")

	// Cancel the root context so workers, the sweeper, and pollers
	// begin draining before their shutdown hooks wait on them.
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := shutdown.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("Application shut down gracefully")
}

// initialize loads configuration and initializes all components
func initialize() error {
	var err error

	appConfig, err = config.Load(logger)
	if err != nil {
		return err
	}

	if err := appConfig.ApplyLogging(logger); err != nil {
		return err
	}
	logger.WithField("level", logger.GetLevel().String()).Info("Log level set")

	panicHandler = util.NewPanicHandler(logger)
	shutdown = util.NewGracefulShutdown(logger, 15*time.Second)

	metrics.StartMetrics(logger, appConfig.Metrics.Enabled)

	if err := initializeStores(); err != nil {
		return err
	}
	if err := initializeQueues(); err != nil {
		return err
	}
	if err := initializeProviders(); err != nil {
		return err
	}
	initializePipeline()
	initializeAlerting()
	initializeInsights()
	initializeMetricsServer()

	return nil
}

// initializeStores selects the persistence backend for call records,
// alerts, and aggregates.
func initializeStores() error {
	switch strings.ToLower(appConfig.Store.Backend) {
	case "mysql":
		var err error
		db, err = store.NewMySQLDatabase(mysqlConfig(appConfig.Store.MySQL), logger)
		if err != nil {
			return err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return err
		}
		callStore = store.NewMySQLCallStore(db, logger)
		alertStore = store.NewMySQLAlertStore(db, logger)
		insightStore = store.NewMySQLInsightStore(db, logger)
		shutdown.RegisterCloser("database", db, 40)
		logger.Info("MySQL stores initialized")
	default:
		callStore = store.NewMemoryCallStore()
		alertStore = store.NewMemoryAlertStore()
		insightStore = store.NewMemoryInsightStore()
		logger.Info("In-memory stores initialized")
	}
	return nil
}

// mysqlConfig maps the application configuration onto the store's
// connection settings.
func mysqlConfig(cfg config.MySQLConfig) store.MySQLConfig {
	return store.MySQLConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Database:        cfg.Database,
		Username:        cfg.Username,
		Password:        cfg.Password,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		SSLMode:         cfg.SSLMode,
		ConnectTimeout:  cfg.ConnectTimeout,
	}
}

// initializeQueues builds one task queue per pipeline stage.
func initializeQueues() error {
	stageQueues = make(map[call.Stage]queue.TaskQueue, 3)

	sqsURLs := map[call.Stage]string{
		call.StageTranscription: appConfig.Queue.SQS.TranscriptionQueueURL,
		call.StageAnalysis:      appConfig.Queue.SQS.AnalysisQueueURL,
		call.StageEmbedding:     appConfig.Queue.SQS.EmbeddingQueueURL,
	}

	for _, stage := range []call.Stage{call.StageTranscription, call.StageAnalysis, call.StageEmbedding} {
		var (
			q   queue.TaskQueue
			err error
		)
		switch strings.ToLower(appConfig.Queue.Backend) {
		case "sqs":
			q, err = queue.NewSQSTaskQueue(rootCtx, queue.SQSTaskQueueConfig{
				Name:              string(stage),
				Region:            appConfig.Queue.SQS.Region,
				Endpoint:          appConfig.Queue.SQS.Endpoint,
				QueueURL:          sqsURLs[stage],
				DeadLetterURL:     appConfig.Queue.SQS.DeadLetterQueueURL,
				VisibilityTimeout: appConfig.Queue.VisibilityTimeout,
				ReceiveWaitTime:   appConfig.Queue.ReceiveWaitTime,
			}, logger)
			if err != nil {
				return err
			}
		default:
			q = queue.NewMemoryTaskQueue(queue.MemoryTaskQueueConfig{
				Name:              string(stage),
				VisibilityTimeout: appConfig.Queue.VisibilityTimeout,
			}, logger)
		}
		stageQueues[stage] = q
		shutdown.RegisterCloser(string(stage)+"_queue", q, 30)
	}

	logger.WithField("backend", appConfig.Queue.Backend).Info("Task queues initialized")
	return nil
}

// initializeProviders builds the speech-to-text, analysis, and embedding
// capabilities.
func initializeProviders() error {
	sttManager = stt.NewProviderManager(logger, appConfig.STT.DefaultProvider)
	for _, name := range appConfig.STT.SupportedProviders {
		var provider stt.Provider
		switch strings.ToLower(name) {
		case "google":
			provider = stt.NewGoogleProvider(logger, &appConfig.STT.Google, appConfig.STT.Language)
		case "amazon":
			provider = stt.NewAmazonTranscribeProvider(logger, &appConfig.STT.Amazon, stt.NewFileAudioFetcher(0))
		case "mock":
			provider = stt.NewMockProvider(logger)
		default:
			logger.WithField("provider", name).Warn("Unknown speech-to-text provider, skipping")
			continue
		}
		// A provider that fails to initialize is skipped so the others
		// still serve; calls routed to it fall back to the default.
		if err := sttManager.RegisterProvider(rootCtx, provider); err != nil {
			logger.WithError(err).WithField("provider", name).Warn("Speech-to-text provider unavailable")
		}
	}
	if _, ok := sttManager.GetDefaultProvider(); !ok {
		logger.WithField("provider", appConfig.STT.DefaultProvider).Warn("Default speech-to-text provider is not registered")
	}

	var err error
	analysisProvider, err = analysis.NewProvider(&appConfig.Analysis, logger)
	if err != nil {
		return err
	}
	if err := analysisProvider.Initialize(rootCtx); err != nil {
		return err
	}
	logger.WithField("provider", analysisProvider.Name()).Info("Analysis provider initialized")

	embeddingProvider = embedding.NewProvider(&appConfig.Embedding, logger)
	if err := embeddingProvider.Initialize(rootCtx); err != nil {
		return err
	}
	logger.WithField("provider", embeddingProvider.Name()).Info("Embedding provider initialized")

	return nil
}

// noopIndexer drops index requests when no search backend is
// configured. The embedding stage still runs so vectors are validated
// and the call completes its pipeline.
type noopIndexer struct{}

func (noopIndexer) IndexAnalyzedCall(context.Context, *call.Call, []float32, string) error {
	return nil
}

// initializePipeline wires the orchestrator, stage workers, and the
// staleness sweeper.
func initializePipeline() {
	orchestrator = pipeline.NewOrchestrator(logger, callStore, stageQueues)

	var indexer pipeline.InsightIndexer = noopIndexer{}
	esCfg := appConfig.Insights.Elasticsearch
	if esCfg.Enabled {
		client, err := elasticsearch.NewClient(esCfg)
		if err != nil {
			logger.WithError(err).Warn("Elasticsearch unavailable, analyzed calls will not be indexed")
		} else {
			indexer = elasticsearch.NewIndexer(logger, client, esCfg.Index)
			logger.WithField("index", esCfg.Index).Info("Elasticsearch indexer initialized")
		}
	}

	pipelineCfg := appConfig.Pipeline
	workerCfg := func(concurrency int) pipeline.WorkerConfig {
		return pipeline.WorkerConfig{
			Concurrency:       concurrency,
			MaxAttempts:       pipelineCfg.MaxAttempts,
			StageTimeout:      pipelineCfg.StageTimeout,
			VisibilityTimeout: appConfig.Queue.VisibilityTimeout,
		}
	}

	workers = []*pipeline.StageWorker{
		pipeline.NewStageWorker(logger, orchestrator, stageQueues[call.StageTranscription],
			pipeline.NewTranscriptionHandler(logger, sttManager, appConfig.STT.DefaultProvider),
			workerCfg(pipelineCfg.TranscriptionWorkers)),
		pipeline.NewStageWorker(logger, orchestrator, stageQueues[call.StageAnalysis],
			pipeline.NewAnalysisHandler(logger, analysisProvider),
			workerCfg(pipelineCfg.AnalysisWorkers)),
		pipeline.NewStageWorker(logger, orchestrator, stageQueues[call.StageEmbedding],
			pipeline.NewEmbeddingHandler(logger, embeddingProvider, indexer, appConfig.Embedding.Model),
			workerCfg(pipelineCfg.EmbeddingWorkers)),
	}

	sweeper = pipeline.NewStalenessSweeper(logger, callStore, orchestrator,
		pipelineCfg.SweepStaleAfter, pipelineCfg.SweepInterval)

	// Workers drain first so nothing is mid-flight when the stores and
	// queues behind them close.
	shutdown.Register(util.ShutdownResource{
		Name:     "stage_workers",
		Priority: 0,
		Shutdown: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				for _, w := range workers {
					w.Wait()
				}
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	logger.Info("Pipeline initialized")
}

// initializeAlerting builds the event publisher, notification channels,
// and the alert engine, and attaches both observers to the
// orchestrator.
func initializeAlerting() {
	publisher = messaging.NewPublisher(logger, appConfig.Messaging)
	if publisher.Enabled() {
		// A broker that is down at startup is not fatal; the reconnect
		// monitor cannot help here, so events are dropped until restart.
		if err := publisher.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP broker unavailable, lifecycle events will not be published")
		}
		shutdown.Register(util.ShutdownResource{
			Name:     "event_publisher",
			Priority: 10,
			Shutdown: func(context.Context) error {
				publisher.Close()
				return nil
			},
		})
	}
	orchestrator.AddObserver(publisher)

	if !appConfig.Alerting.Enabled {
		logger.Debug("Alerting disabled")
		return
	}

	rules := alerting.DefaultRules(appConfig.Alerting.FailureRateThreshold)
	if appConfig.Alerting.RulesFile != "" {
		loaded, err := alerting.LoadRules(appConfig.Alerting.RulesFile)
		if err != nil {
			logger.WithError(err).WithField("path", appConfig.Alerting.RulesFile).
				Warn("Failed to load alert rules, using defaults")
		} else {
			rules = loaded
		}
	}

	var notifiers []alerting.Notifier
	if appConfig.Alerting.SlackToken != "" && appConfig.Alerting.SlackChannel != "" {
		client := slack.New(appConfig.Alerting.SlackToken)
		notifiers = append(notifiers, alerting.NewSlackNotifier(logger, client, appConfig.Alerting.SlackChannel))
	}
	if appConfig.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(logger, appConfig.Alerting.WebhookURL, appConfig.Alerting.NotifyTimeout))
	}
	if publisher.Enabled() {
		notifiers = append(notifiers, messaging.NewEventNotifier(publisher))
	}

	alertEngine = alerting.NewEngine(logger, alertStore, rules, notifiers...)
	orchestrator.AddObserver(alertEngine)
	logger.WithFields(logrus.Fields{
		"rules":     len(rules),
		"notifiers": len(notifiers),
	}).Info("Alert engine initialized")
}

// initializeInsights builds the daily aggregation pipeline.
func initializeInsights() {
	if !appConfig.Insights.Enabled {
		logger.Debug("Insights aggregation disabled")
		return
	}

	// The untyped nil matters here: a nil *Engine stuffed into the
	// interface would pass the aggregator's nil check.
	var sink insights.MetricSink
	if alertEngine != nil {
		sink = alertEngine
	}
	aggregator := insights.NewAggregator(logger, callStore, insightStore, sink)

	cronSchedule := appConfig.Insights.Schedule
	if cronSchedule == "" {
		cronSchedule = insights.DefaultSchedule
	}
	scheduler = insights.NewScheduler(logger, aggregator, cronSchedule)
	if err := scheduler.Start(); err != nil {
		logger.WithError(err).WithField("schedule", cronSchedule).
			Warn("Daily aggregation schedule rejected, rollups must be run manually")
		scheduler = nil
		return
	}
	shutdown.Register(util.ShutdownResource{
		Name:     "insights_scheduler",
		Priority: 5,
		Shutdown: func(context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
	logger.WithField("schedule", cronSchedule).Info("Insights scheduler started")
}

// initializeMetricsServer prepares the Prometheus exposition endpoint.
func initializeMetricsServer() {
	if !appConfig.Metrics.Enabled {
		return
	}

	addr := appConfig.Metrics.ListenAddress
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	metrics.RegisterHandler(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if db != nil {
			if err := db.Health(); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	metricsServer = &http.Server{Addr: addr, Handler: mux}
	runtimeCollector = metrics.StartRuntimeCollector(logger, 15*time.Second)

	shutdown.Register(util.ShutdownResource{
		Name:     "metrics_server",
		Priority: 15,
		Shutdown: func(ctx context.Context) error {
			runtimeCollector.Stop()
			return metricsServer.Shutdown(ctx)
		},
	})
}

// start launches every background goroutine the server runs.
func start() {
	for _, w := range workers {
		w.Start(rootCtx)
	}

	panicHandler.SafeGo("staleness_sweeper", func() {
		sweeper.Run(rootCtx)
	})

	if metricsServer != nil {
		panicHandler.SafeGo("metrics_server", func() {
			logger.WithField("address", metricsServer.Addr).Info("Metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("Metrics server stopped")
			}
		})
	}
}
