package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"callinsight-server/pkg/alerting"
	"callinsight-server/pkg/call"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/insights"
	"callinsight-server/pkg/pipeline"
	"callinsight-server/pkg/queue"
	"callinsight-server/pkg/store"
	"callinsight-server/pkg/version"
)

var (
	logger = logrus.New()

	verbose bool

	appConfig    *config.Config
	db           *store.MySQLDatabase
	callStore    store.CallStore
	alertStore   alerting.AlertStore
	insightStore insights.InsightStore
	stageQueues  map[call.Stage]queue.TaskQueue
	orchestrator *pipeline.Orchestrator
	alertEngine  *alerting.Engine
)

var rootCmd = &cobra.Command{
	Use:   "callinsightctl",
	Short: "Operations CLI for the call insight pipeline",
	Long: `callinsightctl operates on the same stores and queues as the server:
reprocess failed calls, work the alert queue, and manage daily insight
aggregates.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.WarnLevel)
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		}

		var err error
		appConfig, err = config.Load(logger)
		if err != nil {
			return err
		}

		if strings.ToLower(appConfig.Store.Backend) != "mysql" {
			return fmt.Errorf("callinsightctl requires the mysql store backend, configured backend is %q", appConfig.Store.Backend)
		}
		db, err = store.NewMySQLDatabase(store.MySQLConfig{
			Host:            appConfig.Store.MySQL.Host,
			Port:            appConfig.Store.MySQL.Port,
			Database:        appConfig.Store.MySQL.Database,
			Username:        appConfig.Store.MySQL.Username,
			Password:        appConfig.Store.MySQL.Password,
			MaxOpenConns:    appConfig.Store.MySQL.MaxOpenConns,
			MaxIdleConns:    appConfig.Store.MySQL.MaxIdleConns,
			ConnMaxLifetime: appConfig.Store.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: appConfig.Store.MySQL.ConnMaxIdleTime,
			SSLMode:         appConfig.Store.MySQL.SSLMode,
			ConnectTimeout:  appConfig.Store.MySQL.ConnectTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to store: %w", err)
		}
		callStore = store.NewMySQLCallStore(db, logger)
		alertStore = store.NewMySQLAlertStore(db, logger)
		insightStore = store.NewMySQLInsightStore(db, logger)

		if err := buildQueues(cmd); err != nil {
			db.Close()
			return err
		}
		orchestrator = pipeline.NewOrchestrator(logger, callStore, stageQueues)

		// A notifier-less engine: CLI transitions change stored state
		// without re-announcing alerts.
		alertEngine = alerting.NewEngine(logger, alertStore,
			alerting.DefaultRules(appConfig.Alerting.FailureRateThreshold))

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		for _, q := range stageQueues {
			q.Close()
		}
		if db != nil {
			if err := db.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to close store: %v\n", err)
			}
		}
	},
}

// buildQueues mirrors the server's per-stage queue construction. With the
// SQS backend a reprocessed call's first task lands on the shared queue;
// with the memory backend the server's staleness sweeper picks the call
// up instead.
func buildQueues(cmd *cobra.Command) error {
	stageQueues = make(map[call.Stage]queue.TaskQueue, 3)

	sqsURLs := map[call.Stage]string{
		call.StageTranscription: appConfig.Queue.SQS.TranscriptionQueueURL,
		call.StageAnalysis:      appConfig.Queue.SQS.AnalysisQueueURL,
		call.StageEmbedding:     appConfig.Queue.SQS.EmbeddingQueueURL,
	}

	for _, stage := range []call.Stage{call.StageTranscription, call.StageAnalysis, call.StageEmbedding} {
		if strings.ToLower(appConfig.Queue.Backend) == "sqs" {
			q, err := queue.NewSQSTaskQueue(cmd.Context(), queue.SQSTaskQueueConfig{
				Name:              string(stage),
				Region:            appConfig.Queue.SQS.Region,
				Endpoint:          appConfig.Queue.SQS.Endpoint,
				QueueURL:          sqsURLs[stage],
				DeadLetterURL:     appConfig.Queue.SQS.DeadLetterQueueURL,
				VisibilityTimeout: appConfig.Queue.VisibilityTimeout,
				ReceiveWaitTime:   appConfig.Queue.ReceiveWaitTime,
			}, logger)
			if err != nil {
				return fmt.Errorf("build %s queue: %w", stage, err)
			}
			stageQueues[stage] = q
			continue
		}
		stageQueues[stage] = queue.NewMemoryTaskQueue(queue.MemoryTaskQueueConfig{
			Name:              string(stage),
			VisibilityTimeout: appConfig.Queue.VisibilityTimeout,
		}, logger)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(reprocessCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(insightsCmd)
}
