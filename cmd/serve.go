package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/convoflow-go/internal/actions"
	"github.com/dayuer/convoflow-go/internal/advance"
	"github.com/dayuer/convoflow-go/internal/config"
	"github.com/dayuer/convoflow-go/internal/crm"
	"github.com/dayuer/convoflow-go/internal/delay"
	"github.com/dayuer/convoflow-go/internal/dispatch"
	"github.com/dayuer/convoflow-go/internal/job"
	"github.com/dayuer/convoflow-go/internal/logging"
	"github.com/dayuer/convoflow-go/internal/reason"
	"github.com/dayuer/convoflow-go/internal/tracker"
	"github.com/dayuer/convoflow-go/internal/webhook"
)

var (
	serveConfigPath string
	servePort       int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the convoflow pipeline (webhook + listener + dispatcher)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Config file path")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Webhook port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.Development); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logging.Sync()

	actionSet, err := actions.Load(cfg.Actions.File)
	if err != nil {
		return fmt.Errorf("loading actions: %w", err)
	}

	// Delay store: Redis in production, in-memory for single-node dev.
	var store delay.Store
	if cfg.Redis.URL != "" {
		redisStore, err := delay.NewRedisStore(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		store = redisStore
		logging.L.Infow("delay store connected", logging.FieldScope, "serve", "backend", "redis")
	} else {
		store = delay.NewMemoryStore()
		logging.L.Warnw("no redis configured, using in-memory delay store (single node only)",
			logging.FieldScope, "serve")
	}
	defer store.Close()

	crmClient := crm.NewHTTPClient(
		cfg.CRM.APIBase, cfg.CRM.AccessToken, cfg.CRM.LocationID,
		cfg.CRM.MessageType, cfg.CRM.MessageLimit)

	reasonClient := reason.NewHTTPClient(
		cfg.Reason.APIBase, cfg.Reason.APIKey,
		time.Duration(cfg.Reason.PollIntervalSeconds)*time.Second,
		time.Duration(cfg.Reason.RunTimeoutSeconds)*time.Second)

	var trackerClient tracker.Client
	if cfg.Tracker.APIKey != "" && cfg.Tracker.BaseID != "" {
		trackerClient = tracker.NewHTTPClient(cfg.Tracker.APIKey, cfg.Tracker.BaseID, cfg.Tracker.TableID)
	}

	gateway := &delay.Gateway{
		Store:          store,
		KeyPrefix:      cfg.Debounce.KeyPrefix,
		Window:         time.Duration(cfg.Debounce.WindowSeconds) * time.Second,
		Jitter:         time.Duration(cfg.Debounce.JitterSeconds) * time.Second,
		RequiredFields: cfg.Debounce.RequiredFields,
		ConvoResolver:  crmClient,
	}

	advancer := &advance.Advancer{
		CRM:        crmClient,
		Reason:     reasonClient,
		Tracker:    trackerClient,
		Actions:    actionSet,
		FailureTag: cfg.Actions.FailureTag,
	}
	dispatcher := dispatch.NewManager(func(ctx context.Context, j job.TriggerJob) {
		advancer.Advance(ctx, j)
	})

	listener := &delay.Listener{
		Store:          store,
		Dispatcher:     dispatcher,
		KeyPrefix:      cfg.Debounce.KeyPrefix,
		RequiredFields: cfg.Debounce.RequiredFields,
	}

	server := webhook.NewServer(webhook.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		AuthToken:       cfg.Server.AuthToken,
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		Gateway:         gateway,
		Dispatcher:      dispatcher,
	})

	// Route pipeline events to the ops websocket feed.
	feed := server.Feed()
	advancer.Notify = feed.Publish
	advancer.Compensator = &advance.Compensator{Notify: feed.Publish}
	listener.Notify = feed.Publish

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.L.Infow("shutdown signal received", logging.FieldScope, "serve")
		cancel()
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- listener.Run(ctx) }()
	go func() { errCh <- server.Start(ctx) }()

	err = <-errCh
	cancel()

	// Let in-flight per-contact drains finish before exiting.
	grace := time.Duration(cfg.Server.ShutdownGracePeriodSeconds) * time.Second
	if grace <= 0 {
		grace = 15 * time.Second
	}
	dispatcher.Stop(grace)

	return err
}
