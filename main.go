package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"cryptostream/config"
	"cryptostream/internal/channel"
	"cryptostream/internal/dashboard"
	"cryptostream/internal/metrics"
	"cryptostream/internal/pipeline"
	"cryptostream/logger"
	"cryptostream/processor"
	"cryptostream/rest"
	"cryptostream/stream"
	"cryptostream/writer"
)

const startupTimeout = 15 * time.Second

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting cryptostream")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Error("cryptostream stopped with error")
		os.Exit(1)
	}
	log.Info("cryptostream stopped")
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	log := logger.GetLogger()
	mainLog := log.WithComponent("main")

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}
	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(cw.Region, cw.Namespace, cw.Dashboard)
	}

	reg := metrics.NewRegistry()
	streamMetrics, err := stream.NewMetrics(reg)
	if err != nil {
		return err
	}

	client := rest.NewClient(cfg.Rest)
	checkExchange(ctx, client, cfg.Stream.Subscriptions)

	subs := make([]stream.Subscription, 0, len(cfg.Stream.Subscriptions)+1)
	for _, text := range cfg.Stream.Subscriptions {
		sub, err := stream.ParseSubscription(text)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
	}

	var listenKey string
	if cfg.Stream.UserData {
		startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		listenKey, err = client.StartUserStream(startCtx)
		cancel()
		if err != nil {
			return err
		}
		subs = append(subs, stream.UserData(listenKey))
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	parts := &pipelineParts{cancel: cancelRun}
	started := false
	defer func() {
		if !started {
			mainLog.WithError(err).Warn("startup failed; stopping started components")
			parts.shutdown()
		}
	}()

	mux := stream.NewMultiplexer(stream.NewWSConnector(cfg.Stream), stream.WithMetrics(streamMetrics))
	parts.mux = mux
	for _, sub := range subs {
		if _, err := stream.SubscribeWithRetry(runCtx, mux, sub, cfg.Stream.Retry); err != nil {
			return err
		}
	}

	channels := channel.NewChannels(cfg.Channels.EventBuffer, cfg.Channels.BatchBuffer)
	parts.channels = channels
	batcher := processor.NewBatcher(cfg.Processor, channels.Events, channels.Batches)
	parts.batcher = batcher

	store, err := writer.NewObjectStore(runCtx, cfg.Storage)
	if err != nil {
		return err
	}
	parquetWriter := writer.NewParquetWriter(channels.Batches, store, cfg.Storage.S3.Prefix)
	parts.parquet = parquetWriter

	var kafkaWriter *writer.KafkaWriter
	pumpOpts := []pipeline.Option{
		pipeline.WithResubscribe(func(ctx context.Context, sub stream.Subscription) error {
			_, err := stream.SubscribeWithRetry(ctx, mux, sub, cfg.Stream.Retry)
			return err
		}),
	}
	if cfg.Storage.Kafka.Enabled {
		kafkaWriter, err = writer.NewKafkaWriter(cfg.Storage.Kafka, channels.Publish)
		if err != nil {
			return err
		}
		parts.kafka = kafkaWriter
		pumpOpts = append(pumpOpts, pipeline.WithPublish())
	} else {
		mainLog.Info("kafka disabled; skipping publisher")
	}
	pump := pipeline.NewPump(mux, channels, pumpOpts...)

	dash, err := dashboard.NewServer(cfg.Dashboard, log, func() interface{} {
		status := map[string]interface{}{
			"subscriptions": subscriptionNames(mux.Subscriptions()),
			"pipeline":      pump.Stats(),
			"channels":      channels.GetStats(),
			"batcher":       batcher.Stats(),
			"parquet":       parquetWriter.Stats(),
		}
		if kafkaWriter != nil {
			status["kafka"] = kafkaWriter.Stats()
		}
		return status
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)

	if err := batcher.Start(gctx); err != nil {
		return err
	}
	if err := parquetWriter.Start(gctx); err != nil {
		return err
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Start(gctx); err != nil {
			return err
		}
	}
	started = true

	channels.StartMetricsReporting(gctx, time.Minute)
	metrics.StartChannelSizeMetrics(gctx, channels, 30*time.Second)

	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Metrics.Address, reg)
	})
	if dash != nil {
		g.Go(func() error {
			return dash.Run(gctx, cfg.App.Name)
		})
	}
	if listenKey != "" {
		g.Go(func() error {
			return client.KeepAlive(gctx, listenKey, cfg.Rest.KeepaliveInterval)
		})
	}
	g.Go(func() error {
		return pump.Run(gctx)
	})

	mainLog.WithFields(logger.Fields{
		"subscriptions": len(subs),
		"store":         store.Name(),
	}).Info("all components started successfully")

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	mainLog.Info("starting graceful shutdown")

	done := make(chan struct{})
	go func() {
		defer close(done)
		parts.shutdown()
	}()

	select {
	case <-done:
		mainLog.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		mainLog.Warn("graceful shutdown timeout exceeded")
	}
	return runErr
}

func subscriptionNames(subs []stream.Subscription) []string {
	names := make([]string, len(subs))
	for i, sub := range subs {
		names[i] = sub.String()
	}
	return names
}

// checkExchange logs the server clock offset and warns about configured
// symbols the exchange does not list. Failures only disable the check.
func checkExchange(ctx context.Context, client *rest.Client, subscriptions []string) {
	log := logger.GetLogger().WithComponent("main")

	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	serverTime, err := client.ServerTime(ctx)
	if err != nil {
		log.WithError(err).Warn("exchange unreachable over REST; skipping symbol check")
		return
	}
	log.WithFields(logger.Fields{
		"clock_offset_ms": serverTime - time.Now().UnixMilli(),
	}).Info("exchange reachable")

	wanted := map[string]struct{}{}
	for _, text := range subscriptions {
		sub, err := stream.ParseSubscription(text)
		if err != nil || sub.Symbol() == "" {
			continue
		}
		wanted[sub.Symbol()] = struct{}{}
	}
	if len(wanted) == 0 {
		return
	}

	infos, err := client.ExchangeInfo(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch exchange info")
		return
	}
	listed := make(map[string]string, len(infos))
	for _, info := range infos {
		listed[info.Symbol] = info.Status
	}
	for symbol := range wanted {
		status, ok := listed[symbol]
		switch {
		case !ok:
			log.WithFields(logger.Fields{"symbol": symbol}).Warn("symbol is not listed on the exchange")
		case status != "TRADING":
			log.WithFields(logger.Fields{"symbol": symbol, "status": status}).Warn("symbol is not trading")
		}
	}
}
