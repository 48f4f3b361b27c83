package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cryptostream/config"
	"cryptostream/internal/metrics"
	"cryptostream/internal/status"
	"cryptostream/logger"
	"cryptostream/models"
	"cryptostream/processor"
	"cryptostream/reader"
	"cryptostream/snapshot"
	"cryptostream/stream"
	"cryptostream/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Cryptostream.Name,
		"version":     cfg.Cryptostream.Version,
		"environment": env,
	}).Info("starting cryptostream")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Configure(cfg.Metrics)
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Address); err != nil {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}
	if cfg.Metrics.CloudWatch.Enabled {
		if err := metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch); err != nil {
			if config.IsProductionLike(env) {
				log.WithError(err).Error("failed to initialise CloudWatch")
				os.Exit(1)
			}
			log.WithError(err).Warn("CloudWatch disabled")
		}
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	kw, err := writer.NewKafkaWriter(cfg.Kafka)
	if err != nil {
		log.WithError(err).Error("failed to create kafka writer")
		os.Exit(1)
	}

	opts, err := streamOptions(cfg)
	if err != nil {
		log.WithError(err).Error("failed to build snapshot services")
		os.Exit(1)
	}

	byKind := make(map[models.SubKind][][]models.Subscription)
	for _, ex := range cfg.Exchanges {
		batches, err := ex.Subscriptions()
		if err != nil {
			log.WithError(err).WithField("exchange", ex.Name).Error("invalid subscriptions")
			os.Exit(1)
		}
		for kind, split := range stream.SplitByKind(batches) {
			byKind[kind] = append(byKind[kind], split...)
		}
	}

	var wg sync.WaitGroup
	var channels []metrics.SizedChannel
	launchers := []func() ([]metrics.SizedChannel, error){
		func() ([]metrics.SizedChannel, error) {
			return launch(ctx, &wg, kw, models.SubPublicTrades, stream.Trades, byKind[models.SubPublicTrades], opts)
		},
		func() ([]metrics.SizedChannel, error) {
			return launch(ctx, &wg, kw, models.SubOrderBooksL1, stream.OrderBooksL1, byKind[models.SubOrderBooksL1], opts)
		},
		func() ([]metrics.SizedChannel, error) {
			return launch(ctx, &wg, kw, models.SubOrderBooksL2, stream.OrderBooksL2, byKind[models.SubOrderBooksL2], opts)
		},
		func() ([]metrics.SizedChannel, error) {
			return launch(ctx, &wg, kw, models.SubCandles, stream.Candles, byKind[models.SubCandles], opts)
		},
		func() ([]metrics.SizedChannel, error) {
			return launch(ctx, &wg, kw, models.SubLiquidations, stream.Liquidations, byKind[models.SubLiquidations], opts)
		},
	}
	for _, start := range launchers {
		chs, err := start()
		if err != nil {
			log.WithError(err).Error("failed to start streams")
			cancel()
			wg.Wait()
			os.Exit(1)
		}
		channels = append(channels, chs...)
	}
	if cfg.Metrics.ChannelSize {
		metrics.StartChannelSizeMetrics(ctx, channels, cfg.Metrics.ChannelSizeInterval)
	}
	log.Info("all streams started successfully")

	if srv := status.NewServer(cfg.Status, log, channels); srv != nil {
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.WithError(err).WithField("address", srv.Address()).Error("status server failed")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-done:
		log.Warn("every stream ended")
	}

	log.Info("starting graceful shutdown")
	cancel()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	if err := kw.Close(); err != nil {
		log.WithError(err).Warn("failed to close kafka writer")
	}
	log.Info("cryptostream stopped")
}

// streamOptions maps the configuration onto stream options and builds a
// snapshot service for every configured exchange that offers one.
func streamOptions(cfg *config.Config) (stream.Options, error) {
	opts := stream.Options{
		Buffer:           cfg.Channels.Buffer,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		BookDepth:        cfg.Stream.BookDepth,
		URLs:             make(map[models.ExchangeID]string),
		LocalIPs:         make(map[models.ExchangeID]string),
		Resyncers:        make(map[models.ExchangeID]reader.Resyncer),
		Reconnect:        cfg.Stream.Reconnect,
	}
	for _, ex := range cfg.Exchanges {
		id, err := models.ParseExchangeID(ex.Name)
		if err != nil {
			return opts, err
		}
		opts.URLs[id] = ex.URL
		opts.LocalIPs[id] = ex.LocalIP
		if !snapshot.Supported(id) {
			continue
		}
		svc, err := snapshot.New(id, cfg.Snapshot, ex.LocalIP, cfg.Metrics.UsedWeight)
		if err != nil {
			return opts, err
		}
		opts.Resyncers[id] = svc
	}
	return opts, nil
}

// launch starts the streams of one kind and a consumer draining them into
// kafka. It is a no-op when no batch asks for the kind.
func launch[T any](ctx context.Context, wg *sync.WaitGroup, kw *writer.KafkaWriter, kind models.SubKind, factory stream.Factory[T], batches [][]models.Subscription, opts stream.Options) ([]metrics.SizedChannel, error) {
	if len(batches) == 0 {
		return nil, nil
	}
	builder := stream.NewBuilder(kind, factory, opts)
	for _, b := range batches {
		builder.Subscribe(b...)
	}
	streams, err := builder.Init(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.GetLogger().WithComponent("consumer").WithField("kind", string(kind))
	items := streams.JoinMap(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		var events, failures int
		for item := range items {
			if item.Item.Err != nil {
				failures++
				log.WithError(item.Item.Err).WithFields(logger.Fields{
					"exchange":   string(item.Exchange),
					"error_kind": processor.ErrorKind(item.Item.Err),
				}).Warn("stream item error")
				continue
			}
			events++
			ev := item.Item.Event
			if err := writer.Publish(ctx, kw, kind, ev); err != nil {
				log.WithError(err).Warn("failed to publish event")
			}
			log.WithFields(logger.Fields{
				"exchange":      string(ev.Exchange),
				"instrument":    ev.Instrument.String(),
				"exchange_time": ev.ExchangeTime,
				"latency_ms":    ev.ReceivedTime.Sub(ev.ExchangeTime).Milliseconds(),
			}).Debug("market event")
		}
		if err := streams.Wait(); err != nil {
			log.WithError(err).Warn("streams ended with errors")
		}
		log.WithFields(logger.Fields{"events": events, "errors": failures}).Info("consumer stopped")
	}()
	return streams.Channels(), nil
}
