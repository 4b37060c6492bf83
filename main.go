package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	configpkg "chicken/broker/internal/config"
	"chicken/broker/internal/export"
	sinkpkg "chicken/broker/internal/grpc"
	httpapi "chicken/broker/internal/http"
	"chicken/broker/internal/input"
	"chicken/broker/internal/logging"
	"chicken/broker/internal/replay"
	"chicken/broker/internal/session"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const (
	shutdownTimeout      = 30 * time.Second
	retentionInterval    = time.Hour
	adminRateWindow      = time.Minute
	adminRateLimit       = 10
	inputMaxAge          = 2 * time.Second
	submitRequestTimeout = 20 * time.Second
)

func main() {
	cfg, err := configpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", logging.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// sinkSet owns the result sinks and any connections they hold open.
type sinkSet struct {
	sinks   []export.Sink
	closers []func() error
}

func (s *sinkSet) Close() error {
	var errs []error
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

func buildSinks(cfg *configpkg.Config, logger *logging.Logger) (*sinkSet, error) {
	set := &sinkSet{}
	if cfg.SubmitURL != "" {
		submitter, err := export.NewHTTPSubmitter(cfg.SubmitURL, &http.Client{Timeout: submitRequestTimeout})
		if err != nil {
			return nil, fmt.Errorf("http results sink: %w", err)
		}
		set.sinks = append(set.sinks, submitter)
		logger.Info("http results sink configured", logging.String("endpoint", cfg.SubmitURL))
	}
	if cfg.SubmitGRPC != "" {
		submitter, err := sinkpkg.DialSubmitter(cfg.SubmitGRPC, cfg.GRPCSharedSecret)
		if err != nil {
			return nil, err
		}
		set.sinks = append(set.sinks, submitter)
		set.closers = append(set.closers, submitter.Close)
		logger.Info("grpc results sink configured", logging.String("target", cfg.SubmitGRPC))
	}
	if len(set.sinks) == 0 {
		logger.Warn("no results sink configured; experiment data is only kept in bundles")
	}
	return set, nil
}

// run wires every component and blocks until ctx is cancelled or a server fails.
func run(ctx context.Context, cfg *configpkg.Config, logger *logging.Logger) error {
	sinks, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warn("results sink close failed", logging.Error(err))
		}
	}()

	manager := session.NewManager(session.ManagerConfig{
		Session: session.Config{
			Protocol:      cfg.Protocol,
			Seed:          cfg.Seed,
			SeedSet:       cfg.SeedSet,
			BundleDir:     cfg.BundleDir,
			Debug:         cfg.Debug,
			SubmitTimeout: export.DefaultSubmitTimeout,
		},
		MaxSessions: cfg.MaxSessions,
		TickHz:      cfg.TickHz,
	}, logger, sinks.sinks...)

	resume, generated, err := newResumeAuthenticator(cfg.ResumeSecret, cfg.ResumeTTL)
	if err != nil {
		return fmt.Errorf("resume tokens: %w", err)
	}
	if generated {
		logger.Warn("CHICKEN_RESUME_SECRET not set; resume tokens will not survive a restart")
	}
	gate := input.NewGate(input.Config{MaxAge: inputMaxAge}, logger)
	broker := NewBroker(BrokerConfig{
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		PingInterval:    cfg.PingInterval,
		SnapshotHz:      cfg.SnapshotHz,
		InputRate:       cfg.InputRate,
		AllowedOrigins:  cfg.AllowedOrigins,
	}, manager, gate, logger, WithResumeAuthenticator(resume))

	cleaner := replay.NewCleaner(cfg.BundleDir, replay.RetentionPolicy{MaxAge: cfg.BundleMaxAge}, logger)

	var collector *sinkpkg.Collector
	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		collector, err = sinkpkg.NewCollector(cfg.ResultsDir, sinkpkg.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("results collector: %w", err)
		}
		serverOpts, err := sinkpkg.ServerOptions(cfg, logger)
		if err != nil {
			return err
		}
		grpcServer = grpc.NewServer(serverOpts...)
		sinkpkg.RegisterExperimentSinkServer(grpcServer, collector)
	}

	handlerOpts := httpapi.Options{
		Logger:      logger,
		Readiness:   broker,
		Sessions:    manager,
		Ticks:       manager.Monitor().Snapshot,
		Storage:     cleaner.Stats,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewTokenBucketLimiter(adminRateWindow, adminRateLimit, nil),
	}
	if collector != nil {
		handlerOpts.Results = collector.Stats
	}
	mux := http.NewServeMux()
	broker.Register(mux)
	httpapi.NewHandlerSet(handlerOpts).Register(mux)
	mux.HandleFunc("/api/controls", controlDocsHandler(defaultControlDocs))

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           logging.HTTPTraceMiddleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Address, err)
	}
	httpURL, wsURL := listenerURLs(listener.Addr().String(), false)
	logger.Info("experiment server listening",
		logging.String("http", httpURL),
		logging.String("participants", wsURL),
		logging.Int("max_sessions", cfg.MaxSessions),
		logging.Bool("debug", cfg.Debug),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if grpcServer != nil {
		grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		logger.Info("results collector listening",
			logging.String("address", grpcListener.Addr().String()),
			logging.String("auth_mode", cfg.GRPCAuthMode),
			logging.String("directory", collector.Directory()),
		)
		g.Go(func() error {
			if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return cleaner.Run(gctx, retentionInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		//1.- Stop intake first, then let sessions submit before the collector goes away.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := broker.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("broker close: %w", err))
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("session shutdown: %w", err))
		}
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		logger.Info("experiment server stopped")
		return errors.Join(errs...)
	})
	return g.Wait()
}
