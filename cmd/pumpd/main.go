package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/ingest"
	"main/internal/ops"
	"main/internal/session"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if cfg.Mode == ops.ModeReplay {
		log.Fatal("replay mode runs through cmd/replay")
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "pumpd",
			ServerAddress:   *pyroscopeAddr,
			Tags: map[string]string{
				"session": cfg.SessionID,
				"mode":    string(cfg.Mode),
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			if err := profiler.Stop(); err != nil {
				logs.Warnf("pyroscope stop, err: %+v", err)
			}
		}()
	}

	opts := session.Options{Config: cfg}

	if cfg.Postgres.Database != "" {
		client, err := conn.New(cfg.Postgres)
		if err != nil {
			log.Fatalf("postgres connect failed: %v", err)
		}
		defer client.Close()
		opts.DB = client.DB()
	}

	hub := bus.New()
	defer hub.Shutdown()
	opts.Hub = hub

	s, err := session.New(opts)
	if err != nil {
		log.Fatalf("session build failed: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		log.Fatalf("session start failed: %v", err)
	}
	defer s.Stop()

	feed := ingest.NewBinance(ctx, hub)
	if err := feed.Start(ctx); err != nil {
		log.Fatalf("market data connect failed: %v", err)
	}
	defer feed.Close()
	if err := feed.SubscribeAggTrade(ctx, cfg.Symbols...); err != nil {
		log.Fatalf("market data subscribe failed: %v", err)
	}
	unsubscribe := feed.ObserveAggTrade(ctx)
	defer unsubscribe()

	logs.Infof("pumpd running, session: %s, mode: %s", cfg.SessionID, cfg.Mode)
	<-ctx.Done()
	logs.Info("shutting down")
}
