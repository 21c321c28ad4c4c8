package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/ops"
	"main/internal/reconcile"
	"main/internal/replay"
	"main/internal/session"
	"main/internal/trader"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	dataPath := flag.String("data", "", "Path to historical tick file (JSON lines)")
	speed := flag.Float64("speed", 0, "Playback speed (1=recorded pace, 0=no pacing)")
	flag.Parse()

	if *dataPath == "" {
		log.Fatal("replay requires -data")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	cfg.Mode = ops.ModeReplay

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

	exec := trader.NewReplayExecutor(cfg.Paper.FeeRate)
	opts.Executor = exec

	s, err := session.New(opts)
	if err != nil {
		log.Fatalf("session build failed: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		log.Fatalf("session start failed: %v", err)
	}
	defer s.Stop()

	file, err := os.Open(*dataPath)
	if err != nil {
		log.Fatalf("open replay file failed: %v", err)
	}
	defer file.Close()

	var cursor *reconcile.Cursor
	if recon := s.Reconciler(); recon != nil {
		cursor = recon.Cursor()
	}

	runner := replay.NewRunner(hub, exec, cursor, *speed)
	ticks, err := runner.Run(ctx, file)
	if err != nil {
		log.Fatalf("replay failed after %d ticks: %v", ticks, err)
	}

	for _, p := range s.Book().Positions() {
		logs.Infof("position, symbol: %s, side: %s, qty: %s, entry: %s, realized: %s, unrealized: %s, status: %s",
			p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.RealizedPnL, p.UnrealizedPnL, p.Status)
	}
	for _, o := range s.Book().Orders() {
		logs.Infof("order, id: %s, symbol: %s, side: %s, status: %s, filled: %s @ %s",
			o.ID, o.Symbol, o.Side, o.Status, o.FilledQuantity, o.FilledPrice)
	}
}
