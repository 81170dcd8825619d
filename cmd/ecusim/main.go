package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaunagostinho/autopulse/internal/bridge"
	"github.com/shaunagostinho/autopulse/internal/can"
	"github.com/shaunagostinho/autopulse/internal/config"
	"github.com/shaunagostinho/autopulse/internal/dtc"
	"github.com/shaunagostinho/autopulse/internal/ecu"
)

func main() {
	configPath := flag.String("config", "/etc/autopulse/config.yaml", "Path to config file")
	listenAddr := flag.String("listen", "", "Override bridge listen address (e.g. 127.0.0.1:55555)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] ecusim starting")

	cfg := config.Load(*configPath)
	if *listenAddr != "" {
		cfg.Bridge.ListenAddr = *listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	// Local in-process bus segment. The dispatcher owns one endpoint;
	// anything else in-process (tests, tooling) can open another.
	localBus := can.NewLoopbackBus()
	defer localBus.Close()

	srv := bridge.NewServer(cfg.Bridge.ListenAddr)
	if err := srv.Listen(); err != nil {
		log.Fatalf("[main] bridge listen: %v", err)
	}

	store := dtc.NewStore()
	gen := dtc.NewGenerator(store, dtc.GeneratorConfig{
		MinPeriod:  time.Duration(cfg.Faults.MinPeriodSec) * time.Second,
		MaxPeriod:  time.Duration(cfg.Faults.MaxPeriodSec) * time.Second,
		InsertProb: cfg.Faults.InsertProb,
		RemoveProb: cfg.Faults.RemoveProb,
		MaxActive:  cfg.Faults.MaxActive,
	})

	disp := ecu.NewDispatcher(localBus.Open(), srv, srv.Requests(), store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error { gen.Run(gctx); return nil })

	log.Println("[main] ECU simulator ready, waiting for requests")
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("[main] exited: %v", err)
	}
}
