package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaunagostinho/autopulse/internal/bridge"
	"github.com/shaunagostinho/autopulse/internal/config"
	"github.com/shaunagostinho/autopulse/internal/explain"
	"github.com/shaunagostinho/autopulse/internal/server"
	"github.com/shaunagostinho/autopulse/web"
)

func main() {
	configPath := flag.String("config", "/etc/autopulse/config.yaml", "Path to config file")
	listen := flag.String("listen", "", "Override gateway listen address")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime)
	log.Println("[main] starting Autopulse diagnostics gateway")

	cfg := config.Load(*configPath)
	if *listen != "" {
		cfg.Gateway.ListenAddr = *listen
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received signal %v, shutting down", sig)
		cancel()
	}()

	bus, err := bridge.Dial(cfg.Bridge.Addr)
	if err != nil {
		log.Fatalf("[main] bridge connection failed: %v", err)
	}
	defer bus.Close()
	log.Printf("[main] connected to ECU bridge at %s", cfg.Bridge.Addr)

	ex := explain.NewClient(cfg.Gateway.ExplainURL)

	srv := server.New(cfg.Gateway, bus, ex, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[main] gateway error: %v", err)
	}
	log.Println("[main] shutdown complete")
}
