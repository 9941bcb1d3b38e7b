package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"vision-nav/internal/config"
	"vision-nav/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if !cfg.Rangefinder.Enable {
		log.Fatalf("rangefinder.enable is false in %s", configPath)
	}

	logs := web.NewLogBuffer(cfg.Web.LogLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	status := web.NewStatus("rangefinder")
	a, err := newApp(cfg, status)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.Close()

	log.Printf("rangefinder starting transport=%s count=%d interval=%s", cfg.Rangefinder.Transport, cfg.Rangefinder.Count, cfg.Rangefinder.Interval)

	var wg sync.WaitGroup
	if cfg.Web.Enable {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := web.Serve(ctx, cfg.Web.Listen, status, logs); err != nil {
				log.Printf("web server stopped: %v", err)
			}
		}()
	}

	if err := a.Run(ctx); err != nil {
		log.Printf("rangefinder stopped: %v", err)
	}
	cancel()
	wg.Wait()
	log.Printf("rangefinder stopping")
}
