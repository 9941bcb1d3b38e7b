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

	logs := web.NewLogBuffer(cfg.Web.LogLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	status := web.NewStatus("visionpub")
	a, err := newApp(cfg, status)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.Close()

	log.Printf("visionpub starting")
	log.Printf("frames %s->%s rate=%s hover window=%s", cfg.Vision.ParentFrame, cfg.Vision.ChildFrame, cfg.Vision.Rate, cfg.Hover.Window)

	var wg sync.WaitGroup
	if cfg.Web.Enable {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("web listening on %s", cfg.Web.Listen)
			if err := web.Serve(ctx, cfg.Web.Listen, status, logs); err != nil {
				// The web UI is optional; keep publishing.
				log.Printf("web server stopped: %v", err)
			}
		}()
	}

	if err := a.Run(ctx); err != nil {
		log.Printf("visionpub stopped: %v", err)
	}
	cancel()
	wg.Wait()
	log.Printf("visionpub stopping")
}
