package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tmagjoy/internal/config"
	"tmagjoy/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./tmagjoy.yaml", "Path to YAML config")
	flag.Parse()

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("tmagjoy starting")
	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer a.Close()

	if a.cfg.Web.Enable {
		go func() {
			log.Printf("web listening on %s", a.cfg.Web.Listen)
			err := web.Serve(ctx, a.cfg.Web.Listen, web.Deps{
				Task:        a.task,
				Settings:    a.store,
				Broadcaster: a.bcast,
				Logs:        logs,
			})
			if err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	log.Printf("tmagjoy stopping")
}
