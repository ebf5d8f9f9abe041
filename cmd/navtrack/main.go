package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"navtrack/internal/config"
	"navtrack/internal/web"
)

func main() {
	var configPath, recordPath, summarizePath string
	flag.StringVar(&configPath, "config", "./navtrack.yaml", "Path to YAML config")
	flag.StringVar(&recordPath, "record", "", "Record received fixes to this fix log")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a fix log and exit")
	flag.Parse()

	if summarizePath != "" {
		if err := printLogSummary(os.Stdout, summarizePath); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if recordPath != "" {
		cfg.Record.Path = recordPath
		if err := config.DefaultAndValidate(&cfg); err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	logs := web.NewLogBuffer(cfg.Log.BufferLines)
	logFile, err := configureLogging(log.StandardLogger(), cfg.Log, logs)
	if err != nil {
		log.Fatalf("logging setup failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.WithFields(log.Fields{"config": configPath, "source": cfg.Source}).Info("navtrack starting")
	sum, err := run(ctx, cfg, logs, log.StandardLogger())
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("navtrack stopped: %v", err)
		if logFile != nil {
			_ = logFile.Close()
		}
		os.Exit(1)
	}
	sum.log(log.StandardLogger())
	log.Info("navtrack stopped")
}
