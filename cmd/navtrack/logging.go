package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"navtrack/internal/config"
	"navtrack/internal/web"
)

// configureLogging sets level and console format on l, mirrors every entry
// into buf for /api/logs and, with cfg.File set, into a rotating file. The
// returned logger is nil when no file is configured.
func configureLogging(l *log.Logger, cfg config.LogConfig, buf *web.LogBuffer) (*lumberjack.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	l.SetLevel(level)
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)
	if buf != nil {
		l.AddHook(buf)
	}

	if cfg.File == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	fileFmt := &log.TextFormatter{DisableColors: true, FullTimestamp: true}
	l.AddHook(lfshook.NewHook(lfshook.WriterMap{
		log.PanicLevel: lj,
		log.FatalLevel: lj,
		log.ErrorLevel: lj,
		log.WarnLevel:  lj,
		log.InfoLevel:  lj,
		log.DebugLevel: lj,
		log.TraceLevel: lj,
	}, fileFmt))
	return lj, nil
}
