package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"navtrack/internal/config"
	"navtrack/internal/gps"
	"navtrack/internal/nav"
	"navtrack/internal/osrm"
	"navtrack/internal/publish"
	"navtrack/internal/replay"
	"navtrack/internal/route"
	"navtrack/internal/sim"
	"navtrack/internal/udp"
	"navtrack/internal/web"
)

// drainDelay lets the tracker consume queued fixes after a finite feed ends.
const drainDelay = 250 * time.Millisecond

// feed is a position provider plus the loop that drives it.
type feed struct {
	nav.Provider
	// run blocks until ctx ends or the feed is exhausted.
	run    func(ctx context.Context) error
	status func() any
}

func loadRoute(ctx context.Context, cfg config.RouteConfig) (*route.Route, string, error) {
	if cfg.File != "" {
		r, err := route.LoadFile(cfg.File)
		if err != nil {
			return nil, "", fmt.Errorf("route %s: %w", cfg.File, err)
		}
		return r, filepath.Base(cfg.File), nil
	}

	from, err := osrm.ParseCoord(cfg.OSRM.From)
	if err != nil {
		return nil, "", err
	}
	to, err := osrm.ParseCoord(cfg.OSRM.To)
	if err != nil {
		return nil, "", err
	}
	c := osrm.NewClient(cfg.OSRM.BaseURL)
	if cfg.OSRM.Profile != "" {
		c.Profile = cfg.OSRM.Profile
	}
	if cfg.OSRM.Timeout > 0 {
		c.HTTP.Timeout = cfg.OSRM.Timeout
	}
	r, err := c.Route(ctx, from, to)
	if err != nil {
		return nil, "", err
	}
	return r, fmt.Sprintf("osrm %s -> %s", cfg.OSRM.From, cfg.OSRM.To), nil
}

func newFeed(cfg config.Config, r *route.Route, l log.FieldLogger) (*feed, error) {
	switch cfg.Source {
	case "gps":
		p := gps.New(gps.Config{
			Source:     cfg.GPS.Source,
			GPSDAddr:   cfg.GPS.GPSDAddr,
			Device:     cfg.GPS.Device,
			Baud:       cfg.GPS.Baud,
			FixTimeout: cfg.GPS.FixTimeout,
		}, l)
		return &feed{
			Provider: p,
			run: func(ctx context.Context) error {
				if err := p.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()
				p.Close()
				return ctx.Err()
			},
			status: func() any { return p.Status() },
		}, nil

	case "sim":
		var track sim.Track
		if cfg.Sim.Mode == "scenario" {
			script, err := sim.LoadScenarioScript(cfg.Sim.Scenario)
			if err != nil {
				return nil, fmt.Errorf("sim scenario: %w", err)
			}
			sc, err := sim.NewScenario(script)
			if err != nil {
				return nil, fmt.Errorf("sim scenario: %w", err)
			}
			track = sc
		} else {
			track = &sim.RouteDriver{
				Geometry:     r.Geometry,
				SpeedMPS:     cfg.Sim.SpeedMPS,
				OffsetM:      cfg.Sim.OffsetM,
				OffsetFromM:  cfg.Sim.OffsetFromM,
				OffsetToM:    cfg.Sim.OffsetToM,
				JitterM:      cfg.Sim.JitterM,
				Seed:         cfg.Sim.Seed,
				ReportMotion: cfg.Sim.ReportMotion,
			}
		}
		f, err := sim.NewFeed(track, cfg.Sim.Interval, cfg.Sim.Loop, l)
		if err != nil {
			return nil, err
		}
		return &feed{Provider: f, run: f.Run}, nil

	case "replay":
		f, err := replay.OpenFeed(cfg.Replay.Path, cfg.Replay.Speed, cfg.Replay.Loop, l)
		if err != nil {
			return nil, err
		}
		return &feed{Provider: f, run: f.Run}, nil

	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// newPublisher dials every enabled broker. A broker that cannot be reached is
// logged and skipped so navigation still runs.
func newPublisher(ctx context.Context, cfg config.PublishConfig, l log.FieldLogger) *publish.Publisher {
	p := publish.New(cfg.Prefix, l)
	if cfg.NATS.Enable {
		if s, err := publish.DialNATS(cfg.NATS.URL, l); err != nil {
			l.WithError(err).Warn("nats sink disabled")
		} else {
			p.Add("nats", s)
		}
	}
	if cfg.Redis.Enable {
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		s, err := publish.DialRedis(dctx, publish.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			LatestTTL: cfg.Redis.LatestTTL,
		})
		cancel()
		if err != nil {
			l.WithError(err).Warn("redis sink disabled")
		} else {
			p.Add("redis", s)
		}
	}
	if cfg.AMQP.Enable {
		if s, err := publish.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange); err != nil {
			l.WithError(err).Warn("amqp sink disabled")
		} else {
			p.Add("amqp", s)
		}
	}
	return p
}

// record writes every fix and feed error the tracker sees to w until both
// channels close.
func record(w *replay.Writer, fixes <-chan nav.Fix, errs <-chan error, l log.FieldLogger) {
	failed := false
	note := func(err error) {
		if err != nil && !failed {
			failed = true
			l.WithError(err).Warn("fix log write failed")
		}
	}
	for fixes != nil || errs != nil {
		select {
		case f, ok := <-fixes:
			if !ok {
				fixes = nil
				continue
			}
			note(w.WriteFix(time.Now(), f))
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			note(w.WriteError(time.Now(), e))
		}
	}
	note(w.Close())
}

func outputs(cfg config.Config) map[string]any {
	out := map[string]any{}
	if cfg.UDP.Enable {
		out["udp"] = cfg.UDP.Dest
	}
	if cfg.Publish.NATS.Enable {
		out["nats"] = cfg.Publish.NATS.URL
	}
	if cfg.Publish.Redis.Enable {
		out["redis"] = cfg.Publish.Redis.Addr
	}
	if cfg.Publish.AMQP.Enable {
		out["amqp"] = cfg.Publish.AMQP.Exchange
	}
	if cfg.Record.Path != "" {
		out["record"] = cfg.Record.Path
	}
	return out
}

// run wires a provider, the tracker and every configured output, and blocks
// until ctx ends or a finite feed is exhausted.
func run(ctx context.Context, cfg config.Config, logs *web.LogBuffer, l *log.Logger) (sessionSummary, error) {
	r, routeName, err := loadRoute(ctx, cfg.Route)
	if err != nil {
		return sessionSummary{}, err
	}
	l.WithFields(log.Fields{
		"route":    routeName,
		"steps":    len(r.Steps),
		"length_m": int(r.StepsLengthM()),
	}).Info("route loaded")

	fd, err := newFeed(cfg, r, l)
	if err != nil {
		return sessionSummary{}, err
	}
	tracker := nav.NewTracker(fd, l)

	status := web.NewStatus()
	status.SetStatic(cfg.Source, routeName, outputs(cfg))
	if fd.status != nil {
		status.SetProviderStatus(fd.status)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	var starters []func(sessionID string)
	var recorder *replay.Writer

	if cfg.Record.Path != "" {
		w, err := replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			return sessionSummary{}, fmt.Errorf("record: %w", err)
		}
		recorder = w
		_, fixes := tracker.SubscribePosition(256)
		_, errs := tracker.SubscribeErrors(16)
		starters = append(starters, func(string) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				record(w, fixes, errs, l)
			}()
		})
	}

	if cfg.UDP.Enable {
		b, err := udp.NewBroadcaster(cfg.UDP.Dest, l)
		if err != nil {
			if recorder != nil {
				_ = recorder.Close()
			}
			return sessionSummary{}, fmt.Errorf("udp: %w", err)
		}
		defer b.Close()
		_, states := tracker.SubscribeState(16)
		_, events := tracker.SubscribeEvents(16)
		starters = append(starters, func(string) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = b.Run(runCtx, states, events)
			}()
		})
	}

	pub := newPublisher(ctx, cfg.Publish, l)
	defer func() {
		if err := pub.Close(); err != nil {
			l.WithError(err).Warn("publisher close failed")
		}
	}()
	if pub.Len() > 0 {
		_, states := tracker.SubscribeState(16)
		_, events := tracker.SubscribeEvents(16)
		_, errs := tracker.SubscribeErrors(16)
		starters = append(starters, func(sessionID string) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = pub.Run(runCtx, sessionID, states, events, errs)
			}()
		})
	}

	if err := tracker.Start(runCtx, r, cfg.Tracker.Nav()); err != nil {
		tracker.Stop()
		if recorder != nil {
			_ = recorder.Close()
		}
		return sessionSummary{}, err
	}
	first, _ := tracker.Snapshot()
	for _, start := range starters {
		start(first.SessionID)
	}

	if cfg.Web.Enable {
		h := web.Handler(web.Options{Tracker: tracker, Status: status, Logs: logs})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := web.Serve(runCtx, cfg.Web.Listen, h, l); err != nil && !errors.Is(err, context.Canceled) {
				l.WithError(err).Error("web server stopped")
			}
		}()
	}

	feedDone := make(chan error, 1)
	go func() { feedDone <- fd.run(runCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-feedDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("position feed: %w", err)
			break
		}
		l.Info("position feed finished")
		time.Sleep(drainDelay)
		if cfg.Web.Enable {
			l.Info("serving final state until interrupted")
			<-ctx.Done()
		}
	}

	last, _ := tracker.Snapshot()
	sum := summarize(last, r, tracker.Processed(), tracker.Dropped())
	tracker.Stop()
	cancel()
	wg.Wait()
	return sum, runErr
}
