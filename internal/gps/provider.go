package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"navtrack/internal/nav"
)

const (
	SourceNMEA = "nmea"
	SourceGPSD = "gpsd"

	DefaultBaud       = 9600
	DefaultFixTimeout = 10 * time.Second

	minBackoff = 250 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// Config controls the GPS reader.
//
// The GPYes 2.0 (u-blox8) typically appears as /dev/ttyACM* and outputs NMEA
// (often GNxxx talker IDs) at 9600 baud by default. Device may be empty to
// auto-detect.
type Config struct {
	// Source selects how GPS is ingested: "nmea" (direct serial) or "gpsd".
	// When empty, defaults to "nmea".
	Source string

	// GPSDAddr is host:port for gpsd when Source=="gpsd".
	GPSDAddr string

	// Device is the serial device path for Source=="nmea".
	Device string
	Baud   int

	// FixTimeout reports nav.ErrTimeout when no fix arrives for this long.
	FixTimeout time.Duration
}

// Status is a point-in-time view of the receiver for diagnostics.
type Status struct {
	Source    string `json:"source"`
	Device    string `json:"device,omitempty"`
	GPSDAddr  string `json:"gpsd_addr,omitempty"`
	Connected bool   `json:"connected"`
	Valid     bool   `json:"valid"`
	Fixes     uint64 `json:"fixes"`

	LastFixUTC string `json:"last_fix_utc,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// Provider reads a receiver and publishes fixes to its subscribers.
type Provider struct {
	*nav.Hub

	cfg Config
	log logrus.FieldLogger
	now func() time.Time

	openSerial func(path string, baud int) (io.ReadCloser, error)
	dial       func(ctx context.Context, addr string) (net.Conn, error)
	detect     func() string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closer io.Closer
	status Status

	fixes    atomic.Uint64
	lastFix  atomic.Int64 // unix nanos of the last fix, or of Start
	timedOut atomic.Bool
}

// New returns a stopped provider. A nil log uses the logrus standard logger.
func New(cfg Config, log logrus.FieldLogger) *Provider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = SourceNMEA
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.FixTimeout == 0 {
		cfg.FixTimeout = DefaultFixTimeout
	}
	cfg.GPSDAddr = strings.TrimSpace(cfg.GPSDAddr)
	if cfg.Source == SourceGPSD && cfg.GPSDAddr == "" {
		cfg.GPSDAddr = gpsdDefaultAddr
	}
	p := &Provider{
		Hub:        nav.NewHub(),
		cfg:        cfg,
		log:        log.WithField("source", cfg.Source),
		now:        time.Now,
		openSerial: openSerial,
		dial:       dialGPSD,
		detect:     autoDetectDevice,
	}
	p.status = Status{Source: cfg.Source, Device: cfg.Device, GPSDAddr: cfg.GPSDAddr}
	return p
}

// Start launches the reader and the fix watchdog. It returns immediately;
// connection problems are published as errors while the reader retries.
func (p *Provider) Start(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("gps provider is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	var session func(context.Context) (bool, error)
	switch p.cfg.Source {
	case SourceNMEA:
		session = p.nmeaSession
	case SourceGPSD:
		session = p.gpsdSession
	default:
		return fmt.Errorf("gps source %q: want nmea or gpsd", p.cfg.Source)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	childCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.lastFix.Store(p.now().UnixNano())

	p.wg.Add(3)
	go func() {
		defer p.wg.Done()
		p.loop(childCtx, session)
	}()
	go func() {
		defer p.wg.Done()
		p.watchdog(childCtx)
	}()
	go func() {
		defer p.wg.Done()
		// A blocked read only returns once its file or socket is closed.
		<-childCtx.Done()
		p.closeConn()
	}()
	return nil
}

// Close stops the reader and waits for it to exit.
func (p *Provider) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.closeConn()
	p.wg.Wait()
}

func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.status
	st.Fixes = p.fixes.Load()
	return st
}

// loop runs session until ctx ends, backing off between failed attempts.
// The backoff resets after any session that managed to connect.
func (p *Provider) loop(ctx context.Context, session func(context.Context) (bool, error)) {
	backoff := minBackoff
	for ctx.Err() == nil {
		connected, err := session(ctx)
		p.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.fail(err)
		}
		if connected {
			backoff = minBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func (p *Provider) nmeaSession(ctx context.Context) (bool, error) {
	device := strings.TrimSpace(p.cfg.Device)
	if device == "" {
		device = p.detect()
		if device == "" {
			return false, fmt.Errorf("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found: %w", nav.ErrPositionUnavailable)
		}
	}

	f, err := p.openSerial(device, p.cfg.Baud)
	if err != nil {
		return false, openError(device, err)
	}
	p.setConn(f, device)
	defer p.closeConn()
	p.log.WithFields(logrus.Fields{"device": device, "baud": p.cfg.Baud}).Info("gps serial open")

	var st nmeaState
	err = scanLines(ctx, f, 4096, func(line string) {
		// Some receivers interleave binary or text chatter.
		if !strings.HasPrefix(line, "$") {
			return
		}
		sent, perr := parseNMEASentence(line)
		if perr != nil {
			p.note(perr)
			return
		}
		fix, u := st.apply(p.now().UTC(), sent)
		p.handle(fix, u)
	})
	return true, fmt.Errorf("gps read %s stopped: %w: %w", device, nav.ErrPositionUnavailable, err)
}

func (p *Provider) gpsdSession(ctx context.Context) (bool, error) {
	addr := p.cfg.GPSDAddr
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("gpsd dial %s: %w: %w", addr, nav.ErrPositionUnavailable, err)
	}
	p.setConn(conn, "gpsd")
	defer p.closeConn()

	if err := gpsdWatch(conn); err != nil {
		return true, fmt.Errorf("gpsd watch failed: %w: %w", nav.ErrPositionUnavailable, err)
	}
	p.log.WithField("addr", addr).Info("gpsd connected")

	st := &gpsdState{}
	err = scanLines(ctx, conn, 256*1024, func(line string) {
		fix, u, perr := st.applyLine(p.now().UTC(), line)
		if perr != nil {
			p.note(perr)
			return
		}
		p.handle(fix, u)
	})
	return true, fmt.Errorf("gpsd read stopped: %w: %w", nav.ErrPositionUnavailable, err)
}

// scanLines feeds trimmed non-empty lines to fn until r fails. It never
// returns nil.
func scanLines(ctx context.Context, r io.Reader, max int, fn func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256), max)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (p *Provider) handle(fix nav.Fix, u update) {
	switch u {
	case updateFix:
		p.fixes.Add(1)
		p.lastFix.Store(p.now().UnixNano())
		p.timedOut.Store(false)
		p.mu.Lock()
		p.status.Valid = true
		p.status.LastFixUTC = fix.Time.UTC().Format(time.RFC3339Nano)
		p.mu.Unlock()
		p.PublishFix(fix)
	case updateLost:
		p.mu.Lock()
		p.status.Valid = false
		p.mu.Unlock()
		p.fail(fmt.Errorf("gps %s: fix lost: %w", p.cfg.Source, nav.ErrPositionUnavailable))
	}
}

// watchdog publishes nav.ErrTimeout once per silent period of FixTimeout.
func (p *Provider) watchdog(ctx context.Context) {
	tick := p.cfg.FixTimeout / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		since := p.now().Sub(time.Unix(0, p.lastFix.Load()))
		if since < p.cfg.FixTimeout || p.timedOut.Load() {
			continue
		}
		p.timedOut.Store(true)
		p.fail(fmt.Errorf("gps: no fix for %s: %w", since.Round(time.Millisecond), nav.ErrTimeout))
	}
}

// note records a parse problem without publishing it; receivers emit noise.
func (p *Provider) note(err error) {
	p.mu.Lock()
	p.status.LastError = err.Error()
	p.mu.Unlock()
}

func (p *Provider) fail(err error) {
	p.note(err)
	p.log.WithError(err).Warn("gps feed error")
	p.PublishError(err)
}

func (p *Provider) setConn(c io.Closer, device string) {
	p.mu.Lock()
	p.closer = c
	p.status.Connected = true
	if device != "gpsd" {
		p.status.Device = device
	}
	p.mu.Unlock()
}

func (p *Provider) setConnected(v bool) {
	p.mu.Lock()
	p.status.Connected = v
	p.mu.Unlock()
}

func (p *Provider) closeConn() {
	p.mu.Lock()
	c := p.closer
	p.closer = nil
	p.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func openError(device string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("gps open %s: %w: %w", device, nav.ErrPermissionDenied, err)
	}
	return fmt.Errorf("gps open %s: %w: %w", device, nav.ErrPositionUnavailable, err)
}

func autoDetectDevice() string {
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB"} {
		for i := 0; i < 10; i++ {
			p := fmt.Sprintf("%s%d", prefix, i)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}
