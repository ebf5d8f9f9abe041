package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"navtrack/internal/nav"
	"navtrack/internal/osrm"
)

type Config struct {
	// Source selects the position provider: gps, sim or replay.
	Source string `yaml:"source" validate:"oneof=gps sim replay"`

	Route   RouteConfig   `yaml:"route"`
	Tracker TrackerConfig `yaml:"tracker"`
	GPS     GPSConfig     `yaml:"gps"`
	Sim     SimConfig     `yaml:"sim"`
	Replay  ReplayConfig  `yaml:"replay"`
	Record  RecordConfig  `yaml:"record"`
	UDP     UDPConfig     `yaml:"udp"`
	Publish PublishConfig `yaml:"publish"`
	Web     WebConfig     `yaml:"web"`
	Log     LogConfig     `yaml:"log"`
}

// RouteConfig names a route file or an OSRM server to fetch one from.
type RouteConfig struct {
	File string     `yaml:"file"`
	OSRM OSRMConfig `yaml:"osrm"`
}

type OSRMConfig struct {
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Profile string        `yaml:"profile"`
	From    string        `yaml:"from"` // "lat,lon"
	To      string        `yaml:"to"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type TrackerConfig struct {
	OffRouteThresholdM float64       `yaml:"off_route_threshold_m" validate:"gte=0"`
	MinSpeedMPS        float64       `yaml:"min_speed_mps" validate:"gte=0"`
	HistoryCapacity    int           `yaml:"history_capacity" validate:"gte=0"`
	DefaultSpeedMPS    float64       `yaml:"default_speed_mps" validate:"gte=0"`
	QueueSize          int           `yaml:"queue_size" validate:"gte=0"`
	BackWindow         int           `yaml:"back_window" validate:"gte=0"`
	ForwardWindow      int           `yaml:"forward_window" validate:"gte=0"`
	LostSignalGap      time.Duration `yaml:"lost_signal_gap" validate:"gte=0"`
	StepToleranceM     float64       `yaml:"step_tolerance_m" validate:"gte=0"`
}

// Nav converts the section to a tracker config.
func (t TrackerConfig) Nav() nav.Config {
	return nav.Config{
		OffRouteThresholdM: t.OffRouteThresholdM,
		MinSpeedMPS:        t.MinSpeedMPS,
		HistoryCapacity:    t.HistoryCapacity,
		DefaultSpeedMPS:    t.DefaultSpeedMPS,
		QueueSize:          t.QueueSize,
		BackWindow:         t.BackWindow,
		ForwardWindow:      t.ForwardWindow,
		LostSignalGap:      t.LostSignalGap,
		StepToleranceM:     t.StepToleranceM,
	}
}

type GPSConfig struct {
	// Source is "nmea" (direct serial) or "gpsd".
	Source     string        `yaml:"source" validate:"omitempty,oneof=nmea gpsd"`
	GPSDAddr   string        `yaml:"gpsd_addr" validate:"omitempty,hostname_port"`
	Device     string        `yaml:"device"`
	Baud       int           `yaml:"baud" validate:"gte=0"`
	FixTimeout time.Duration `yaml:"fix_timeout" validate:"gte=0"`
}

type SimConfig struct {
	// Mode "route" drives along the loaded route; "scenario" plays keyframes.
	Mode     string        `yaml:"mode" validate:"omitempty,oneof=route scenario"`
	Scenario string        `yaml:"scenario"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	Loop     bool          `yaml:"loop"`

	SpeedMPS     float64 `yaml:"speed_mps" validate:"gte=0"`
	OffsetM      float64 `yaml:"offset_m"`
	OffsetFromM  float64 `yaml:"offset_from_m" validate:"gte=0"`
	OffsetToM    float64 `yaml:"offset_to_m" validate:"gte=0"`
	JitterM      float64 `yaml:"jitter_m" validate:"gte=0"`
	Seed         uint64  `yaml:"seed"`
	ReportMotion bool    `yaml:"report_motion"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type RecordConfig struct {
	Path string `yaml:"path"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest" validate:"omitempty,hostname_port"`
}

type PublishConfig struct {
	Prefix string      `yaml:"prefix" validate:"omitempty,excludesall= *>"`
	NATS   NATSConfig  `yaml:"nats"`
	Redis  RedisConfig `yaml:"redis"`
	AMQP   AMQPConfig  `yaml:"amqp"`
}

type NATSConfig struct {
	Enable bool   `yaml:"enable"`
	URL    string `yaml:"url"`
}

type RedisConfig struct {
	Enable    bool          `yaml:"enable"`
	Addr      string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db" validate:"gte=0"`
	LatestTTL time.Duration `yaml:"latest_ttl" validate:"gte=0"`
}

type AMQPConfig struct {
	Enable   bool   `yaml:"enable"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups  int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays  int    `yaml:"max_age_days" validate:"gte=0"`
	BufferLines int    `yaml:"buffer_lines" validate:"gte=0"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, rejecting unknown keys, then applies defaults and
// validates.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, decodeError(err)
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var linePrefix = regexp.MustCompile(`^line \d+: `)

func decodeError(err error) error {
	var te *yaml.TypeError
	if !errors.As(err, &te) {
		return err
	}
	var unknown []string
	for _, e := range te.Errors {
		msg := linePrefix.ReplaceAllString(e, "")
		if strings.HasPrefix(msg, "field ") && strings.Contains(msg, " not found in type ") {
			unknown = append(unknown, msg)
		}
	}
	if len(unknown) > 0 && len(unknown) == len(te.Errors) {
		return fmt.Errorf("config contains unknown fields: %s", strings.Join(unknown, "; "))
	}
	return err
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DefaultAndValidate fills defaults in place and returns the first problem,
// naming the offending key.
func DefaultAndValidate(cfg *Config) error {
	if cfg.Source == "" {
		cfg.Source = "gps"
	}
	applyDefaults(cfg)

	if err := validate.Struct(cfg); err != nil {
		return fieldError(err)
	}

	if err := validateRoute(cfg.Route); err != nil {
		return err
	}

	nc := cfg.Tracker.Nav()
	if err := nc.DefaultAndValidate(); err != nil {
		return fmt.Errorf("tracker.%w", err)
	}
	cfg.Tracker = TrackerConfig{
		OffRouteThresholdM: nc.OffRouteThresholdM,
		MinSpeedMPS:        nc.MinSpeedMPS,
		HistoryCapacity:    nc.HistoryCapacity,
		DefaultSpeedMPS:    nc.DefaultSpeedMPS,
		QueueSize:          nc.QueueSize,
		BackWindow:         nc.BackWindow,
		ForwardWindow:      nc.ForwardWindow,
		LostSignalGap:      nc.LostSignalGap,
		StepToleranceM:     nc.StepToleranceM,
	}

	switch cfg.Source {
	case "sim":
		if cfg.Sim.Mode == "scenario" && strings.TrimSpace(cfg.Sim.Scenario) == "" {
			return fmt.Errorf("sim.scenario is required when sim.mode is 'scenario'")
		}
	case "replay":
		if strings.TrimSpace(cfg.Replay.Path) == "" {
			return fmt.Errorf("replay.path is required when source is 'replay'")
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
		if cfg.Record.Path != "" {
			return fmt.Errorf("record.path cannot be used with source 'replay'")
		}
	}

	if cfg.UDP.Enable && cfg.UDP.Dest == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}
	if cfg.Publish.AMQP.Enable && cfg.Publish.AMQP.URL == "" {
		return fmt.Errorf("publish.amqp.url is required when publish.amqp.enable is true")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Route.OSRM.Profile == "" {
		cfg.Route.OSRM.Profile = "driving"
	}
	if cfg.Route.OSRM.Timeout == 0 {
		cfg.Route.OSRM.Timeout = 15 * time.Second
	}

	// GPS defaults (safe even if another source is selected).
	if cfg.GPS.Source == "" {
		cfg.GPS.Source = "nmea"
	}
	if cfg.GPS.Source == "gpsd" && cfg.GPS.GPSDAddr == "" {
		cfg.GPS.GPSDAddr = "127.0.0.1:2947"
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.GPS.FixTimeout == 0 {
		cfg.GPS.FixTimeout = 10 * time.Second
	}

	if cfg.Sim.Mode == "" {
		cfg.Sim.Mode = "route"
	}
	if cfg.Sim.Interval == 0 {
		cfg.Sim.Interval = time.Second
	}
	if cfg.Sim.SpeedMPS == 0 {
		cfg.Sim.SpeedMPS = 13.9
	}

	if cfg.Replay.Speed == 0 {
		cfg.Replay.Speed = 1
	}

	if cfg.Publish.Prefix == "" {
		cfg.Publish.Prefix = "navtrack"
	}
	if cfg.Publish.Redis.Enable && cfg.Publish.Redis.Addr == "" {
		cfg.Publish.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Publish.AMQP.Exchange == "" {
		cfg.Publish.AMQP.Exchange = cfg.Publish.Prefix
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 10
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 30
	}
	if cfg.Log.BufferLines == 0 {
		cfg.Log.BufferLines = 2000
	}
}

func validateRoute(r RouteConfig) error {
	file := strings.TrimSpace(r.File)
	base := strings.TrimSpace(r.OSRM.BaseURL)
	switch {
	case file == "" && base == "":
		return fmt.Errorf("route.file or route.osrm.base_url is required")
	case file != "" && base != "":
		return fmt.Errorf("route.file and route.osrm.base_url cannot both be set")
	case base != "":
		if r.OSRM.From == "" || r.OSRM.To == "" {
			return fmt.Errorf("route.osrm.from and route.osrm.to are required with route.osrm.base_url")
		}
		if _, err := osrm.ParseCoord(r.OSRM.From); err != nil {
			return fmt.Errorf("route.osrm.from: %w", err)
		}
		if _, err := osrm.ParseCoord(r.OSRM.To); err != nil {
			return fmt.Errorf("route.osrm.to: %w", err)
		}
	}
	return nil
}

// fieldError turns the first validator failure into "<yaml.path> <problem>".
func fieldError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return err
	}
	fe := ves[0]
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	switch fe.Tag() {
	case "gte":
		return fmt.Errorf("%s must be >= %s", key, fe.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", key, fe.Param())
	case "hostname_port":
		return fmt.Errorf("%s must be host:port", key)
	case "url":
		return fmt.Errorf("%s must be a URL", key)
	default:
		return fmt.Errorf("%s is invalid (%s)", key, fe.Tag())
	}
}
