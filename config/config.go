package config

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/LdDl/mot-counter/counting"
	"github.com/LdDl/mot-counter/mot"
	"github.com/pkg/errors"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultConfigPath is the file looked up when no explicit path is given
const DefaultConfigPath = "config.json"

// ModelConfig holds detector output filtering parameters
type ModelConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	TargetClass         int     `json:"target_class"`
}

// TrackingConfig holds centroid tracker thresholds
type TrackingConfig struct {
	MaxDisappeared int     `json:"max_disappeared"`
	MaxDistance    float64 `json:"max_distance"`
}

// CountingConfig holds counting engine parameters
type CountingConfig struct {
	MinTrackLength int `json:"min_track_length"`
	HistoryWindow  int `json:"history_window"`
}

// Config is the root configuration of counting application.
// Region and Line come from zones file and are mutually exclusive; both nil
// means the whole frame is accepted.
type Config struct {
	Model         ModelConfig    `json:"model"`
	Tracking      TrackingConfig `json:"tracking"`
	Counting      CountingConfig `json:"counting"`
	ZonesPath     string         `json:"zones_path,omitempty"`
	ProgressEvery int            `json:"progress_every"`

	Region *mot.Rectangle `json:"-"`
	Line   *mot.Line      `json:"-"`
}

// Default returns configuration with default values
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			ConfidenceThreshold: 0.5,
			TargetClass:         0,
		},
		Tracking: TrackingConfig{
			MaxDisappeared: mot.DefaultMaxDisappeared,
			MaxDistance:    mot.DefaultMaxDistance,
		},
		Counting: CountingConfig{
			MinTrackLength: counting.DefaultMinTrackLength,
			HistoryWindow:  counting.DefaultHistoryWindow,
		},
		ProgressEvery: 250,
	}
}

// Load reads configuration from JSON file. Keys omitted in the file keep their
// default values. When zones_path is set the zones file is loaded as well; a
// relative zones path is resolved against the config file directory.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, errors.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read config file")
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "Can't parse config file %s", cleanPath)
	}
	if cfg.ZonesPath != "" {
		zonesPath := cfg.ZonesPath
		if !filepath.IsAbs(zonesPath) {
			zonesPath = filepath.Join(filepath.Dir(cleanPath), zonesPath)
		}
		zone, err := LoadZones(zonesPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.ApplyZone(zone); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ApplyZone sets counting region or counting line from zone. Nil zone is a no-op.
func (cfg *Config) ApplyZone(zone *Zone) error {
	if zone == nil {
		return nil
	}
	x1, y1, x2, y2 := zone.Coordinates[0], zone.Coordinates[1], zone.Coordinates[2], zone.Coordinates[3]
	switch zone.Type {
	case ZoneRectangle:
		region := mot.NewRect(x1, y1, x2, y2)
		cfg.Region = &region
		cfg.Line = nil
	case ZoneLine:
		line := mot.NewLine(x1, y1, x2, y2)
		cfg.Line = &line
		cfg.Region = nil
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown zone type %q", zone.Type)
	}
	return nil
}

// Validate checks thresholds and geometry. It has to be called before any frame is processed.
func (cfg *Config) Validate() error {
	if cfg.Tracking.MaxDisappeared < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max_disappeared should be non-negative, got %d", cfg.Tracking.MaxDisappeared)
	}
	if !(cfg.Tracking.MaxDistance > 0) || math.IsInf(cfg.Tracking.MaxDistance, 0) {
		return errors.Wrapf(ErrInvalidConfig, "max_distance should be positive, got %v", cfg.Tracking.MaxDistance)
	}
	if cfg.Counting.MinTrackLength < 1 {
		return errors.Wrapf(ErrInvalidConfig, "min_track_length should be at least 1, got %d", cfg.Counting.MinTrackLength)
	}
	if cfg.Counting.HistoryWindow < 2 {
		return errors.Wrapf(ErrInvalidConfig, "history_window should be at least 2, got %d", cfg.Counting.HistoryWindow)
	}
	if c := cfg.Model.ConfidenceThreshold; !(c >= 0 && c <= 1) {
		return errors.Wrapf(ErrInvalidConfig, "confidence_threshold should be in [0, 1], got %v", c)
	}
	if cfg.ProgressEvery < 0 {
		return errors.Wrapf(ErrInvalidConfig, "progress_every should be non-negative, got %d", cfg.ProgressEvery)
	}
	if _, err := counting.NewRule(cfg.Region, cfg.Line); err != nil {
		return ruleError{cause: err}
	}
	return nil
}

// ruleError reports bad counting geometry. It matches both ErrInvalidConfig and
// the underlying rule error.
type ruleError struct {
	cause error
}

func (e ruleError) Error() string {
	return ErrInvalidConfig.Error() + ": " + e.cause.Error()
}

func (e ruleError) Unwrap() error {
	return e.cause
}

func (e ruleError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Rule returns counting rule for configured geometry
func (cfg *Config) Rule() (counting.Rule, error) {
	return counting.NewRule(cfg.Region, cfg.Line)
}
