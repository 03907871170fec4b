// Package tagmapper maps tag poses seen by a sensor into the map frame and publishes them as markers.
package tagmapper

import (
	"math"
	"os"
	"strconv"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/num/quat"
	"gopkg.in/yaml.v2"

	"github.com/viamrobotics/viam-tag-mapper/marker"
	"github.com/viamrobotics/viam-tag-mapper/sensors/tflookup"
	"github.com/viamrobotics/viam-tag-mapper/transform"
)

const (
	defaultWorldFrame  = "map"
	defaultSensorFrame = "camera_link"
	defaultPoseTopic   = "tag_pose"
	defaultMarkerTopic = "tag_marker"

	defaultRateHz       = 10.
	maxRateHz           = 1000.
	defaultRetryDelayMs = 1000
)

// PublisherKind names a marker publisher that can be enabled from the config file.
type PublisherKind string

const (
	// LogPublisher logs every published marker.
	LogPublisher PublisherKind = "log"
	// FilePublisher keeps a YAML snapshot of the latest markers on disk.
	FilePublisher PublisherKind = "file"
)

var supportedPublishers = []PublisherKind{LogPublisher, FilePublisher}

// StaticTransform is a fixed sensor to world transform used when no live tracker is attached.
type StaticTransform struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Z      float64 `yaml:"z"`
	YawDeg float64 `yaml:"yaw_deg"`
}

// Config is the tag mapper configuration file.
type Config struct {
	WorldFrame      string            `yaml:"world_frame"`
	SensorFrame     string            `yaml:"sensor_frame"`
	PoseTopic       string            `yaml:"pose_topic"`
	MarkerTopic     string            `yaml:"marker_topic"`
	Namespace       string            `yaml:"namespace"`
	Publishers      []PublisherKind   `yaml:"publishers"`
	MarkerFile      string            `yaml:"marker_file"`
	HealthAddress   string            `yaml:"health_address"`
	StaticTransform *StaticTransform  `yaml:"static_transform"`
	ConfigParams    map[string]string `yaml:"config_params"`
}

// LoadConfig reads, defaults and validates the config file at path.
func LoadConfig(path string) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading config file %v", path)
	}
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "error parsing config file %v", path)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file %v", path)
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.WorldFrame == "" {
		cfg.WorldFrame = defaultWorldFrame
	}
	if cfg.SensorFrame == "" {
		cfg.SensorFrame = defaultSensorFrame
	}
	if cfg.PoseTopic == "" {
		cfg.PoseTopic = defaultPoseTopic
	}
	if cfg.MarkerTopic == "" {
		cfg.MarkerTopic = defaultMarkerTopic
	}
	if cfg.Namespace == "" {
		cfg.Namespace = marker.DefaultNamespace
	}
	if cfg.Publishers == nil {
		cfg.Publishers = []PublisherKind{LogPublisher}
	}
}

// Validate checks the config for values the service cannot run with. It does not apply defaults.
func (cfg *Config) Validate() error {
	if cfg.WorldFrame == "" || cfg.SensorFrame == "" {
		return errors.New("world_frame and sensor_frame must both be set")
	}
	if cfg.WorldFrame == cfg.SensorFrame {
		return errors.Errorf("world_frame and sensor_frame must differ, both are %q", cfg.WorldFrame)
	}
	for _, kind := range cfg.Publishers {
		if !slices.Contains(supportedPublishers, kind) {
			return errors.Errorf("publisher %q is not one of %v", kind, supportedPublishers)
		}
	}
	if slices.Contains(cfg.Publishers, FilePublisher) && cfg.MarkerFile == "" {
		return errors.New("the file publisher requires marker_file")
	}
	if st := cfg.StaticTransform; st != nil {
		if _, err := transform.Build(r3.Vector{X: st.X, Y: st.Y, Z: st.Z}, st.YawDeg, 0); err != nil {
			return errors.Wrap(err, "static_transform")
		}
	}
	return nil
}

// staticSource turns the configured static transform into a transform source.
func (cfg *Config) staticSource() (*tflookup.Static, error) {
	st := cfg.StaticTransform
	if st == nil {
		return nil, errors.New("no transform source given and no static_transform configured")
	}
	half := st.YawDeg * math.Pi / 360
	return &tflookup.Static{
		Target: cfg.WorldFrame,
		Source: cfg.SensorFrame,
		Sample: transform.Sample{
			Translation: r3.Vector{X: st.X, Y: st.Y, Z: st.Z},
			Rotation:    quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)},
		},
	}, nil
}

// loopParams are the tunables read from config_params.
type loopParams struct {
	period         time.Duration
	retryDelay     time.Duration
	mountOffsetDeg float64
}

func (cfg *Config) loopParams(logger golog.Logger) (loopParams, error) {
	var params loopParams

	rate, err := configToFloat(cfg.ConfigParams, "rate_hz", defaultRateHz, logger)
	if err != nil {
		return params, err
	}
	if rate <= 0 || rate > maxRateHz {
		return params, errors.Errorf("rate_hz must be in (0, %v], got %v", maxRateHz, rate)
	}
	params.period = time.Duration(float64(time.Second) / rate)

	retryMs, err := configToInt(cfg.ConfigParams, "retry_delay_ms", defaultRetryDelayMs, logger)
	if err != nil {
		return params, err
	}
	if retryMs < 0 {
		return params, errors.Errorf("retry_delay_ms must not be negative, got %d", retryMs)
	}
	params.retryDelay = time.Duration(retryMs) * time.Millisecond

	if params.mountOffsetDeg, err = configToFloat(cfg.ConfigParams, "mount_offset_deg", transform.MountOffsetDegrees, logger); err != nil {
		return params, err
	}
	return params, nil
}

func configToInt(configParams map[string]string, key string, def int, logger golog.Logger) (int, error) {
	valStr, ok := configParams[key]
	if !ok {
		logger.Debugf("Parameter %s not found, using default value %d", key, def)
		return def, nil
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, errors.Errorf("Parameter %s has an invalid definition", key)
	}

	return val, nil
}

func configToFloat(configParams map[string]string, key string, def float64, logger golog.Logger) (float64, error) {
	valStr, ok := configParams[key]
	if !ok {
		logger.Debugf("Parameter %s not found, using default value %f", key, def)
		return def, nil
	}

	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil || math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, errors.Errorf("Parameter %s has an invalid definition", key)
	}
	return val, nil
}
