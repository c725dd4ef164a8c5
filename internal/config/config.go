// Package config loads and validates snapshotter configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Render   RenderConfig   `mapstructure:"render"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// WorkflowConfig points at the workflow engine.
type WorkflowConfig struct {
	// URL may carry basic-auth user info.
	URL           string        `mapstructure:"url"`
	WorkerID      string        `mapstructure:"worker_id"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// WorkerConfig governs the external-task loop.
type WorkerConfig struct {
	Topic                string        `mapstructure:"topic"`
	LockDurationMs       int64         `mapstructure:"lock_duration"`
	TasksPerRun          int           `mapstructure:"tasks_per_run"`
	JobIDVariable        string        `mapstructure:"job_id_variable"`
	URLVariable          string        `mapstructure:"url_variable"`
	LoopDelay            time.Duration `mapstructure:"loop_delay"`
	ErrorCode            string        `mapstructure:"error_code"`
	ExitOnFetchExhausted bool          `mapstructure:"exit_on_fetch_exhausted"`
	Dimensions           []string      `mapstructure:"dimensions"`
	Strategy             string        `mapstructure:"strategy"`
	// MetricsAddr, when set, exposes /metrics while the worker runs.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// RenderConfig configures the browser and capture strategies.
type RenderConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	UserAgent         string        `mapstructure:"user_agent"`
	ExecPath          string        `mapstructure:"exec_path"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
	JPEGQuality       int           `mapstructure:"jpeg_quality"`
	StabilizeAttempts int           `mapstructure:"stabilize_attempts"`
	StabilizeInterval time.Duration `mapstructure:"stabilize_interval"`
	MinColors         int           `mapstructure:"min_colors"`
}

// StorageConfig selects the object store and the bucket layout.
type StorageConfig struct {
	Backend  string        `mapstructure:"backend"`
	Prefix   string        `mapstructure:"prefix"`
	Buckets  BucketsConfig `mapstructure:"buckets"`
	LocalDir string        `mapstructure:"local_dir"`
	S3       S3Config      `mapstructure:"s3"`
}

// BucketsConfig maps device classes to buckets. Common receives every other size.
type BucketsConfig struct {
	Mobile string `mapstructure:"mobile"`
	Tablet string `mapstructure:"tablet"`
	Common string `mapstructure:"common"`
}

// S3Config configures the AWS client.
type S3Config struct {
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// ServerConfig controls the render front door.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DBConfig enables the outcome audit table when DSN is set.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig enables outcome notifications when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig selects zap outputs.
type LoggingConfig struct {
	Development bool     `mapstructure:"development"`
	Handlers    []string `mapstructure:"handlers"`
	Logstash    string   `mapstructure:"logstash"`
	Level       string   `mapstructure:"level"`
}

// legacyEnv lists the environment names deployments already export.
var legacyEnv = map[string]string{
	"workflow.url":           "WORKFLOW",
	"storage.s3.region":      "AWS_REGION_NAME",
	"storage.buckets.mobile": "SCREENSHOT_BUCKET_MOBILE",
	"storage.buckets.tablet": "SCREENSHOT_BUCKET_TABLET",
	"storage.buckets.common": "SCREENSHOT_BUCKET_COMMON",
	"logging.handlers":       "LOG_HANDLERS",
	"logging.logstash":       "LOGSTASH",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SNAPSHOTTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := "SNAPSHOTTER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workflow.url", "http://localhost:8080")
	v.SetDefault("workflow.timeout", "30s")
	v.SetDefault("workflow.retry_attempts", 3)
	v.SetDefault("workflow.retry_delay", "5s")
	v.SetDefault("worker.topic", "screenshotter")
	v.SetDefault("worker.lock_duration", 300000)
	v.SetDefault("worker.tasks_per_run", 1)
	v.SetDefault("worker.job_id_variable", "instanceTaskId")
	v.SetDefault("worker.url_variable", "mainUrl")
	v.SetDefault("worker.loop_delay", "5s")
	v.SetDefault("worker.error_code", "13")
	v.SetDefault("worker.exit_on_fetch_exhausted", false)
	v.SetDefault("worker.dimensions", []string{"375x667", "1024x768", "1280x800"})
	v.SetDefault("worker.strategy", "screenshot")
	v.SetDefault("render.timeout", "120s")
	v.SetDefault("render.max_parallel", 3)
	v.SetDefault("render.user_agent", "")
	v.SetDefault("render.no_sandbox", false)
	v.SetDefault("render.jpeg_quality", 60)
	v.SetDefault("render.stabilize_attempts", 20)
	v.SetDefault("render.stabilize_interval", "500ms")
	v.SetDefault("render.min_colors", 3)
	v.SetDefault("storage.backend", BackendS3)
	v.SetDefault("storage.prefix", "scr")
	v.SetDefault("storage.local_dir", "data/snapshots")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("db.table", "snapshot_outcomes")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.handlers", []string{"console"})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Workflow.URL == "" {
		errs = append(errs, errors.New("workflow.url is required"))
	}
	if c.Workflow.RetryAttempts < 0 {
		errs = append(errs, errors.New("workflow.retry_attempts must be >= 0"))
	}
	if c.Worker.LockDurationMs <= 0 {
		errs = append(errs, errors.New("worker.lock_duration must be > 0"))
	}
	if c.Worker.TasksPerRun <= 0 {
		errs = append(errs, errors.New("worker.tasks_per_run must be > 0"))
	}
	if c.Worker.ErrorCode == "" {
		errs = append(errs, errors.New("worker.error_code is required"))
	}
	if c.Render.Timeout < 0 {
		errs = append(errs, errors.New("render.timeout must be >= 0"))
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		errs = append(errs, errors.New("render.jpeg_quality must be within 1..100"))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	switch c.Storage.Backend {
	case BackendS3, BackendGCS:
		if c.Storage.Buckets.Common == "" {
			errs = append(errs, fmt.Errorf("storage.buckets.common is required for the %s backend", c.Storage.Backend))
		}
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name must be set together"))
	}
	return errors.Join(errs...)
}

// CommonBucket returns the fallback bucket, defaulting to "snapshots" for local backends.
func (s StorageConfig) CommonBucket() string {
	if s.Buckets.Common != "" {
		return s.Buckets.Common
	}
	return "snapshots"
}

// BucketMap maps size labels to the configured device buckets.
func (s StorageConfig) BucketMap() map[string]string {
	out := map[string]string{}
	if s.Buckets.Mobile != "" {
		out["375x667"] = s.Buckets.Mobile
	}
	if s.Buckets.Tablet != "" {
		out["1024x768"] = s.Buckets.Tablet
	}
	return out
}
