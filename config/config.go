// vidpipe/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// Pipeline tools
	FFBin            string        `mapstructure:"FF_BIN"`
	FFProbeBin       string        `mapstructure:"FFPROBE_BIN"`
	TranscodeArgs    string        `mapstructure:"TRANSCODE_ARGS"`
	SubtitleCmd      string        `mapstructure:"SUBTITLE_CMD"`
	SegmentCmd       string        `mapstructure:"SEGMENT_CMD"`
	SegmentThreshold float64       `mapstructure:"SEGMENT_THRESHOLD"`
	ThumbnailSize    string        `mapstructure:"THUMBNAIL_SIZE"`
	StageTimeout     time.Duration `mapstructure:"STAGE_TIMEOUT"`
	JobTimeout       time.Duration `mapstructure:"JOB_TIMEOUT"`
	ParallelStages   bool          `mapstructure:"PARALLEL_STAGES"`
	VerifyOutputs    bool          `mapstructure:"VERIFY_OUTPUTS"`

	// Filesystem layout
	UploadDir     string `mapstructure:"UPLOAD_DIR"`
	OutputDir     string `mapstructure:"OUTPUT_DIR"`
	MaxUploadSize int64  `mapstructure:"MAX_UPLOAD_SIZE"`

	// Job record store
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	StoreDSN    string `mapstructure:"STORE_DSN"`

	// Resource throttle applied before launching external tasks
	ThrottleEnable   bool    `mapstructure:"THROTTLE_ENABLE"`
	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	// Status change events
	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	// Watch folder ingestion
	WatchEnable bool   `mapstructure:"WATCH_ENABLE"`
	WatchDir    string `mapstructure:"WATCH_DIR"`

	// HTTP
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`

	// Logging
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFormat     string `mapstructure:"LOG_FORMAT"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`
}

// stringToDurationHookFunc parses Go duration strings such as "12m3s".
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable size strings such as "200MB".
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string, let other parsers handle it.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("TRANSCODE_ARGS", "")
	vp.SetDefault("SUBTITLE_CMD", "./venv/bin/python scripts/generate_subtitles.py")
	vp.SetDefault("SEGMENT_CMD", "./venv/bin/python scripts/generate_segments.py")
	vp.SetDefault("SEGMENT_THRESHOLD", 30.0)
	vp.SetDefault("THUMBNAIL_SIZE", "320x240")
	vp.SetDefault("STAGE_TIMEOUT", "30m")
	vp.SetDefault("JOB_TIMEOUT", "2h")
	vp.SetDefault("PARALLEL_STAGES", false)
	vp.SetDefault("VERIFY_OUTPUTS", false)

	vp.SetDefault("UPLOAD_DIR", "uploads")
	vp.SetDefault("OUTPUT_DIR", "outputs")
	vp.SetDefault("MAX_UPLOAD_SIZE", "500MB")

	vp.SetDefault("STORE_DRIVER", "sqlite")
	vp.SetDefault("STORE_DSN", "vidpipe.db")

	vp.SetDefault("THROTTLE_ENABLE", false)
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")

	vp.SetDefault("KAFKA_BROKERS", "")
	vp.SetDefault("KAFKA_TOPIC", "vidpipe.job-status")

	vp.SetDefault("WATCH_ENABLE", false)
	vp.SetDefault("WATCH_DIR", "incoming")

	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("PORT", "5000")
	vp.SetDefault("BASE", "")

	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "console")
	vp.SetDefault("LOG_FILE", "")
	vp.SetDefault("LOG_MAX_SIZE_MB", 100)
	vp.SetDefault("LOG_MAX_BACKUPS", 3)
	vp.SetDefault("LOG_MAX_AGE_DAYS", 28)
}

func Load() (*Config, error) {
	// A missing .env is fine; it only seeds the environment.
	_ = godotenv.Load()

	vp := viper.New()
	setDefaults(vp)

	vp.SetConfigName("vidpipe_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/vidpipe/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("VIDPIPE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that converts the value wins.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}
	cfg.KafkaBrokers = compact(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the rest of the service cannot interpret.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("STORE_DRIVER: unsupported value %q", c.StoreDriver)
	}
	if c.StoreDriver != "memory" && strings.TrimSpace(c.StoreDSN) == "" {
		return fmt.Errorf("STORE_DSN is required for driver %s", c.StoreDriver)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT: unsupported value %q", c.LogFormat)
	}
	if c.StageTimeout < 0 || c.JobTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	return nil
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
