// vidpipe/config/config_test.go
package config_test

import (
	"testing"
	"time"

	"vidpipe/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		t.Setenv("VIDPIPE_PORT", "")
		t.Setenv("VIDPIPE_STAGE_TIMEOUT", "")
		t.Setenv("VIDPIPE_MAX_UPLOAD_SIZE", "")
		t.Setenv("VIDPIPE_STORE_DRIVER", "")
		t.Setenv("VIDPIPE_KAFKA_BROKERS", "")

		cfg, err := config.Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "5000", cfg.Port)
		assert.Equal(t, "ffmpeg", cfg.FFBin)
		assert.Equal(t, "ffprobe", cfg.FFProbeBin)
		assert.Equal(t, "320x240", cfg.ThumbnailSize)
		assert.Equal(t, 30.0, cfg.SegmentThreshold)
		assert.Equal(t, 30*time.Minute, cfg.StageTimeout)
		assert.Equal(t, 2*time.Hour, cfg.JobTimeout)
		assert.Equal(t, int64(500*1024*1024), cfg.MaxUploadSize)
		assert.Equal(t, "sqlite", cfg.StoreDriver)
		assert.Equal(t, "outputs", cfg.OutputDir)
		assert.False(t, cfg.ParallelStages)
		assert.False(t, cfg.VerifyOutputs)
		assert.Empty(t, cfg.KafkaBrokers)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("VIDPIPE_PORT", "9999")
		t.Setenv("VIDPIPE_STAGE_TIMEOUT", "90s")
		t.Setenv("VIDPIPE_MAX_UPLOAD_SIZE", "50MB")
		t.Setenv("VIDPIPE_STORE_DRIVER", "memory")
		t.Setenv("VIDPIPE_PARALLEL_STAGES", "true")
		t.Setenv("VIDPIPE_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 90*time.Second, cfg.StageTimeout)
		assert.Equal(t, int64(50*1024*1024), cfg.MaxUploadSize)
		assert.Equal(t, "memory", cfg.StoreDriver)
		assert.True(t, cfg.ParallelStages)
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	})

	t.Run("rejects unknown store driver", func(t *testing.T) {
		t.Setenv("VIDPIPE_STORE_DRIVER", "mongodb")

		_, err := config.Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "STORE_DRIVER")
	})
}

func TestValidate(t *testing.T) {
	cfg := &config.Config{StoreDriver: "postgres", LogFormat: "json", OutputDir: "out"}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DSN")

	cfg.StoreDSN = "postgres://localhost/vidpipe"
	assert.NoError(t, cfg.Validate())

	cfg.LogFormat = "xml"
	assert.Error(t, cfg.Validate())
}
