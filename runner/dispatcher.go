package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"vidpipe/config"
)

var sizePattern = regexp.MustCompile(`^\d+x\d+$`)

// Dispatcher routes each Task variant to its command line.
type Dispatcher struct {
	ffmpeg        string
	transcodeArgs []string
	subtitleCmd   []string
	segmentCmd    []string
	threshold     float64
	thumbnailSize string

	prober Prober
	exec   commandExecutor
	log    *zap.Logger
}

// NewDispatcher builds the production dispatcher from configuration.
func NewDispatcher(cfg *config.Config, log *zap.Logger) (*Dispatcher, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var throttle *Throttle
	if cfg.ThrottleEnable {
		throttle = NewThrottle(cfg.ThrottleCPU, cfg.ThrottleFreeMem, cfg.ThrottleFreeDisk, cfg.OutputDir, log)
	}

	return newDispatcher(cfg, FFProbe{Binary: cfg.FFProbeBin}, NewExec(log.Named("exec"), throttle), log)
}

func newDispatcher(cfg *config.Config, prober Prober, executor commandExecutor, log *zap.Logger) (*Dispatcher, error) {
	var transcodeArgs []string
	if cfg.TranscodeArgs != "" {
		args, err := SplitCommand(cfg.TranscodeArgs)
		if err != nil {
			return nil, fmt.Errorf("TRANSCODE_ARGS: %w", err)
		}
		if err := ValidateExtraArgs(args); err != nil {
			return nil, fmt.Errorf("TRANSCODE_ARGS: %w", err)
		}
		transcodeArgs = args
	}

	subtitleCmd, err := SplitCommand(cfg.SubtitleCmd)
	if err != nil {
		return nil, fmt.Errorf("SUBTITLE_CMD: %w", err)
	}
	segmentCmd, err := SplitCommand(cfg.SegmentCmd)
	if err != nil {
		return nil, fmt.Errorf("SEGMENT_CMD: %w", err)
	}

	size := cfg.ThumbnailSize
	if size == "" {
		size = "320x240"
	}
	if !sizePattern.MatchString(size) {
		return nil, fmt.Errorf("THUMBNAIL_SIZE: expected WIDTHxHEIGHT, got %q", size)
	}

	ffmpeg := cfg.FFBin
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	threshold := cfg.SegmentThreshold
	if threshold <= 0 {
		threshold = 30.0
	}

	return &Dispatcher{
		ffmpeg:        ffmpeg,
		transcodeArgs: transcodeArgs,
		subtitleCmd:   subtitleCmd,
		segmentCmd:    segmentCmd,
		threshold:     threshold,
		thumbnailSize: size,
		prober:        prober,
		exec:          executor,
		log:           log,
	}, nil
}

func (d *Dispatcher) Run(ctx context.Context, t Task) error {
	if !t.Kind.Valid() {
		return launchError(t.Kind, "", fmt.Errorf("unknown task kind %q", t.Kind))
	}
	if _, err := os.Stat(t.InputPath); err != nil {
		return launchError(t.Kind, "", fmt.Errorf("input not readable: %w", err))
	}
	if err := os.MkdirAll(filepath.Dir(t.OutputPath), 0o755); err != nil {
		return launchError(t.Kind, "", fmt.Errorf("create output directory: %w", err))
	}

	switch t.Kind {
	case KindTranscode:
		return d.exec.Execute(ctx, t.Kind, d.ffmpeg, d.transcodeArgsFor(t.InputPath, t.OutputPath)...)
	case KindSubtitles:
		args := append(append([]string{}, d.subtitleCmd[1:]...), t.InputPath, t.OutputPath)
		return d.exec.Execute(ctx, t.Kind, d.subtitleCmd[0], args...)
	case KindSegments:
		args := append(append([]string{}, d.segmentCmd[1:]...), t.InputPath, t.OutputPath, formatSeconds(d.threshold))
		return d.exec.Execute(ctx, t.Kind, d.segmentCmd[0], args...)
	default:
		return d.thumbnail(ctx, t)
	}
}

func (d *Dispatcher) thumbnail(ctx context.Context, t Task) error {
	duration, err := d.prober.Duration(ctx, t.InputPath)
	if err != nil {
		return executionError(t.Kind, "ffprobe", -1, "", fmt.Errorf("probe duration: %w", err))
	}
	seek := ThumbnailTimestamp(duration)
	d.log.Debug("thumbnail timestamp",
		zap.String("input", t.InputPath),
		zap.Float64("duration", duration),
		zap.Float64("seek", seek),
	)
	return d.exec.Execute(ctx, t.Kind, d.ffmpeg, d.thumbnailArgsFor(t.InputPath, t.OutputPath, seek)...)
}

// ThumbnailTimestamp picks the temporal midpoint of the source.
func ThumbnailTimestamp(duration float64) float64 {
	return duration / 2
}

func (d *Dispatcher) transcodeArgsFor(input, output string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-movflags", "+faststart",
	}
	args = append(args, d.transcodeArgs...)
	return append(args, output)
}

func (d *Dispatcher) thumbnailArgsFor(input, output string, seek float64) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(seek),
		"-i", input,
		"-frames:v", "1",
		"-s", d.thumbnailSize,
		output,
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
