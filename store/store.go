package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"vidpipe/config"
	"vidpipe/job"
)

// New builds the job store selected by STORE_DRIVER. The returned close
// function is safe to call for every driver.
func New(ctx context.Context, cfg *config.Config) (job.Store, func() error, error) {
	switch cfg.StoreDriver {
	case "memory":
		return job.NewMemoryStore(), func() error { return nil }, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.StoreDSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("ensure store directory: %w", err)
			}
		}
		fallthrough
	case "postgres":
		s, err := Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
