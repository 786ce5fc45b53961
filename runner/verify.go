package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/disintegration/imaging"

	"vidpipe/job"
)

// Verifier checks a produced artifact after its process reported success.
type Verifier struct {
	next Runner
}

// Verified wraps next so every successful task also has a well-formed output.
func Verified(next Runner) *Verifier {
	return &Verifier{next: next}
}

func (v *Verifier) Run(ctx context.Context, t Task) error {
	if err := v.next.Run(ctx, t); err != nil {
		return err
	}
	if err := VerifyOutput(t); err != nil {
		return executionError(t.Kind, "", 0, "", err)
	}
	return nil
}

// VerifyOutput checks that t's output exists and, where the format is known, decodes.
func VerifyOutput(t Task) error {
	info, err := os.Stat(t.OutputPath)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("output %s is a directory", t.OutputPath)
	}

	switch t.Kind {
	case KindThumbnail:
		img, err := imaging.Open(t.OutputPath)
		if err != nil {
			return fmt.Errorf("decode thumbnail: %w", err)
		}
		if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
			return fmt.Errorf("thumbnail %s is empty", t.OutputPath)
		}
	case KindSegments:
		if _, err := job.ReadSegments(t.OutputPath); err != nil {
			return err
		}
	default:
		if info.Size() == 0 {
			return fmt.Errorf("output %s is empty", t.OutputPath)
		}
	}
	return nil
}
