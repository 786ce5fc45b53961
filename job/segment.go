package job

import (
	"encoding/json"
	"fmt"
	"os"
)

// Segment is one detected scene interval, in seconds from the start of the source.
type Segment struct {
	Scene int     `json:"scene"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ReadSegments decodes a segments artifact and checks that scenes are ordered and well-formed.
func ReadSegments(path string) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read segments: %w", err)
	}

	var segments []Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}

	for i, seg := range segments {
		if seg.End < seg.Start {
			return nil, fmt.Errorf("segment %d ends before it starts (%.3f < %.3f)", seg.Scene, seg.End, seg.Start)
		}
		if i > 0 && seg.Start < segments[i-1].Start {
			return nil, fmt.Errorf("segment %d is out of order", seg.Scene)
		}
	}
	if segments == nil {
		segments = []Segment{}
	}
	return segments, nil
}
