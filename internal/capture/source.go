package capture

import (
	"context"
	"image"
)

// Source is one camera's raw frame feed. Ingestors open, read, and close a
// Source; the RTSP/V4L2 decode behind a concrete Source is out of scope
// here (video transcoding/recording is an explicit non-goal) — Source lets
// the ingestor's state machine be exercised against a fake without one.
type Source interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (image.Image, error)
	Close() error
}
