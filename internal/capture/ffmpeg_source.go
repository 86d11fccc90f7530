package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"os/exec"
	"runtime"
	"time"
)

// readTimeout bounds one single-frame ffmpeg invocation; a hung device must
// not stall the capture loop indefinitely.
const readTimeout = 5 * time.Second

// FFmpegSource reads one still frame at a time from a local device index or
// a pull URL by shelling out to ffmpeg, the same bounded-exec-and-parse
// approach devicedetect uses for device enumeration. This deliberately does
// not decode a continuous stream: grabbing a single frame per Read is not
// the transcoding/recording pipeline the ingestor's spec puts out of scope,
// it is the minimum needed to feed VLM inference.
type FFmpegSource struct {
	// Target is either a local device index (e.g. "0") or a pull URL
	// (e.g. "rtsp://host:8554/path").
	Target string
	// Local marks Target as a local capture device index rather than a URL.
	Local bool
}

func (s *FFmpegSource) Open(ctx context.Context) error {
	return nil
}

func (s *FFmpegSource) Read(ctx context.Context) (image.Image, error) {
	rctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	args := s.inputArgs()
	args = append(args, "-vframes", "1", "-f", "image2pipe", "-vcodec", "mjpeg", "-")

	cmd := exec.CommandContext(rctx, "ffmpeg", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("capture: ffmpeg read %s: %w", s.Target, err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("capture: ffmpeg produced no frame for %s", s.Target)
	}

	img, _, err := image.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("capture: decode frame from %s: %w", s.Target, err)
	}
	return img, nil
}

func (s *FFmpegSource) Close() error {
	return nil
}

func (s *FFmpegSource) inputArgs() []string {
	if !s.Local {
		return []string{"-y", "-i", s.Target}
	}
	switch runtime.GOOS {
	case "linux":
		return []string{"-y", "-f", "v4l2", "-i", "/dev/video" + s.Target}
	case "darwin":
		return []string{"-y", "-f", "avfoundation", "-i", s.Target}
	default:
		return []string{"-y", "-f", "dshow", "-i", "video=" + s.Target}
	}
}
