// Package capture prepares raw camera frames for VLM inference: downscale,
// JPEG-encode, and dedupe against the previously processed frame.
package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Frame is one prepared, downscaled video frame.
type Frame struct {
	Width, Height int
	Pix           []byte // resized RGBA pixel buffer, used for dedupe comparison
	JPEGBase64    string
}

// Prepare resizes src to targetW x targetH with bilinear interpolation and
// JPEG-encodes the result at quality 85, matching the teacher's JPEG
// snapshot handling in cmd/ai-service.
func Prepare(src image.Image, targetW, targetH int) (Frame, error) {
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return Frame{}, fmt.Errorf("capture: jpeg encode: %w", err)
	}

	return Frame{
		Width:      targetW,
		Height:     targetH,
		Pix:        dst.Pix,
		JPEGBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// MeanAbsDiff computes the mean absolute per-channel pixel difference
// between two frames of identical shape, over the RGB channels only — the
// alpha channel is always opaque (255) for a decoded camera frame and would
// only dilute the delta. A shape mismatch is reported as mathInf (1<<62, far
// above any threshold) so callers never treat it as a duplicate.
func MeanAbsDiff(a, b Frame) float64 {
	if a.Width != b.Width || a.Height != b.Height || len(a.Pix) != len(b.Pix) {
		return mathInf
	}
	if len(a.Pix) == 0 {
		return 0
	}

	var sum int64
	var n int
	for i := range a.Pix {
		if i%4 == 3 {
			continue // alpha
		}
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		sum += int64(d)
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

const mathInf = 1 << 62

// IsDuplicate reports whether current is within threshold of last. An empty
// (zero-value) last is never a duplicate, so the very first frame always
// triggers inference.
func IsDuplicate(current, last Frame, threshold float64) bool {
	if last.Pix == nil {
		return false
	}
	return MeanAbsDiff(current, last) < threshold
}
