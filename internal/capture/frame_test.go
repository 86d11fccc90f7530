package capture_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vms-watch/internal/capture"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPrepare_ResizesAndEncodes(t *testing.T) {
	src := solidImage(1280, 960, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	frame, err := capture.Prepare(src, 640, 480)
	require.NoError(t, err)
	require.Equal(t, 640, frame.Width)
	require.Equal(t, 480, frame.Height)
	require.NotEmpty(t, frame.JPEGBase64)
}

func TestIsDuplicate_IdenticalFramesBelowThreshold(t *testing.T) {
	src := solidImage(640, 480, color.RGBA{R: 50, G: 50, B: 50, A: 255})
	a, err := capture.Prepare(src, 640, 480)
	require.NoError(t, err)
	b, err := capture.Prepare(src, 640, 480)
	require.NoError(t, err)

	require.True(t, capture.IsDuplicate(b, a, 3.0))
}

func TestIsDuplicate_DifferentFramesAboveThreshold(t *testing.T) {
	a, err := capture.Prepare(solidImage(640, 480, color.RGBA{R: 0, G: 0, B: 0, A: 255}), 640, 480)
	require.NoError(t, err)
	b, err := capture.Prepare(solidImage(640, 480, color.RGBA{R: 255, G: 255, B: 255, A: 255}), 640, 480)
	require.NoError(t, err)

	require.False(t, capture.IsDuplicate(b, a, 3.0))
}

func TestIsDuplicate_FirstFrameNeverDuplicate(t *testing.T) {
	a, err := capture.Prepare(solidImage(640, 480, color.RGBA{R: 0, G: 0, B: 0, A: 255}), 640, 480)
	require.NoError(t, err)
	require.False(t, capture.IsDuplicate(a, capture.Frame{}, 3.0))
}

func TestMeanAbsDiff_ShapeMismatch(t *testing.T) {
	a, _ := capture.Prepare(solidImage(640, 480, color.Black), 640, 480)
	b, _ := capture.Prepare(solidImage(320, 240, color.Black), 320, 240)
	require.False(t, capture.IsDuplicate(a, b, 1000))
}
