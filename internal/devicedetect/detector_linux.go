//go:build linux

package devicedetect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

type detector struct{}

// Detect lists /dev/video* nodes, in V4L2 index order, reading the
// human-readable name back out of sysfs where available.
func (detector) Detect(ctx context.Context) ([]Camera, error) {
	_, cancel := withBudget(ctx)
	defer cancel()

	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("devicedetect: glob /dev/video*: %w", err)
	}

	var cams []Camera
	for _, path := range matches {
		idxStr := strings.TrimPrefix(filepath.Base(path), "video")
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			continue
		}
		name := readSysName(idx)
		if name == "" {
			name = filepath.Base(path)
		}
		cams = append(cams, Camera{Index: idx, Name: name})
	}

	sort.Slice(cams, func(i, j int) bool { return cams[i].Index < cams[j].Index })
	return cams, nil
}

func readSysName(idx int) string {
	b, err := os.ReadFile(fmt.Sprintf("/sys/class/video4linux/video%d/name", idx))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
