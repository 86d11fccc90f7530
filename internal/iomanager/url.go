package iomanager

import (
	"fmt"
	"net/url"
	"strings"
)

const defaultRTSPPort = "8554"

// normalizePullURL derives the RTSP URL an ingestor actually dials from a
// user-supplied camera URL. Anything not covered by the known publish
// protocols is returned unchanged, which lets callers hand in a URL that's
// already RTSP.
func normalizePullURL(raw, rtspPort string) string {
	if rtspPort == "" {
		rtspPort = defaultRTSPPort
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	switch strings.ToLower(u.Scheme) {
	case "rtmp", "whip":
		return fmt.Sprintf("rtsp://%s:%s%s", u.Hostname(), rtspPort, u.Path)
	case "srt":
		streamID := u.Query().Get("streamid")
		// streamid is "publish:KEY" or "publish,KEY"; the stream key is
		// whatever follows the first separator.
		key := streamID
		if idx := strings.IndexAny(streamID, ":,"); idx >= 0 {
			key = streamID[idx+1:]
		}
		return fmt.Sprintf("rtsp://%s:%s/%s", u.Hostname(), rtspPort, key)
	case "http", "https":
		if strings.HasSuffix(u.Path, "/whip") {
			path := strings.TrimSuffix(u.Path, "/whip")
			return fmt.Sprintf("rtsp://%s:%s%s", u.Hostname(), rtspPort, path)
		}
		return raw
	default:
		return raw
	}
}
