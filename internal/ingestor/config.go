package ingestor

import "time"

// Fixed timing constants not exposed for per-deployment tuning.
const (
	ReconnectBackoff = 2 * time.Second

	ActionQueueDepth  = 64
	ActionPollTimeout = 500 * time.Millisecond
	ShutdownGrace     = 5 * time.Second
	dedupeSleep       = 100 * time.Millisecond
	readFailSleep     = 50 * time.Millisecond
	promptWarnChars   = 10000
)

// Config holds the per-ingestor tunables the engine's config.IngestorConfig
// loads from config/default.yaml; every instance is constructed with one of
// these rather than reading package-level constants, so tests (and a future
// per-camera override) can vary them independently.
type Config struct {
	TargetWidth               int
	TargetHeight              int
	DedupeThreshold           float64
	HistoryCapacity           int
	WarmupReads               int
	NetworkReconnectThreshold int
	LocalReconnectThreshold   int
}

// DefaultConfig mirrors spec.md's fixed defaults: 640x480, dedupe_threshold
// 3.0, history_capacity 20, warmup_reads 5, reconnect thresholds 30/10.
func DefaultConfig() Config {
	return Config{
		TargetWidth:               640,
		TargetHeight:              480,
		DedupeThreshold:           3.0,
		HistoryCapacity:           20,
		WarmupReads:               5,
		NetworkReconnectThreshold: 30,
		LocalReconnectThreshold:   10,
	}
}
