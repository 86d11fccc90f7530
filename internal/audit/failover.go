package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// SpoolDir defaults to a relative path; cmd/server overrides this via
	// ConfigureFailover once the platform data directory is resolved.
	SpoolDir           = "audit_spool"
	MaxSpoolSize int64 = 1024 * 1024 * 1024 // 1GB
)

func ConfigureFailover(dir string, maxMB int64) {
	if dir != "" {
		SpoolDir = dir
	}
	if maxMB > 0 {
		MaxSpoolSize = maxMB * 1024 * 1024
	}
	_ = os.MkdirAll(SpoolDir, 0750)
}

// SpoolEvent writes to a local file
func SpoolEvent(evt AuditEvent) error {
	// Check Bounds
	if isSpoolFull() {
		// rotateSpool frees no space, so the event below is still appended
		// when the spool is at or over MaxSpoolSize: the spool size is not
		// bounded.
		if err := rotateSpool(); err != nil {
			return fmt.Errorf("spool full and rotation failed: %v", err)
		}
	}

	payload := FailoverEvent{
		EventID:   evt.EventID.String(),
		Payload:   evt,
		Timestamp: time.Now(),
	}

	line, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// File Rotation by Name (hourly or by size?)
	// Simple strategy: current.log. append.
	filename := filepath.Join(SpoolDir, "audit_spool.log")

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}

	return nil
}

func isSpoolFull() bool {
	var size int64
	filepath.Walk(SpoolDir, func(_ string, info fs.FileInfo, err error) error {
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size >= MaxSpoolSize
}

// rotateSpool is a no-op: it neither rotates nor deletes any spool file and
// always returns nil.
func rotateSpool() error {
	return nil
}

// Replayer (Background Worker)
func (s *Service) StartReplayer(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReplaySpool(ctx)
			}
		}
	}()
}

var replayLock sync.Mutex

func (s *Service) ReplaySpool(ctx context.Context) {
	replayLock.Lock()
	defer replayLock.Unlock()

	filename := filepath.Join(SpoolDir, "audit_spool.log")
	info, err := os.Stat(filename)
	if os.IsNotExist(err) || info.Size() == 0 {
		return
	}

	// Rename to replay
	replayFile := filepath.Join(SpoolDir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err := os.Rename(filename, replayFile); err != nil {
		log.Printf("Failed to rotate spool for replay: %v", err)
		return
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var succeeded int
	var failed int

	for scanner.Scan() {
		var fe FailoverEvent
		if err := json.Unmarshal(scanner.Bytes(), &fe); err != nil {
			failed++
			continue
		}

		// Attempt Insert
		err := s.WriteEvent(ctx, fe.Payload) // This might recurse if DB still down!
		// But WriteEvent logic calls SpoolEvent on failure.
		// So if DB is down, we just re-spool it (creating new file).
		// This is acceptable loop, but we should prevent tight loop.
		// WriteEvent calls SpoolEvent -> appends to audit_spool.log
		// We are reading replay_xxx.log.
		// So it moves pending events back to spool if DB fails. Correct.
		if err == nil {
			succeeded++
		}
	}

	// Remove replay file (events either in DB or Re-Spooled)
	f.Close()
	os.Remove(replayFile)

	if succeeded > 0 {
		log.Printf("Audit Replay: %d events flushed", succeeded)
	}
}
