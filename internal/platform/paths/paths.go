package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// defaultRoots returns the install/data root defaults for the running OS.
// The teacher hardcodes a single Windows Program Files/ProgramData pair;
// this engine runs on the NVR box itself, which is as often Linux as
// Windows, so the defaults are chosen per runtime.GOOS.
func defaultRoots() (installRoot, dataRoot string) {
	switch runtime.GOOS {
	case "windows":
		return `C:\Program Files\VMSWatch`, `C:\ProgramData\VMSWatch`
	case "darwin":
		home, _ := os.UserHomeDir()
		return "/usr/local/vms-watch", filepath.Join(home, "Library", "Application Support", "vms-watch")
	default:
		home, _ := os.UserHomeDir()
		dataRoot = filepath.Join(home, ".local", "share", "vms-watch")
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			dataRoot = filepath.Join(xdg, "vms-watch")
		}
		return "/opt/vms-watch", dataRoot
	}
}

// ResolveInstallRoot returns the absolute path to the install directory.
func ResolveInstallRoot() string {
	if root := os.Getenv("VMS_INSTALL_ROOT"); root != "" {
		return root
	}
	installRoot, _ := defaultRoots()
	return installRoot
}

// ResolveDataRoot returns the absolute path to the data directory (holds
// the sqlite store, logs, and the audit spool).
func ResolveDataRoot() string {
	if root := os.Getenv("VMS_DATA_ROOT"); root != "" {
		return root
	}
	_, dataRoot := defaultRoots()
	return dataRoot
}

// ResolveConfigPath returns the absolute path to the default configuration
// file, honoring an explicit override.
func ResolveConfigPath(customPath string) string {
	if customPath != "" {
		return customPath
	}
	return filepath.Join(ResolveDataRoot(), "config", "default.yaml")
}

// DBFile returns the absolute path to the sqlite database file under the
// data directory's db/ subdirectory.
func DBFile(name string) string {
	return filepath.Join(ResolveDataRoot(), "db", name)
}

// AuditSpoolDir returns the absolute path audit.SpoolEvent should write to.
func AuditSpoolDir() string {
	return filepath.Join(ResolveDataRoot(), "audit_spool")
}

// EnsureDirs creates the standard data subdirectories if they don't exist.
func EnsureDirs() error {
	dataRoot := ResolveDataRoot()
	subdirs := []string{
		"config",
		"logs",
		"db",
		"tmp",
		"audit_spool",
	}

	for _, sub := range subdirs {
		path := filepath.Join(dataRoot, sub)
		if err := os.MkdirAll(path, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// SafeJoin joins path elements and ensures the result stays within base
// (no traversal via absolute elements or "..").
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) || strings.HasPrefix(el, `\\`) {
			return "", fmt.Errorf("path traversal attempt detected: absolute path or UNC not allowed in elements: %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absBase, absJoined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}

	return absJoined, nil
}
