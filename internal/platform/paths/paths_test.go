package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveRoots(t *testing.T) {
	os.Unsetenv("VMS_INSTALL_ROOT")
	os.Unsetenv("VMS_DATA_ROOT")

	// defaults are non-empty and OS-appropriate; exact value is platform
	// dependent (see defaultRoots), so just assert an override takes effect.
	assert.NotEmpty(t, ResolveInstallRoot())
	assert.NotEmpty(t, ResolveDataRoot())

	customInstall := filepath.Join(os.TempDir(), "custom_install")
	customData := filepath.Join(os.TempDir(), "custom_data")
	os.Setenv("VMS_INSTALL_ROOT", customInstall)
	os.Setenv("VMS_DATA_ROOT", customData)
	defer os.Unsetenv("VMS_INSTALL_ROOT")
	defer os.Unsetenv("VMS_DATA_ROOT")

	assert.Equal(t, customInstall, ResolveInstallRoot())
	assert.Equal(t, customData, ResolveDataRoot())
}

func TestSafeJoin(t *testing.T) {
	base := filepath.Join(os.TempDir(), "vms_safejoin_base")

	cases := []struct {
		name     string
		elements []string
		valid    bool
	}{
		{"normal", []string{"logs", "app.log"}, true},
		{"parent", []string{"..", "other"}, false},
		{"nested_parent", []string{"logs", "..", "..", "secrets"}, false},
		{"absolute", []string{os.TempDir()}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := SafeJoin(base, tc.elements...)
			if tc.valid {
				assert.NoError(t, err)
				assert.Contains(t, res, base)
			} else {
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), "traversal")
				}
			}
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	tmpRoot := filepath.Join(os.TempDir(), "vms_test_data")
	os.Setenv("VMS_DATA_ROOT", tmpRoot)
	defer os.Unsetenv("VMS_DATA_ROOT")
	defer os.RemoveAll(tmpRoot)

	err := EnsureDirs()
	assert.NoError(t, err)

	subdirs := []string{"config", "logs", "db", "tmp", "audit_spool"}
	for _, sub := range subdirs {
		_, err := os.Stat(filepath.Join(tmpRoot, sub))
		assert.NoError(t, err, "subdirectory %s should exist", sub)
	}
}

func TestDBFile(t *testing.T) {
	os.Setenv("VMS_DATA_ROOT", filepath.Join(os.TempDir(), "vms_dbfile_test"))
	defer os.Unsetenv("VMS_DATA_ROOT")

	got := DBFile("watch.db")
	assert.Equal(t, filepath.Join(ResolveDataRoot(), "db", "watch.db"), got)
}
