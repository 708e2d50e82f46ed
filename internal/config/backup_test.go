package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempConfigHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func TestBackupUserConfigNoExistingConfig(t *testing.T) {
	withTempConfigHome(t)
	path, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupUserConfigCreatesTimestampedFile(t *testing.T) {
	withTempConfigHome(t)
	require.NoError(t, os.MkdirAll(GetUserConfigDir(), 0o755))
	s := NewSettings()
	require.NoError(t, s.WriteYAML(GetUserConfigPath()))

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)
	assert.FileExists(t, backupPath)
}

func TestCleanupOldBackupsKeepsMaxBackups(t *testing.T) {
	withTempConfigHome(t)
	require.NoError(t, os.MkdirAll(GetUserConfigDir(), 0o755))
	s := NewSettings()
	require.NoError(t, s.WriteYAML(GetUserConfigPath()))

	for i := 0; i < MaxBackups+3; i++ {
		_, err := BackupUserConfig()
		require.NoError(t, err)
	}

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestRestoreUserConfig(t *testing.T) {
	withTempConfigHome(t)
	require.NoError(t, os.MkdirAll(GetUserConfigDir(), 0o755))
	original := NewSettings()
	original.SearchTopK = 99
	require.NoError(t, original.WriteYAML(GetUserConfigPath()))

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	mutated := NewSettings()
	mutated.SearchTopK = 1
	require.NoError(t, mutated.WriteYAML(GetUserConfigPath()))

	require.NoError(t, RestoreUserConfig(backupPath))

	restored, err := LoadUserConfig()
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, 99, restored.SearchTopK)
}
