package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSaveSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	s := validSettings()
	s.Camera.Host = "192.0.2.9"
	s.Camera.Username = "admin"
	s.Recording.Retention.MaxStorage = "2GB"
	s.Notification.RareSpecies = []string{"bobcat"}

	require.NoError(t, SaveSettings(path, s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Settings
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, *s, got, "written file parses back to the same settings")
}

func TestSaveSettings_UnwritablePath(t *testing.T) {
	err := SaveSettings("/proc/nonexistent/config.yaml", validSettings())
	assert.Error(t, err)
}

func TestSetTestSettingsInstallsActiveInstance(t *testing.T) {
	s := validSettings()
	s.Main.Name = "test-node"
	SetTestSettings(s)

	assert.Same(t, s, Setting())
}
