package brand

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	b := Get()
	assert.Equal(t, "aclsync", b.Name)
	assert.Equal(t, Name, b.Name)
	assert.Equal(t, "dev", Version)
	assert.NotEmpty(t, ConfigFileName)
	assert.NotEmpty(t, JournalFileName)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "aclsync/1.0.0", UserAgent("1.0.0"))
	assert.Equal(t, "aclsync/dev", UserAgent(""))
}

func TestDirectories(t *testing.T) {
	for _, kind := range []string{"PREFIX", "CONFIG_DIR", "STATE_DIR", "RUN_DIR"} {
		t.Setenv(ConfigEnvPrefix+"_"+kind, "")
	}

	assert.Equal(t, DefaultConfigDir, GetConfigDir())
	assert.Equal(t, DefaultStateDir, GetStateDir())
	assert.Equal(t, DefaultRunDir, GetRunDir())
	assert.Equal(t, "/etc/aclsync/aclsync.hcl", ConfigPath())

	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/tmp/aclsync")
	assert.Equal(t, "/tmp/aclsync/config", GetConfigDir())
	assert.Equal(t, "/tmp/aclsync/state/journal.db", JournalPath())
	assert.Equal(t, "/tmp/aclsync/run/aclsync.pid", PIDPath())

	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "/custom/config")
	assert.Equal(t, "/custom/config", GetConfigDir())
	assert.Equal(t, "/tmp/aclsync/state", GetStateDir())
}
