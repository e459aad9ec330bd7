package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"port": 9000, "base": "/graphs", "modelDir": "/data", "cacheLimit": 3, "logFormatter": "json"}`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, c.Port)
	assert.Equal(t, "/graphs", c.Base)
	assert.Equal(t, "/data", c.ModelDir)
	assert.Equal(t, filepath.Join("/data", DefaultRegistryDB), c.RegistryDB)
	assert.Equal(t, 3, c.CacheLimit)
	assert.Equal(t, DefaultLimiterRate, c.LimiterRate)
	assert.Equal(t, "json", c.LogFormatter)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "port: 8100\nrate: 5-M\nregistryDB: /tmp/r.db\nverbose: 2\n")
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8100, c.Port)
	assert.Equal(t, "5-M", c.LimiterRate)
	assert.Equal(t, "/tmp/r.db", c.RegistryDB)
	assert.Equal(t, 2, c.Verbose)
	assert.Equal(t, DefaultModelDir, c.ModelDir)
	assert.Equal(t, DefaultCacheLimit, c.CacheLimit)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "bad.json", `{"port": "x"}`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "bad.yml", "port: [1, 2"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "tls.json", `{"serverKey": "k.pem"}`))
	require.ErrorContains(t, err, "serverKey and serverCrt")

	_, err = Load(writeConfig(t, "fmt.json", `{"logFormatter": "xml"}`))
	require.ErrorContains(t, err, "unknown log formatter")
}

func TestDefaultAndString(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, DefaultPort, c.Port)
	assert.Contains(t, c.String(), "port=8083")
	assert.Contains(t, c.String(), "rate=100-S")
}
