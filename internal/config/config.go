// Package config holds the model server configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Configuration stores server configuration parameters.
type Configuration struct {
	Port         int    `json:"port" yaml:"port"`                 // server port number
	Base         string `json:"base" yaml:"base"`                 // server base path
	ModelDir     string `json:"modelDir" yaml:"modelDir"`         // location of frozen graphs
	RegistryDB   string `json:"registryDB" yaml:"registryDB"`     // sqlite file of the model registry
	LogFile      string `json:"logFile" yaml:"logFile"`           // log file prefix, rotated daily
	LogFormatter string `json:"logFormatter" yaml:"logFormatter"` // text or json
	Verbose      int    `json:"verbose" yaml:"verbose"`           // verbosity level
	CacheLimit   int    `json:"cacheLimit" yaml:"cacheLimit"`     // number of graphs to keep in memory
	LimiterRate  string `json:"rate" yaml:"rate"`                 // limiter rate, e.g. 100-S
	ServerKey    string `json:"serverKey" yaml:"serverKey"`       // server key for https
	ServerCrt    string `json:"serverCrt" yaml:"serverCrt"`       // server certificate for https
}

// Defaults used for unset fields.
const (
	DefaultPort        = 8083
	DefaultModelDir    = "models"
	DefaultRegistryDB  = "registry.sqlite3"
	DefaultCacheLimit  = 10
	DefaultLimiterRate = "100-S"
)

// Default returns a configuration with every default applied.
func Default() *Configuration {
	c := &Configuration{}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields.
func (c *Configuration) SetDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ModelDir == "" {
		c.ModelDir = DefaultModelDir
	}
	if c.RegistryDB == "" {
		c.RegistryDB = filepath.Join(c.ModelDir, DefaultRegistryDB)
	}
	if c.CacheLimit == 0 {
		c.CacheLimit = DefaultCacheLimit
	}
	if c.LimiterRate == "" {
		c.LimiterRate = DefaultLimiterRate
	}
	if c.LogFormatter == "" {
		c.LogFormatter = "text"
	}
}

// Validate reports settings the server cannot run with.
func (c *Configuration) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.CacheLimit < 0 {
		return fmt.Errorf("invalid cache limit %d", c.CacheLimit)
	}
	switch c.LogFormatter {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log formatter %q", c.LogFormatter)
	}
	if (c.ServerKey == "") != (c.ServerCrt == "") {
		return fmt.Errorf("serverKey and serverCrt must be set together")
	}
	return nil
}

// Load reads a JSON or YAML (.yaml, .yml) configuration file and applies
// defaults.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config
	if err != nil {
		return nil, fmt.Errorf("unable to read config: %w", err)
	}
	c := &Configuration{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to parse config %s: %w", path, err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// String returns string representation of server configuration.
func (c *Configuration) String() string {
	return fmt.Sprintf("<Config port=%d base=%s modelDir=%s registry=%s verbose=%d log=%s formatter=%s cache=%d rate=%s crt=%s key=%s>",
		c.Port, c.Base, c.ModelDir, c.RegistryDB, c.Verbose, c.LogFile, c.LogFormatter, c.CacheLimit, c.LimiterRate, c.ServerCrt, c.ServerKey)
}
