// Package brand holds the product identity and the default filesystem
// layout. The identity is embedded from brand.json so packaging scripts
// can read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information
type Brand struct {
	Name             string `json:"name"`
	LowerName        string `json:"lowerName"`
	Vendor           string `json:"vendor"`
	Website          string `json:"website"`
	Repository       string `json:"repository"`
	Description      string `json:"description"`
	ConfigEnvPrefix  string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	DefaultStateDir  string `json:"defaultStateDir"`
	DefaultRunDir    string `json:"defaultRunDir"`
	BinaryName       string `json:"binaryName"`
	ServiceName      string `json:"serviceName"`
	ConfigFileName   string `json:"configFileName"`
	JournalFileName  string `json:"journalFileName"`
	License          string `json:"license"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Vendor = b.Vendor
	Website = b.Website
	Repository = b.Repository
	Description = b.Description
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	DefaultStateDir = b.DefaultStateDir
	DefaultRunDir = b.DefaultRunDir
	BinaryName = b.BinaryName
	ServiceName = b.ServiceName
	ConfigFileName = b.ConfigFileName
	JournalFileName = b.JournalFileName
	License = b.License
}

var (
	Name             string
	LowerName        string
	Vendor           string
	Website          string
	Repository       string
	Description      string
	ConfigEnvPrefix  string
	DefaultConfigDir string
	DefaultStateDir  string
	DefaultRunDir    string
	BinaryName       string
	ServiceName      string
	ConfigFileName   string
	JournalFileName  string
	License          string

	// Version is set at build time via -ldflags
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Get returns the full Brand struct
func Get() Brand {
	return b
}

// UserAgent returns a User-Agent string for HTTP requests
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return Name + "/" + version
}

// dir resolves one directory. Priority: <PREFIX>_<KIND>_DIR, then
// <PREFIX>_PREFIX/<sub>, then the default.
func dir(kind, sub, def string) string {
	if d := os.Getenv(ConfigEnvPrefix + "_" + kind + "_DIR"); d != "" {
		return d
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, sub)
	}
	return def
}

// GetConfigDir returns the config directory, checking env vars first.
func GetConfigDir() string {
	return dir("CONFIG", "config", DefaultConfigDir)
}

// GetStateDir returns the state directory, checking env vars first.
func GetStateDir() string {
	return dir("STATE", "state", DefaultStateDir)
}

// GetRunDir returns the runtime directory for the PID file.
func GetRunDir() string {
	return dir("RUN", "run", DefaultRunDir)
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// JournalPath returns the default transaction journal path.
func JournalPath() string {
	return filepath.Join(GetStateDir(), JournalFileName)
}

// PIDPath returns the daemon PID file path.
func PIDPath() string {
	return filepath.Join(GetRunDir(), LowerName+".pid")
}
