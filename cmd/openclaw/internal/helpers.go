package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mingtsay/openclaw/pkg/config"
)

const Logo = "🦞"

// ConfigEnv overrides the config file location.
const ConfigEnv = "OPENCLAW_CONFIG"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

func GetConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".openclaw")
}

// GetConfigPath returns $OPENCLAW_CONFIG, else the first of config.json,
// config.toml and config.yaml found in ~/.openclaw, else config.json.
func GetConfigPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	dir := GetConfigDir()
	for _, name := range []string{"config.json", "config.toml", "config.yaml", "config.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, "config.json")
}

func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(GetConfigPath())
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

// GetVersion returns the version string
func GetVersion() string {
	return version
}
