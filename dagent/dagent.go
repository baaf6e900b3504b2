// Package dagent holds application-wide defaults shared by the config, db and cmd layers.
package dagent

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName      = "dagent"
	DefaultDatabaseType = "libsql"
	DefaultEnvPrefix    = "DAGENT"
	DefaultListenAddr   = "127.0.0.1:8088"
)

var (
	// DefaultConfigPath is where system-wide configuration is looked up.
	DefaultConfigPath = filepath.Join(userConfigDir(), DefaultAppName)
	// DefaultDataDir holds the embedded database and other durable state.
	DefaultDataDir = filepath.Join(userDataDir(), DefaultAppName)
	// DefaultDatabaseDSN points at the embedded libsql file under DefaultDataDir.
	DefaultDatabaseDSN = "file:" + filepath.Join(DefaultDataDir, "dagent.db")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
