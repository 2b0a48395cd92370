package paths

import (
	"os"
	"path/filepath"
)

// ConfigDir returns the tcgen configuration directory, following XDG conventions:
// $XDG_CONFIG_HOME/tcgen or ~/.config/tcgen as fallback.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "tcgen"), nil
}

// DefaultConfigFile returns the config file looked up when -config is not given.
func DefaultConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tcgen.toml"), nil
}
