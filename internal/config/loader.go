package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "rkflash"
	configFile = "config.yaml"
)

// saveMu serialises Save calls within the process
var saveMu sync.Mutex

// GetConfigDir returns the directory holding the rkflash config file.
// XDG_CONFIG_HOME wins on every platform; otherwise macOS uses ~/.config
// and the rest follow os.UserConfigDir.
func GetConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".config", appName), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appName), nil
}

// GetConfigPath returns the default config file location
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// resolve fills in the default path
func resolve(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	p, err := GetConfigPath()
	if err != nil {
		return "", fmt.Errorf("no config path: %w", err)
	}
	return p, nil
}

// Load reads the configuration at path, or at GetConfigPath when path is
// empty. A missing file yields the defaults. Missing sections are filled
// with defaults too.
func Load(path string) (*Config, error) {
	path, err := resolve(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{Transfer: defaultTransfer()}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Transfer == nil {
		cfg.Transfer = defaultTransfer()
	}
	if cfg.Devices == nil {
		cfg.Devices = make(map[string]*Device)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path, or to GetConfigPath when path is
// empty. The file is replaced atomically.
func (c *Config) Save(path string) error {
	saveMu.Lock()
	defer saveMu.Unlock()

	path, err := resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir %s: %w", dir, err)
	}

	body, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+configFile+"-*")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer os.Remove(tmp.Name())

	fmt.Fprintf(tmp, "# rkflash configuration (%s)\n# transfer tuning, extra USB product IDs and devices seen\n\n", path)
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config %s: %w", path, err)
	}
	return nil
}
