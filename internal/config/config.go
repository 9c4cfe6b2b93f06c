package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Input      Input      `yaml:"input"`
	Clustering Clustering `yaml:"clustering"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

type Input struct {
	Matrix string `yaml:"matrix"`
	Roster string `yaml:"roster"`
}

type Clustering struct {
	NoiseThreshold            int  `yaml:"noise_threshold"`
	MinGroups                 int  `yaml:"min_groups"`
	MeaningfulDifferenceLimit int  `yaml:"meaningful_difference_limit"`
	DisplayDifferenceLimit    int  `yaml:"display_difference_limit"`
	Trace                     bool `yaml:"trace"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for votecluster.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "votecluster")
}

// DataDir returns the XDG data directory for votecluster.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "votecluster")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/votecluster/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'votecluster init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Clustering: Clustering{
			NoiseThreshold:            100,
			MinGroups:                 1,
			MeaningfulDifferenceLimit: 600,
			DisplayDifferenceLimit:    350,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the clustering cannot run with.
func (c *Config) Validate() error {
	cl := c.Clustering
	if cl.NoiseThreshold < 0 {
		return fmt.Errorf("clustering.noise_threshold must not be negative, got %d", cl.NoiseThreshold)
	}
	if cl.MinGroups < 1 {
		return fmt.Errorf("clustering.min_groups must be at least 1, got %d", cl.MinGroups)
	}
	if cl.DisplayDifferenceLimit > cl.MeaningfulDifferenceLimit {
		return fmt.Errorf("clustering.display_difference_limit (%d) exceeds meaningful_difference_limit (%d)",
			cl.DisplayDifferenceLimit, cl.MeaningfulDifferenceLimit)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
