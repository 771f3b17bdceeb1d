package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the name of the configuration file looked up in the
// working directory and the XDG config directories.
const DefaultFileName = "nedots.json"

// DefaultRemote is used when neither the config nor the CLI names a remote.
const DefaultRemote = "origin"

// ErrNotFound is returned by Find when no configuration file exists.
var ErrNotFound = errors.New("config file not found")

// Config represents the complete nedots configuration
type Config struct {
	// Path is the managed directory. Relative paths are resolved under $HOME.
	Path string `json:"path" yaml:"path"`
	// Root lists absolute paths that need elevated privilege to copy.
	Root []string `json:"root" yaml:"root"`
	// User lists paths relative to $HOME.
	User []string `json:"user" yaml:"user"`

	Remote string `json:"remote,omitempty" yaml:"remote,omitempty"`
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`

	Packages Packages `json:"packages" yaml:"packages"`
}

// Packages is parsed for compatibility with existing nedots.json files.
// Nothing in nedots installs them.
type Packages struct {
	Core    DistroPackages  `json:"core" yaml:"core"`
	X11     DistroPackages  `json:"x11" yaml:"x11"`
	Wayland DistroPackages  `json:"wayland" yaml:"wayland"`
	Flatpak []FlatpakRemote `json:"flatpak" yaml:"flatpak"`
}

// DistroPackages lists package names per distribution.
type DistroPackages struct {
	Fedora []string `json:"fedora" yaml:"fedora"`
}

// FlatpakRemote is a flatpak remote and the packages installed from it.
type FlatpakRemote struct {
	Remote   string   `json:"remote" yaml:"remote"`
	URL      string   `json:"url" yaml:"url"`
	Packages []string `json:"packages" yaml:"packages"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	return LoadWithPath(path, "")
}

// LoadWithPath is Load with the managed directory replaced by dataPath when
// it is set. The file may then omit path entirely.
func LoadWithPath(path, dataPath string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decode(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if dataPath != "" {
		cfg.Path = dataPath
	}

	if err := cfg.prepare(); err != nil {
		return nil, err
	}

	if err := cfg.ResolvePath(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes, expands and validates configuration bytes. JSON is decoded
// with encoding/json; anything else is treated as YAML.
func Parse(data []byte, ext string) (*Config, error) {
	cfg, err := decode(data, ext)
	if err != nil {
		return nil, err
	}
	if err := cfg.prepare(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file, is it badly formatted?: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file, is it badly formatted?: %w", err)
		}
	}
	return &cfg, nil
}

func (c *Config) prepare() error {
	c.expandEnv()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Find returns the config file to load. An explicit path always wins;
// otherwise ./nedots.json and then $XDG_CONFIG_HOME/nedots/nedots.json
// (and the XDG_CONFIG_DIRS fallbacks) are tried.
func Find(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName, nil
	}

	path, err := xdg.SearchConfigFile(filepath.Join("nedots", DefaultFileName))
	if err != nil {
		return "", fmt.Errorf("%w: tried ./%s and the XDG config directories", ErrNotFound, DefaultFileName)
	}
	return path, nil
}

// expandEnv expands environment variables in all path fields
func (c *Config) expandEnv() {
	c.Path = os.ExpandEnv(c.Path)
	for i := range c.Root {
		c.Root[i] = os.ExpandEnv(c.Root[i])
	}
	for i := range c.User {
		c.User[i] = os.ExpandEnv(c.User[i])
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Remote == "" {
		c.Remote = DefaultRemote
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}

	for _, p := range c.Root {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("root paths must be absolute: %s", p)
		}
	}

	for _, p := range c.User {
		if p == "" {
			return fmt.Errorf("user paths must not be empty")
		}
	}

	return nil
}

// ResolvePath makes Path absolute. A path that does not exist as given is
// looked up under $HOME; if that fails too the managed directory is
// unusable.
func (c *Config) ResolvePath() error {
	if filepath.IsAbs(c.Path) {
		if _, err := os.Stat(c.Path); err != nil {
			return fmt.Errorf("could not resolve path %q: %w", c.Path, err)
		}
		return nil
	}

	if _, err := os.Stat(c.Path); err == nil {
		abs, err := filepath.Abs(c.Path)
		if err != nil {
			return fmt.Errorf("could not resolve path %q: %w", c.Path, err)
		}
		c.Path = abs
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}

	candidate := filepath.Join(home, c.Path)
	if _, err := os.Stat(candidate); err != nil {
		return fmt.Errorf("could not resolve path %q: %w", c.Path, err)
	}
	c.Path = candidate
	return nil
}

// ManagedDir returns the version-controlled directory holding the copies.
func (c *Config) ManagedDir() string {
	return c.Path
}

// RemoteOr returns override when set, otherwise the configured remote.
func (c *Config) RemoteOr(override string) string {
	if override != "" {
		return override
	}
	return c.Remote
}

// BranchOr returns override when set, otherwise the configured branch
// (which may be empty, meaning the current branch).
func (c *Config) BranchOr(override string) string {
	if override != "" {
		return override
	}
	return c.Branch
}
