package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// DefaultFileName is the name of the mirrors configuration file.
const DefaultFileName = "mirrors.yml"

// ErrMirrorNotFound is returned by Config.Mirror when the requested name is not configured.
var ErrMirrorNotFound = errors.New("mirror not found in configuration")

// ErrConfigNotFound is returned by Load when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// mirrorNamePattern restricts names to characters that are safe inside a file name,
// since the name is used to derive the lock and history file paths.
var mirrorNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// BWLimit is the rsync bandwidth limit. It is passed to rsync verbatim, so both
// `bwlimit: 10000` and `bwlimit: 5m` are accepted.
type BWLimit string

// UnmarshalYAML accepts any scalar and keeps its literal text.
func (b *BWLimit) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: bwlimit must be a scalar value", value.Line)
	}
	*b = BWLimit(value.Value)
	return nil
}

// Hooks holds shell commands executed around a sync.
// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
type Hooks struct {
	PreSync  []string `yaml:"pre_sync,omitempty"`
	PostSync []string `yaml:"post_sync,omitempty"`
}

// Mirror describes one upstream-to-local synchronization target.
type Mirror struct {
	// Name is the key of the mirror in the configuration file.
	Name      string   `yaml:"-"`
	Upstream  string   `yaml:"upstream"`
	LocalPath string   `yaml:"local_path"`
	BWLimit   BWLimit  `yaml:"bwlimit,omitempty"`
	Include   []string `yaml:"include,omitempty"`
	Exclude   []string `yaml:"exclude,omitempty"`
	// Schedule is a standard five-field cron expression used by the daemon.
	Schedule string `yaml:"schedule,omitempty"`
	Hooks    Hooks  `yaml:"hooks,omitempty"`
}

// Config is the validated set of mirrors loaded from a configuration file.
type Config struct {
	// Path is the file the configuration was loaded from, empty for in-memory configs.
	Path    string
	Mirrors map[string]Mirror
}

// Default returns the starter configuration written by the init command.
func Default() Config {
	return Config{
		Mirrors: map[string]Mirror{
			"ubuntu": {
				Name:      "ubuntu",
				Upstream:  "rsync://rsync.releases.ubuntu.com/releases/",
				LocalPath: "./mirrors/ubuntu",
				BWLimit:   "10000",
				Schedule:  "0 3,15 * * *",
			},
		},
	}
}

// Load reads, validates and normalizes the configuration at path. Relative
// local paths are resolved against the directory containing the file.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for config %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, absPath)
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", absPath, err)
	}

	plog.Debug("Loading configuration", "path", absPath)
	cfg, err := Parse(data, filepath.Dir(absPath))
	if err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}
	cfg.Path = absPath
	return cfg, nil
}

// Parse decodes YAML mirror definitions, validates them and resolves local
// paths against baseDir.
func Parse(data []byte, baseDir string) (Config, error) {
	var raw map[string]Mirror
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	cfg := Config{Mirrors: make(map[string]Mirror, len(raw))}
	for name, m := range raw {
		m.Name = name
		cfg.Mirrors[name] = m
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := cfg.normalizePaths(baseDir); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every mirror for required keys and well-formed optional fields.
func (c *Config) Validate() error {
	if len(c.Mirrors) == 0 {
		return errors.New("configuration defines no mirrors")
	}

	for _, name := range c.Names() {
		m := c.Mirrors[name]
		if !mirrorNamePattern.MatchString(name) {
			return fmt.Errorf("invalid mirror name '%s': only letters, digits, '.', '_' and '-' are allowed", name)
		}
		if strings.TrimSpace(m.Upstream) == "" {
			return fmt.Errorf("missing required key 'upstream' for mirror '%s'", name)
		}
		if strings.TrimSpace(m.LocalPath) == "" {
			return fmt.Errorf("missing required key 'local_path' for mirror '%s'", name)
		}
		if err := validatePatterns(name, "include", m.Include); err != nil {
			return err
		}
		if err := validatePatterns(name, "exclude", m.Exclude); err != nil {
			return err
		}
		if m.Schedule != "" {
			if _, err := cron.ParseStandard(m.Schedule); err != nil {
				return fmt.Errorf("invalid schedule '%s' for mirror '%s': %w", m.Schedule, name, err)
			}
		}
		if len(m.Include) > 0 && len(m.Exclude) > 0 {
			plog.Warn("Mirror sets both include and exclude; exclude patterns are ignored", "mirror", name)
		}
	}
	return nil
}

func validatePatterns(mirror, field string, patterns []string) error {
	for i, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty %s pattern at index %d for mirror '%s'", field, i, mirror)
		}
	}
	return nil
}

func (c *Config) normalizePaths(baseDir string) error {
	for name, m := range c.Mirrors {
		abs, err := util.ResolvePath(baseDir, m.LocalPath)
		if err != nil {
			return fmt.Errorf("could not resolve local_path for mirror '%s': %w", name, err)
		}
		m.LocalPath = abs
		c.Mirrors[name] = m
	}
	return nil
}

// Mirror returns the named mirror or an error wrapping ErrMirrorNotFound.
func (c Config) Mirror(name string) (Mirror, error) {
	m, ok := c.Mirrors[name]
	if !ok {
		return Mirror{}, fmt.Errorf("%w: '%s'", ErrMirrorNotFound, name)
	}
	return m, nil
}

// Names returns the configured mirror names in sorted order.
func (c Config) Names() []string {
	names := make([]string, 0, len(c.Mirrors))
	for name := range c.Mirrors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate writes cfg as YAML to path. It refuses to overwrite an existing file.
func Generate(path string, cfg Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot access config path %s: %w", path, err)
	}

	data, err := yaml.Marshal(cfg.Mirrors)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", path)
	return nil
}

// LogSummary logs the loaded mirrors at debug level.
func (c Config) LogSummary() {
	plog.Debug("Configuration loaded", "path", c.Path, "mirrors", len(c.Mirrors))
	for _, name := range c.Names() {
		m := c.Mirrors[name]
		plog.Debug("Mirror",
			"name", name,
			"upstream", m.Upstream,
			"local_path", m.LocalPath,
			"bwlimit", string(m.BWLimit),
			"include", len(m.Include),
			"exclude", len(m.Exclude),
			"schedule", m.Schedule)
	}
}
