// Package config loads mdibctl settings from HuJSON files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/consumer"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/provider"
)

var (
	ErrFileNotFound = errors.New("config file not found")
	ErrFileRead     = errors.New("cannot read config file")
	ErrInvalid      = errors.New("invalid config file")
)

// FileName is the project config file looked up in the working directory.
const FileName = ".mdibctl.json"

// Config holds all settings.
type Config struct {
	// SequenceID of the simulated device; generated when empty.
	SequenceID string `json:"sequence_id,omitempty"`

	// Snapshot is the device description to load; the built-in demo device
	// is used when empty.
	Snapshot string `json:"snapshot,omitempty"`

	WaveformCapacity int    `json:"waveform_capacity,omitempty"`
	BufferPolicy     string `json:"buffer_policy,omitempty"`
	ExpectGaps       *bool  `json:"expect_gaps,omitempty"`
	LogLevel         string `json:"log_level,omitempty"`

	// WorkDir is the absolute working directory, from -C or os.Getwd.
	WorkDir string `json:"-"`

	// Sources tracks which files were loaded, for print-config.
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string
	Project string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		WaveformCapacity: consumer.DefaultWaveformCapacity,
		BufferPolicy:     consumer.PolicyBuffer.String(),
		LogLevel:         logrus.WarnLevel.String(),
	}
}

// globalPath returns $XDG_CONFIG_HOME/mdibctl/config.json, falling back to
// ~/.config. Empty if neither is known.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "mdibctl", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "mdibctl", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDir    string            // working directory; os.Getwd() if empty
	ConfigPath string            // explicit config file, must exist if set
	Overrides  Config            // command line values; zero fields are ignored
	Env        map[string]string // environment
}

// Load merges, lowest to highest precedence: defaults, the global config,
// the project config (.mdibctl.json in WorkDir) or the explicit file, and the
// overrides. Relative snapshot paths are resolved against the directory of
// the file that set them.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDir
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if path := globalPath(input.Env); path != "" {
		global, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, resolve(global, filepath.Dir(path)))
			cfg.Sources.Global = path
		}
	}

	projectPath := filepath.Join(workDir, FileName)
	mustExist := false

	if input.ConfigPath != "" {
		projectPath = input.ConfigPath
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		mustExist = true
	}

	project, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, resolve(project, filepath.Dir(projectPath)))
		cfg.Sources.Project = projectPath
	}

	cfg = merge(cfg, resolve(input.Overrides, workDir))

	err = cfg.validate()
	if err != nil {
		return Config{}, err
	}

	cfg.WorkDir, err = filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolving working directory: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}

			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w %s: %w", ErrFileRead, path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse decodes a HuJSON config document.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func resolve(cfg Config, dir string) Config {
	if cfg.Snapshot != "" && !filepath.IsAbs(cfg.Snapshot) {
		cfg.Snapshot = filepath.Join(dir, cfg.Snapshot)
	}

	return cfg
}

func merge(base, overlay Config) Config {
	if overlay.SequenceID != "" {
		base.SequenceID = overlay.SequenceID
	}

	if overlay.Snapshot != "" {
		base.Snapshot = overlay.Snapshot
	}

	if overlay.WaveformCapacity != 0 {
		base.WaveformCapacity = overlay.WaveformCapacity
	}

	if overlay.BufferPolicy != "" {
		base.BufferPolicy = overlay.BufferPolicy
	}

	if overlay.ExpectGaps != nil {
		v := *overlay.ExpectGaps
		base.ExpectGaps = &v
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	return base
}

func (c Config) validate() error {
	if c.WaveformCapacity <= 0 {
		return fmt.Errorf("%w: waveform_capacity must be positive, got %d", ErrInvalid, c.WaveformCapacity)
	}

	_, err := c.Policy()
	if err != nil {
		return err
	}

	_, err = logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}

	return nil
}

// Policy returns the consumer policy named by BufferPolicy.
func (c Config) Policy() (consumer.Policy, error) {
	switch c.BufferPolicy {
	case consumer.PolicyBuffer.String():
		return consumer.PolicyBuffer, nil
	case consumer.PolicyBlock.String():
		return consumer.PolicyBlock, nil
	default:
		return 0, fmt.Errorf("%w: buffer_policy must be %q or %q, got %q",
			ErrInvalid, consumer.PolicyBuffer, consumer.PolicyBlock, c.BufferPolicy)
	}
}

// NewLogger returns a text logger writing to out at the configured level.
func (c Config) NewLogger(out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}

	return log
}

// ProviderConfig returns the settings of the simulated device.
func (c Config) ProviderConfig(log *logrus.Logger) provider.Config {
	return provider.Config{SequenceID: c.SequenceID, Logger: log}
}

// ConsumerConfig returns the settings of the replica.
func (c Config) ConsumerConfig(log *logrus.Logger) consumer.Config {
	policy, _ := c.Policy()

	return consumer.Config{
		Policy:           policy,
		WaveformCapacity: c.WaveformCapacity,
		ExpectGaps:       c.ExpectGaps != nil && *c.ExpectGaps,
		Logger:           log,
	}
}

// Format renders the effective settings as indented JSON.
func Format(c Config) (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("formatting config: %w", err)
	}

	return string(data), nil
}
