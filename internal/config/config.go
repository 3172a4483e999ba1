// Package config loads image_matcher settings from defaults, an optional
// TOML file, IMAGE_MATCHER_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

const (
	// DefaultConfigName is the file stem searched for in the working directory.
	DefaultConfigName = "image_matcher"

	envPrefix = "IMAGE_MATCHER"

	BackendORB       = "orb"
	BackendPatchHash = "patchhash"

	MatcherBF    = "bf"
	MatcherFLANN = "flann"
)

type Config struct {
	Dataset  DatasetConfig  `toml:"dataset" mapstructure:"dataset"`
	Query    QueryConfig    `toml:"query" mapstructure:"query"`
	Matching MatchingConfig `toml:"matching" mapstructure:"matching"`
	Video    VideoConfig    `toml:"video" mapstructure:"video"`
	Debug    bool           `toml:"debug" mapstructure:"debug"`
}

type DatasetConfig struct {
	// Dir holds the template images indexed at startup.
	Dir string `toml:"dir" mapstructure:"dir"`

	// Workers bounds the feature extraction pool. 0 means one per CPU.
	Workers int `toml:"workers" mapstructure:"workers"`
}

type QueryConfig struct {
	// Dir is prepended to every filename typed at the prompt.
	Dir string `toml:"dir" mapstructure:"dir"`

	// Example is matched once right after startup when it exists in Dir.
	Example string `toml:"example" mapstructure:"example"`

	// HistoryFile receives one CSV row per query. Empty disables history.
	HistoryFile string `toml:"history_file" mapstructure:"history_file"`

	// Top is how many ranked candidates are printed per query.
	Top int `toml:"top" mapstructure:"top"`
}

type MatchingConfig struct {
	Backend     string  `toml:"backend" mapstructure:"backend"`
	Matcher     string  `toml:"matcher" mapstructure:"matcher"`
	MaxFeatures int     `toml:"max_features" mapstructure:"max_features"`
	Ratio       float64 `toml:"ratio" mapstructure:"ratio"`
	Workers     int     `toml:"workers" mapstructure:"workers"`

	// VariantSuffixes are stripped from matched names after the extension,
	// so "cat_flipped.png" is reported as "cat".
	VariantSuffixes []string `toml:"variant_suffixes" mapstructure:"variant_suffixes"`
}

type VideoConfig struct {
	// Position picks the frame of a video query as a fraction of its duration.
	Position float64 `toml:"position" mapstructure:"position"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Dir:     "dataset",
			Workers: runtime.NumCPU(),
		},
		Query: QueryConfig{
			Dir:     "predict",
			Example: "pikachu.png",
			Top:     1,
		},
		Matching: MatchingConfig{
			Backend:         BackendORB,
			Matcher:         MatcherBF,
			MaxFeatures:     500,
			Ratio:           0.35,
			Workers:         runtime.NumCPU(),
			VariantSuffixes: []string{"_flipped"},
		},
		Video: VideoConfig{
			Position: 0.5,
		},
	}
}

// InitViper returns a viper instance seeded with defaults, the config file
// and the environment. An explicit configFile must exist; without one,
// image_matcher.toml in the working directory is used when present.
//
// Precedence (highest first): bound flags, IMAGE_MATCHER_* env, file, defaults.
func InitViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setViperDefaults(v)

	v.SetConfigType("toml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if configFile != "" || !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("debug", d.Debug)

	v.SetDefault("dataset.dir", d.Dataset.Dir)
	v.SetDefault("dataset.workers", d.Dataset.Workers)

	v.SetDefault("query.dir", d.Query.Dir)
	v.SetDefault("query.example", d.Query.Example)
	v.SetDefault("query.history_file", d.Query.HistoryFile)
	v.SetDefault("query.top", d.Query.Top)

	v.SetDefault("matching.backend", d.Matching.Backend)
	v.SetDefault("matching.matcher", d.Matching.Matcher)
	v.SetDefault("matching.max_features", d.Matching.MaxFeatures)
	v.SetDefault("matching.ratio", d.Matching.Ratio)
	v.SetDefault("matching.workers", d.Matching.Workers)
	v.SetDefault("matching.variant_suffixes", d.Matching.VariantSuffixes)

	v.SetDefault("video.position", d.Video.Position)
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Dataset.Dir == "" {
		return errors.New("dataset.dir must not be empty")
	}
	if c.Dataset.Workers < 0 {
		return fmt.Errorf("dataset.workers must be >= 0, got %d", c.Dataset.Workers)
	}
	if c.Query.Top < 1 {
		return fmt.Errorf("query.top must be >= 1, got %d", c.Query.Top)
	}
	if c.Matching.Ratio <= 0 || c.Matching.Ratio > 1 {
		return fmt.Errorf("matching.ratio must be in (0, 1], got %.3f", c.Matching.Ratio)
	}
	if c.Matching.Workers < 0 {
		return fmt.Errorf("matching.workers must be >= 0, got %d", c.Matching.Workers)
	}
	if c.Matching.MaxFeatures < 1 {
		return fmt.Errorf("matching.max_features must be >= 1, got %d", c.Matching.MaxFeatures)
	}
	switch c.Matching.Backend {
	case BackendORB, BackendPatchHash:
	default:
		return fmt.Errorf("unknown matching.backend %q (want %q or %q)", c.Matching.Backend, BackendORB, BackendPatchHash)
	}
	switch c.Matching.Matcher {
	case MatcherBF, MatcherFLANN:
	default:
		return fmt.Errorf("unknown matching.matcher %q (want %q or %q)", c.Matching.Matcher, MatcherBF, MatcherFLANN)
	}
	if c.Video.Position < 0 || c.Video.Position > 1 {
		return fmt.Errorf("video.position must be in [0, 1], got %.3f", c.Video.Position)
	}
	return nil
}

// WriteDefault writes the default configuration as TOML to path. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(NewDefaultConfig()); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
