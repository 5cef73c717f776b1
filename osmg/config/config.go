package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	internal "github.com/ZanzyTHEbar/osmgraph/osmg"
)

var ErrInvalid = errors.New("invalid configuration")

// Config stores all configuration of a conversion run.
// The values are read by viper from flags, environment variables and an
// optional config file, in that order of priority.
type Config struct {
	Input   string        `mapstructure:"input"`
	Tags    string        `mapstructure:"tags"`
	Output  OutputConfig  `mapstructure:"output"`
	Sort    SortConfig    `mapstructure:"sort"`
	Verify  bool          `mapstructure:"verify"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// OutputConfig controls where and how results are published.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
	// KeepSourceIDs appends the source OSM id as a fourth node field.
	KeepSourceIDs bool `mapstructure:"keep_source_ids"`
}

// SortConfig stores external sort settings.
type SortConfig struct {
	MemoryMB       int64  `mapstructure:"memory_mb"`
	CompressSpills bool   `mapstructure:"compress_spills"`
	TempDir        string `mapstructure:"temp_dir"`
}

type MetricsConfig struct {
	File string `mapstructure:"file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MemoryBudget is the sort budget in bytes.
func (c *Config) MemoryBudget() int64 {
	return c.Sort.MemoryMB * internal.MiB
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"input":           "input",
	"tags":            "tags",
	"output":          "output.dir",
	"keep-source-ids": "output.keep_source_ids",
	"memory":          "sort.memory_mb",
	"compress-spills": "sort.compress_spills",
	"temp-dir":        "sort.temp_dir",
	"metrics-file":    "metrics.file",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

// RegisterFlags defines every flag LoadConfig understands.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("input", "i", "", "OSM XML extract to convert (.osm, .gz, .zst or .bz2)")
	flags.StringP("tags", "f", "", "file of key,value lines selecting which ways become edges")
	flags.StringP("output", "o", "", "output directory (defaults to the input's directory)")
	flags.Int64P("memory", "m", internal.DefaultMemoryMB, "sort memory budget in MiB")
	flags.StringP("config", "c", "", "configuration file to read from")
	flags.String("temp-dir", "", "parent directory of the run's temporary workspace")
	flags.Bool("compress-spills", false, "compress sorted batches with s2")
	flags.Bool("keep-source-ids", false, "append the source OSM node id to every node record")
	flags.Bool("no-verify", false, "skip the graph integrity check before publishing")
	flags.String("metrics-file", "", "write prometheus metrics to this file after the run")
	flags.String("log-level", internal.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("log-format", internal.DefaultLogFormat, "log format (console or json)")
}

var defaults = map[string]any{
	"input":                  "",
	"tags":                   "",
	"output.dir":             "",
	"output.keep_source_ids": false,
	"sort.memory_mb":         internal.DefaultMemoryMB,
	"sort.compress_spills":   false,
	"sort.temp_dir":          "",
	"verify":                 true,
	"metrics.file":           "",
	"log.level":              internal.DefaultLogLevel,
	"log.format":             internal.DefaultLogFormat,
}

// LoadConfig reads configuration from flags, OSMG_* environment variables and
// a config file. An explicit configPath must exist; without one, osmg.yaml is
// looked up in the working directory and the user config directory and may be
// absent. flags may be nil.
func LoadConfig(fs afero.Fs, configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$HOME", ".config", internal.DefaultAppName))
		v.SetConfigName(internal.DefaultAppName)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, key := range v.AllKeys() {
		if _, ok := defaults[key]; !ok {
			return nil, fmt.Errorf("%w: unknown option %q", ErrInvalid, key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if flags != nil {
		if noVerify, err := flags.GetBool("no-verify"); err == nil && noVerify {
			cfg.Verify = false
		}
	}
	if cfg.Output.Dir == "" && cfg.Input != "" {
		cfg.Output.Dir = filepath.Dir(cfg.Input)
	}
	return &cfg, nil
}

// Validate rejects settings a run cannot start with.
func (c *Config) Validate(fs afero.Fs) error {
	var errs []error
	if c.Input == "" {
		errs = append(errs, fmt.Errorf("%w: an input file is required", ErrInvalid))
	} else if ok, err := afero.Exists(fs, c.Input); err != nil || !ok {
		errs = append(errs, fmt.Errorf("%w: input %s does not exist", ErrInvalid, c.Input))
	}
	if c.Tags != "" {
		if ok, err := afero.Exists(fs, c.Tags); err != nil || !ok {
			errs = append(errs, fmt.Errorf("%w: tag file %s does not exist", ErrInvalid, c.Tags))
		}
	}
	if c.Output.Dir != "" {
		if ok, err := afero.DirExists(fs, c.Output.Dir); err != nil || !ok {
			errs = append(errs, fmt.Errorf("%w: output directory %s does not exist", ErrInvalid, c.Output.Dir))
		}
	}
	if c.Sort.MemoryMB <= 0 {
		errs = append(errs, fmt.Errorf("%w: memory must be positive, got %d", ErrInvalid, c.Sort.MemoryMB))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format))
	}
	return multierr.Combine(errs...)
}
