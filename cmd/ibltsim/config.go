package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jcalabro/iblt"
)

// envPrefix prefixes environment overrides, e.g. IBLTSIM_LOG_LEVEL.
const envPrefix = "IBLTSIM"

// Config holds every setting of ibltsim. Each command registers flags for
// the fields it uses; the rest keep their defaults.
type Config struct {
	LogLevel string `mapstructure:"log-level"`
	Seed     uint64 `mapstructure:"seed"`
	Hash     string `mapstructure:"hash"`
	Workers  int    `mapstructure:"workers"`

	Trials   int `mapstructure:"trials"`
	Buckets  int `mapstructure:"buckets"`
	HashFns  int `mapstructure:"hashfns"`
	Step     int `mapstructure:"step"`
	Shared   int `mapstructure:"shared"`
	Distinct int `mapstructure:"distinct"`
	Parties  int `mapstructure:"parties"`
	Diff     int `mapstructure:"diff"`
	Attempts int `mapstructure:"attempts"`
}

// DefaultConfig returns the settings used when neither flags, environment
// nor config file say otherwise.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Hash:     iblt.HashXXH3.String(),
		Workers:  runtime.GOMAXPROCS(0),
		Trials:   100,
		Buckets:  80,
		HashFns:  iblt.DefaultHashFns,
		Step:     4,
		Shared:   1000,
		Distinct: 10,
		Parties:  3,
		Diff:     100,
		Attempts: 5,
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, fmt.Errorf("log-level: %w", err))
	}
	if _, err := iblt.ParseHashFamily(c.Hash); err != nil {
		result = multierror.Append(result, fmt.Errorf("hash: %w", err))
	}
	positive := []struct {
		name  string
		value int
	}{
		{"workers", c.Workers},
		{"trials", c.Trials},
		{"buckets", c.Buckets},
		{"hashfns", c.HashFns},
		{"step", c.Step},
		{"attempts", c.Attempts},
	}
	for _, p := range positive {
		if p.value < 1 {
			result = multierror.Append(result, fmt.Errorf("%s: must be positive, got %d", p.name, p.value))
		}
	}
	if c.Shared < 0 {
		result = multierror.Append(result, fmt.Errorf("shared: must not be negative, got %d", c.Shared))
	}
	if c.Distinct < 0 {
		result = multierror.Append(result, fmt.Errorf("distinct: must not be negative, got %d", c.Distinct))
	}
	if c.Diff < 0 {
		result = multierror.Append(result, fmt.Errorf("diff: must not be negative, got %d", c.Diff))
	}
	if c.Parties < 2 || c.Parties > iblt.MaxParties {
		result = multierror.Append(result, fmt.Errorf("parties: must be 2 to %d, got %d", iblt.MaxParties, c.Parties))
	}
	return result.ErrorOrNil()
}

// Options returns the library options every structure of a run is built with.
func (c *Config) Options(logger *zap.Logger) []iblt.Option {
	family, _ := iblt.ParseHashFamily(c.Hash)
	return []iblt.Option{
		iblt.WithSeed(c.Seed),
		iblt.WithHashFamily(family),
		iblt.WithLogger(logger),
	}
}

// loadConfig layers the config file, IBLTSIM_ environment variables and the
// flags of cmd over the defaults, in increasing precedence.
func loadConfig(fs afero.Fs, cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("binding flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	conf := DefaultConfig()
	if err := v.Unmarshal(&conf); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}
