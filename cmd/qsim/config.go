package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
)

// Config is the optional config file ($XDG_CONFIG_HOME/qsim/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Checkpoint string `yaml:"checkpoint"`
	Arch       string `yaml:"arch"`
	Data       string `yaml:"data"`

	TotalBits  *int   `yaml:"total_bits"`
	IntBits    *int   `yaml:"int_bits"`
	Round      string `yaml:"round"`
	Saturation string `yaml:"saturation"`

	BatchSize *int `yaml:"batch_size"`
	Workers   *int `yaml:"workers"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "qsim", "config.yaml")
}

// LoadConfig reads path, or the default location when path is empty. A
// missing default file yields a zero Config; a missing explicit file does not.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyConfig copies config values into the flag variables whose flags were
// not set on the command line or through the environment.
func applyConfig(c *cli.Command, cfg Config) {
	setString := func(flag, v string, dst *string) {
		if v != "" && !c.IsSet(flag) {
			*dst = v
		}
	}
	setInt := func(flag string, v *int, dst *int) {
		if v != nil && !c.IsSet(flag) {
			*dst = *v
		}
	}
	setString("checkpoint", cfg.Checkpoint, &checkpointPath)
	setString("arch", cfg.Arch, &archPath)
	setString("data", cfg.Data, &dataDir)
	setInt("total-bits", cfg.TotalBits, &totalBits)
	setInt("int-bits", cfg.IntBits, &intBits)
	setString("round", cfg.Round, &roundMode)
	setString("saturation", cfg.Saturation, &saturation)
	setInt("batch-size", cfg.BatchSize, &batchSize)
	setInt("workers", cfg.Workers, &workers)
	setString("log-level", cfg.LogLevel, &logLevel)
	setString("log-format", cfg.LogFormat, &logFormat)
	setString("addr", cfg.ServerAddress, &serveAddr)
}

// setup runs before every subcommand: config file first, then the logger.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, err
	}
	applyConfig(cmd, cfg)

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return ctx, err
	}
	if debug {
		level = slog.LevelDebug
	}
	format, err := logger.ParseFormat(logFormat)
	if err != nil {
		return ctx, err
	}
	log := logger.New(os.Stderr, logger.Options{
		Level:   level,
		Format:  format,
		NoColor: os.Getenv("NO_COLOR") != "",
	})
	return logger.WithContext(ctx, log), nil
}
