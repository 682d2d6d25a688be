package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CALLQA_STORAGE_DSN.
const EnvPrefix = "CALLQA"

type Service struct {
	URL    string `yaml:"url" mapstructure:"url"`
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	Model  string `yaml:"model,omitempty" mapstructure:"model"`
}

type Emotion struct {
	Service      `yaml:",inline" mapstructure:",squash"`
	PollInterval int `yaml:"poll_interval" mapstructure:"poll_interval"` // seconds
	MaxPolls     int `yaml:"max_polls" mapstructure:"max_polls"`
}

type Services struct {
	Transcription Service `yaml:"transcription" mapstructure:"transcription"`
	Evaluation    Service `yaml:"evaluation" mapstructure:"evaluation"`
	Emotion       Emotion `yaml:"emotion" mapstructure:"emotion"`
	Timeout       int     `yaml:"timeout" mapstructure:"timeout"` // seconds
}

type Audio struct {
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

type Storage struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

type Root struct {
	Pipeline struct {
		Name    string `yaml:"name" mapstructure:"name"`
		Version string `yaml:"version" mapstructure:"version"`
		LogLvl  string `yaml:"log_level" mapstructure:"log_level"`
	} `yaml:"pipeline" mapstructure:"pipeline"`
	Audio    Audio    `yaml:"audio" mapstructure:"audio"`
	Services Services `yaml:"services" mapstructure:"services"`
	Storage  Storage  `yaml:"storage" mapstructure:"storage"`
	Paths    struct {
		Outputs string `yaml:"outputs" mapstructure:"outputs"`
	} `yaml:"paths" mapstructure:"paths"`
	Server struct {
		Addr string `yaml:"addr" mapstructure:"addr"`
	} `yaml:"server" mapstructure:"server"`
	Batch struct {
		Workers int `yaml:"workers" mapstructure:"workers"`
	} `yaml:"batch" mapstructure:"batch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.name", "callqa")
	v.SetDefault("pipeline.version", "dev")
	v.SetDefault("pipeline.log_level", "info")
	v.SetDefault("audio.temp_dir", "")
	v.SetDefault("services.timeout", 60)
	v.SetDefault("services.transcription.url", "https://api.openai.com/v1")
	v.SetDefault("services.transcription.api_key", "")
	v.SetDefault("services.transcription.model", "whisper-1")
	v.SetDefault("services.evaluation.url", "https://api.openai.com/v1")
	v.SetDefault("services.evaluation.api_key", "")
	v.SetDefault("services.evaluation.model", "gpt-4o-mini")
	v.SetDefault("services.emotion.url", "https://api.hume.ai/v0/batch/jobs")
	v.SetDefault("services.emotion.api_key", "")
	v.SetDefault("services.emotion.poll_interval", 10)
	v.SetDefault("services.emotion.max_polls", 360)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "callqa.db")
	v.SetDefault("paths.outputs", "")
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("batch.workers", 2)
}

// candidates lists config files tried when no explicit path is given.
func candidates() []string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return []string{
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// CALLQA_* environment variables, in increasing precedence. A .env file in
// the working directory is loaded into the environment first. An explicit
// path that cannot be read is an error; missing default files are not.
func Load(path string) (*Root, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		for _, p := range candidates() {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			v.SetConfigFile(p)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", p, err)
			}
			break
		}
	}

	var cfg Root
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Root) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Services.Emotion.PollInterval <= 0 {
		return fmt.Errorf("config: services.emotion.poll_interval must be positive")
	}
	if c.Services.Emotion.MaxPolls <= 0 {
		return fmt.Errorf("config: services.emotion.max_polls must be positive")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("config: batch.workers must be positive")
	}
	return nil
}

// Write dumps the effective configuration as YAML. API keys are masked.
func Write(w io.Writer, c *Root) error {
	masked := *c
	masked.Services.Transcription.APIKey = mask(c.Services.Transcription.APIKey)
	masked.Services.Evaluation.APIKey = mask(c.Services.Evaluation.APIKey)
	masked.Services.Emotion.APIKey = mask(c.Services.Emotion.APIKey)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return err
	}
	return enc.Close()
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func DurSeconds(n int) time.Duration { return time.Duration(n) * time.Second }
