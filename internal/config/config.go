package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "FAKETASKER"

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type AppConfig struct {
	Addr        string `mapstructure:"addr"`
	LogLevel    string `mapstructure:"log_level"`
	Store       string `mapstructure:"store"`
	DatabaseURL string `mapstructure:"database_url"`
	TasksFile   string `mapstructure:"tasks_file"`
	PublicURL   string `mapstructure:"public_url"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`

	PresenceGrace    time.Duration `mapstructure:"presence_grace"`
	ResultDisplay    time.Duration `mapstructure:"result_display"`
	SabotageCooldown time.Duration `mapstructure:"sabotage_cooldown"`
	Countdown        time.Duration `mapstructure:"countdown"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`

	DefaultTasksPerCrewmate    int `mapstructure:"default_tasks_per_crewmate"`
	DefaultImposterCount       int `mapstructure:"default_imposter_count"`
	DefaultKillCooldownSeconds int `mapstructure:"default_kill_cooldown_seconds"`
}

func flags() *pflag.FlagSet {
	f := pflag.NewFlagSet("fake-tasker", pflag.ContinueOnError)
	f.String("config", "", "optional config file (yaml, json or toml)")
	f.String("addr", ":8080", "listen address")
	f.String("log-level", "info", "debug, info, warn or error")
	f.String("store", StoreMemory, "session store: memory or postgres")
	f.String("database-url", "", "postgres connection string")
	f.String("tasks-file", "", "yaml file of task presets for new sessions")
	f.String("public-url", "", "base URL encoded in join links and QR codes")
	f.StringSlice("allowed-origins", nil, "websocket origin patterns to accept")
	f.Duration("presence-grace", 30*time.Second, "how long a dropped player may reconnect")
	f.Duration("result-display", 5*time.Second, "how long a meeting result is shown")
	f.Duration("sabotage-cooldown", 120*time.Second, "per-imposter sabotage cooldown")
	f.Duration("countdown", 3*time.Second, "countdown before roles are revealed")
	f.Duration("write-timeout", 5*time.Second, "timeout for a single store write")
	f.Int("default-tasks-per-crewmate", engine.DefaultSettings.TasksPerCrewmate, "")
	f.Int("default-imposter-count", engine.DefaultSettings.ImposterCount, "")
	f.Int("default-kill-cooldown-seconds", engine.DefaultSettings.KillCooldownSeconds, "")
	return f
}

// Load merges, from lowest to highest precedence: flag defaults, the
// config file, FAKETASKER_* variables (a .env file is loaded first if
// present) and flags given in args.
func Load(args []string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	fset := flags()
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	var bindErr error
	fset.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	path, _ := fset.GetString("config")
	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg AppConfig
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: database_url is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.PresenceGrace <= 0 || c.ResultDisplay <= 0 || c.SabotageCooldown <= 0 || c.WriteTimeout <= 0 {
		return errors.New("config: durations must be positive")
	}
	if c.Countdown < 0 {
		return errors.New("config: countdown must not be negative")
	}
	if err := c.Settings().Validate(); err != nil {
		return fmt.Errorf("config: default settings: %w", err)
	}
	return nil
}

// Settings are the lobby settings new sessions start with.
func (c *AppConfig) Settings() engine.Settings {
	return engine.Settings{
		TasksPerCrewmate:    c.DefaultTasksPerCrewmate,
		ImposterCount:       c.DefaultImposterCount,
		KillCooldownSeconds: c.DefaultKillCooldownSeconds,
	}
}

type presetFile struct {
	Tasks []string `yaml:"tasks"`
}

// LoadTaskPresets reads the task descriptions seeded into new sessions.
// An empty path yields no presets.
func LoadTaskPresets(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task presets: %w", err)
	}
	var pf presetFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse task presets %s: %w", path, err)
	}
	tasks := make([]string, 0, len(pf.Tasks))
	for _, t := range pf.Tasks {
		if t = strings.TrimSpace(t); t != "" {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}
