package common

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"

	DefaultSQLiteDSN = "file:txsim?mode=memory&cache=shared"
)

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Latency is added to every store call to mimic a slow backend.
	Latency time.Duration `yaml:"latency"`
}

type StreamConfig struct {
	// TimeScale multiplies the interval between log events. 1 is real time.
	TimeScale float64 `yaml:"time_scale"`
}

type ExecutionConfig struct {
	ProgressTick time.Duration `yaml:"progress_tick"`
	ProgressStep int           `yaml:"progress_step"`
}

type Config struct {
	Port      string          `yaml:"port"`
	Env       string          `yaml:"env"`
	Store     StoreConfig     `yaml:"store"`
	Stream    StreamConfig    `yaml:"stream"`
	Execution ExecutionConfig `yaml:"execution"`
}

func DefaultConfig() *Config {
	return &Config{
		Port: "19981",
		Env:  "production",
		Store: StoreConfig{
			Driver: DriverMemory,
			DSN:    DefaultSQLiteDSN,
		},
		Stream: StreamConfig{
			TimeScale: 1,
		},
		Execution: ExecutionConfig{
			ProgressTick: 100 * time.Millisecond,
			ProgressStep: 2,
		},
	}
}

// LoadConfig resolves the configuration in this order, later sources
// winning: defaults, .env, the YAML file at path (or TXSIM_CONFIG), and
// finally the process environment. A missing .env or config file is not
// an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.WithMessage(err, "failed to load .env")
	}

	if path == "" {
		path = os.Getenv("TXSIM_CONFIG")
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return nil
}

func (cfg *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}
	if driver := os.Getenv("TXSIM_STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if dsn := os.Getenv("TXSIM_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if latency := os.Getenv("TXSIM_STORE_LATENCY"); latency != "" {
		d, err := time.ParseDuration(latency)
		if err != nil {
			return errors.Wrap(err, "TXSIM_STORE_LATENCY")
		}
		cfg.Store.Latency = d
	}
	if scale := os.Getenv("TXSIM_TIME_SCALE"); scale != "" {
		f, err := strconv.ParseFloat(scale, 64)
		if err != nil {
			return errors.Wrap(err, "TXSIM_TIME_SCALE")
		}
		cfg.Stream.TimeScale = f
	}
	return nil
}

func (cfg *Config) Validate() error {
	switch cfg.Store.Driver {
	case DriverMemory, DriverSQLite:
	default:
		return errors.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == DriverSQLite && cfg.Store.DSN == "" {
		return errors.New("sqlite store needs a dsn")
	}
	if cfg.Store.Latency < 0 {
		return errors.New("store latency must not be negative")
	}
	if cfg.Stream.TimeScale <= 0 {
		return errors.New("stream time_scale must be positive")
	}
	if cfg.Execution.ProgressTick <= 0 {
		return errors.New("execution progress_tick must be positive")
	}
	if cfg.Execution.ProgressStep <= 0 {
		return errors.New("execution progress_step must be positive")
	}
	return nil
}

// Dump renders the effective configuration as YAML.
func (cfg *Config) Dump() ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal config")
	}
	return data, nil
}
