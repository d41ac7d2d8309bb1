package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReconcileConfig tunes batch processing, retries and periodic jobs.
// None of these values affect correctness, only throughput and latency.
type ReconcileConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	Concurrency        int           `mapstructure:"concurrency"`
	Tolerance          float64       `mapstructure:"tolerance"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	InitialBackoff     time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
	DailyCloseInterval time.Duration `mapstructure:"daily_close_interval"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		BatchSize:          500,
		Concurrency:        4,
		Tolerance:          0.01,
		MaxAttempts:        5,
		InitialBackoff:     20 * time.Millisecond,
		MaxBackoff:         time.Second,
		LockTimeout:        5 * time.Second,
		DailyCloseInterval: time.Hour,
		ReconcileInterval:  6 * time.Hour,
	}
}

type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

// NewStaticReconcileConfigHolder returns a holder that never reloads.
func NewStaticReconcileConfigHolder(cfg ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewReconcileConfigHolder reads the reconcile tuning file and watches it for changes.
// An empty path searches the default locations; a missing file yields defaults.
func NewReconcileConfigHolder(path string) (*ReconcileConfigHolder, error) {
	v := viper.New()
	setReconcileDefaults(v, DefaultReconcileConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("reconcile")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/spendledger")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SPENDLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeReconcileConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeReconcileConfig(v)
			if err != nil {
				log.Printf("[reconcile-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[reconcile-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	if h == nil {
		return DefaultReconcileConfig()
	}
	cfg, ok := h.current.Load().(ReconcileConfig)
	if !ok {
		return DefaultReconcileConfig()
	}
	return cfg
}

// Set replaces the current config after validation.
func (h *ReconcileConfigHolder) Set(cfg ReconcileConfig) error {
	if err := validateReconcileConfig(cfg); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

func setReconcileDefaults(v *viper.Viper, d ReconcileConfig) {
	v.SetDefault("reconcile.batch_size", d.BatchSize)
	v.SetDefault("reconcile.concurrency", d.Concurrency)
	v.SetDefault("reconcile.tolerance", d.Tolerance)
	v.SetDefault("reconcile.max_attempts", d.MaxAttempts)
	v.SetDefault("reconcile.initial_backoff", d.InitialBackoff)
	v.SetDefault("reconcile.max_backoff", d.MaxBackoff)
	v.SetDefault("reconcile.lock_timeout", d.LockTimeout)
	v.SetDefault("reconcile.daily_close_interval", d.DailyCloseInterval)
	v.SetDefault("reconcile.reconcile_interval", d.ReconcileInterval)
}

func decodeReconcileConfig(v *viper.Viper) (ReconcileConfig, error) {
	// Unmarshal merges defaults per leaf key; UnmarshalKey would drop them for partial files.
	var wrapper struct {
		Reconcile ReconcileConfig `mapstructure:"reconcile"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return ReconcileConfig{}, err
	}
	if err := validateReconcileConfig(wrapper.Reconcile); err != nil {
		return ReconcileConfig{}, err
	}
	return wrapper.Reconcile, nil
}

func validateReconcileConfig(cfg ReconcileConfig) error {
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("reconcile.batch_size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("reconcile.concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.Tolerance < 0 {
		return errors.New("reconcile.tolerance cannot be negative")
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("reconcile.max_attempts must be positive")
	}
	if cfg.InitialBackoff <= 0 || cfg.MaxBackoff < cfg.InitialBackoff {
		return errors.New("reconcile backoff bounds are invalid")
	}
	if cfg.LockTimeout <= 0 {
		return errors.New("reconcile.lock_timeout must be positive")
	}
	if cfg.ReconcileInterval < 0 || cfg.DailyCloseInterval < 0 {
		return errors.New("reconcile intervals cannot be negative")
	}
	return nil
}
