// This file defines the configuration structure for the application.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Bots BotsConfig `mapstructure:"bots"`
	Jobs struct {
		// StaleCheckInterval is in minutes. 0 disables the scheduled check.
		StaleCheckInterval int `mapstructure:"stale_check_interval"`
		RetentionDays      int `mapstructure:"retention_days"`
	} `mapstructure:"jobs"`
	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`
}

// BotsConfig controls where closure bots live and how they are executed.
type BotsConfig struct {
	Path         string        `mapstructure:"path"`
	WorkDir      string        `mapstructure:"work_dir"`
	MaxWorkers   int           `mapstructure:"max_workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ProgressRate float64       `mapstructure:"progress_rate"`
	// Interpreters maps a file extension (without the dot) to the program
	// used to run it, e.g. py -> python3.
	Interpreters map[string]string `mapstructure:"interpreters"`
}

// Interpreter returns the program registered for ext (".py" or "py").
func (b BotsConfig) Interpreter(ext string) (string, bool) {
	prog, ok := b.Interpreters[strings.TrimPrefix(strings.ToLower(ext), ".")]
	return prog, ok
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	// e.g. ENCERRAMENTO_DATABASE_PATH overrides `database.path`.
	v.SetEnvPrefix("ENCERRAMENTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 5000)
	v.SetDefault("database.path", "./empresas.db")
	v.SetDefault("bots.path", "./bots")
	v.SetDefault("bots.work_dir", "./runs")
	v.SetDefault("bots.max_workers", 5)
	v.SetDefault("bots.queue_size", 100)
	v.SetDefault("bots.timeout", "2h")
	v.SetDefault("bots.progress_rate", 4)
	v.SetDefault("bots.interpreters", map[string]string{
		"py": "python3",
		"sh": "sh",
	})
	v.SetDefault("jobs.stale_check_interval", 15)
	v.SetDefault("jobs.retention_days", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}
