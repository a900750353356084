package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	GPIO      GPIOConfig      `mapstructure:"gpio"`
	AutoPause AutoPauseConfig `mapstructure:"auto_pause"`
	Timezone  string          `mapstructure:"timezone"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type GPIOConfig struct {
	URL              string        `mapstructure:"url"`
	ProfilePath      string        `mapstructure:"profile_path"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type AutoPauseConfig struct {
	OpenDelay         time.Duration `mapstructure:"open_delay"`
	CloseDelay        time.Duration `mapstructure:"close_delay"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ObserverInterval  time.Duration `mapstructure:"observer_interval"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("gpio.profile_path", "configs/pins.yaml")
	viper.SetDefault("gpio.heartbeat_timeout", "60s")
	viper.SetDefault("gpio.watchdog_interval", "15s")
	viper.SetDefault("gpio.handshake_timeout", "10s")
	viper.SetDefault("auto_pause.open_delay", "20s")
	viper.SetDefault("auto_pause.close_delay", "5s")
	viper.SetDefault("auto_pause.cooldown", "30s")
	viper.SetDefault("auto_pause.reconcile_interval", "5s")
	viper.SetDefault("auto_pause.observer_interval", "3s")
	viper.SetDefault("timezone", "Europe/Madrid")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CREMER")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Location resolves the configured timezone. All persisted timestamps use it.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
