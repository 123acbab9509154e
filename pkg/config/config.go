package config

import (
	"time"

	"github.com/spf13/viper"
)

type CameraConfig struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Snapshot bool   `mapstructure:"snapshot"`
	FPS      int    `mapstructure:"fps"`
	Quality  int    `mapstructure:"quality"`
}

type BufferConfig struct {
	Capacity    int   `mapstructure:"capacity"`
	MaxMemoryMB int64 `mapstructure:"max_memory_mb"`
}

type ThrottleConfig struct {
	BaseIntervalMS int   `mapstructure:"base_interval_ms"`
	StepTableMS    []int `mapstructure:"step_table_ms"`
	IdleThreshold  int   `mapstructure:"idle_threshold"`
}

type AMQPConfig struct {
	URL              string `mapstructure:"url"`
	Exchange         string `mapstructure:"exchange"`
	RoutingKeyPrefix string `mapstructure:"routing_key_prefix"`
}

type MQTTConfig struct {
	Broker        string `mapstructure:"broker"`
	TopicPrefix   string `mapstructure:"topic_prefix"`
	ActivityTopic string `mapstructure:"activity_topic"`
}

type RelayConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Protocol    string `mapstructure:"protocol"`
	ReplayCount int    `mapstructure:"replay_count"`
}

type EventsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	Prefix     string `mapstructure:"prefix"`
}

type Compression struct {
	Enabled bool `mapstructure:"enabled"`
	Level   int  `mapstructure:"level"`
}

type SysmonConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	CheckIntervalMS int  `mapstructure:"check_interval_ms"`
	RSSLimitMB      int  `mapstructure:"rss_limit_mb"`
}

type Config struct {
	Development bool           `mapstructure:"development"`
	MetricsAddr string         `mapstructure:"metrics_addr"`
	Workers     int            `mapstructure:"workers"`
	Buffer      BufferConfig   `mapstructure:"buffer"`
	Throttle    ThrottleConfig `mapstructure:"throttle"`
	AMQP        AMQPConfig     `mapstructure:"amqp"`
	MQTT        MQTTConfig     `mapstructure:"mqtt"`
	Relay       RelayConfig    `mapstructure:"relay"`
	Events      EventsConfig   `mapstructure:"events"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Compression Compression    `mapstructure:"compression"`
	Sysmon      SysmonConfig   `mapstructure:"sysmon"`
	Cameras     []CameraConfig `mapstructure:"cameras"`
}

// BaseInterval converts the configured throttle base interval, falling back
// to 500ms (2 captures per second) when unset or invalid.
func (c *Config) BaseInterval() time.Duration {
	if c.Throttle.BaseIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Throttle.BaseIntervalMS) * time.Millisecond
}

// StepTable converts the configured step table to durations, ordered as
// given. An empty table falls back to a default ladder around BaseInterval.
func (c *Config) StepTable() []time.Duration {
	if len(c.Throttle.StepTableMS) == 0 {
		return []time.Duration{
			100 * time.Millisecond,
			250 * time.Millisecond,
			500 * time.Millisecond,
			time.Second,
			2 * time.Second,
			5 * time.Second,
		}
	}
	table := make([]time.Duration, 0, len(c.Throttle.StepTableMS))
	for _, ms := range c.Throttle.StepTableMS {
		table = append(table, time.Duration(ms)*time.Millisecond)
	}
	return table
}

// MaxMemoryBytes returns the global ring-buffer memory ceiling, defaulting
// to 256 MiB.
func (c *Config) MaxMemoryBytes() int64 {
	if c.Buffer.MaxMemoryMB <= 0 {
		return 256 << 20
	}
	return c.Buffer.MaxMemoryMB << 20
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
