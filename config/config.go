package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variables prefix: client.server_url is read from CHATSYNC_CLIENT_SERVER_URL.
const EnvPrefix = "CHATSYNC"

type (
	// Config is the application configuration.
	// Sources by priority: command flags (if set), environment, config file, defaults.
	Config struct {
		Client  ClientConfig  `mapstructure:"client"`
		Server  ServerConfig  `mapstructure:"server"`
		Redis   RedisConfig   `mapstructure:"redis"`
		Kafka   KafkaConfig   `mapstructure:"kafka"`
		Metrics MetricsConfig `mapstructure:"metrics"`
	}

	ClientConfig struct {
		ServerURL        string        `mapstructure:"server_url"`
		SessionName      string        `mapstructure:"session_name"`
		PollRate         float64       `mapstructure:"poll_rate"`
		BackoffMin       time.Duration `mapstructure:"backoff_min"`
		BackoffMax       time.Duration `mapstructure:"backoff_max"`
		RequestTimeout   time.Duration `mapstructure:"request_timeout"`
		HistoryPageLimit int           `mapstructure:"history_page_limit"`
		// Pebble checkpoint directory, empty disables checkpoints
		CheckpointPath string `mapstructure:"checkpoint_path"`
		// Mock visitor messages send period, zero disables sending
		MessagePeriod time.Duration `mapstructure:"message_period"`
	}

	ServerConfig struct {
		Port               int           `mapstructure:"port"`
		FilePath           string        `mapstructure:"file_path"`
		BatchPeriod        time.Duration `mapstructure:"batch_period"`
		PollTimeout        time.Duration `mapstructure:"poll_timeout"`
		QueueSize          int           `mapstructure:"queue_size"`
		FullUpdateMsgLimit int           `mapstructure:"full_update_msg_limit"`
		EchoOperator       bool          `mapstructure:"echo_operator"`
	}

	// RedisConfig is the history cache config, no addresses disables the cache.
	RedisConfig struct {
		Addrs    []string      `mapstructure:"addrs"`
		Password string        `mapstructure:"password"`
		TTL      time.Duration `mapstructure:"ttl"`
	}

	// KafkaConfig is the change events sink config, no brokers disables the sink.
	KafkaConfig struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	}

	MetricsConfig struct {
		// Prometheus handler listen address, empty disables the handler
		Addr string `mapstructure:"addr"`
	}
)

// Validate checks the client config.
func (c ClientConfig) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("%s: %w", "server_url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: http(s) scheme expected (%s)", "server_url", c.ServerURL)
	}
	if c.PollRate <= 0 {
		return fmt.Errorf("%s: must be GT 0", "poll_rate")
	}
	if c.BackoffMin <= 0 {
		return fmt.Errorf("%s: must be GT 0", "backoff_min")
	}
	if c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("%s: must be GTE %s", "backoff_max", "backoff_min")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s: must be GT 0", "request_timeout")
	}
	if c.HistoryPageLimit <= 0 {
		return fmt.Errorf("%s: must be GT 0", "history_page_limit")
	}
	if c.MessagePeriod < 0 {
		return fmt.Errorf("%s: must be GTE 0", "message_period")
	}

	return nil
}

// Validate checks the server config.
func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%s: must be in (0, 65535]", "port")
	}
	if c.FilePath == "" {
		return fmt.Errorf("%s: empty", "file_path")
	}
	if c.BatchPeriod <= 0 {
		return fmt.Errorf("%s: must be GT 0", "batch_period")
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("%s: must be GT 0", "poll_timeout")
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("%s: must be GTE 0", "queue_size")
	}
	if c.FullUpdateMsgLimit < 0 {
		return fmt.Errorf("%s: must be GTE 0", "full_update_msg_limit")
	}

	return nil
}

// Validate checks the optional integrations config.
func (c Config) Validate() error {
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("%s: empty", "kafka.topic")
	}
	if c.Redis.TTL < 0 {
		return fmt.Errorf("%s: must be GTE 0", "redis.ttl")
	}

	return nil
}

// Load reads the config file (optional) and the environment, flagKeys binds command flags to config keys (key -> flag name).
func Load(filePath string, cmd *cobra.Command, flagKeys map[string]string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file (%s): %w", filePath, err)
		}
	}

	if cmd != nil {
		for key, flagName := range flagKeys {
			flag := cmd.Flags().Lookup(flagName)
			if flag == nil {
				return nil, fmt.Errorf("%s flag: not found", flagName)
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("%s flag: binding: %w", flagName, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client.server_url", "http://127.0.0.1:2412")
	v.SetDefault("client.session_name", "default")
	v.SetDefault("client.poll_rate", 10.0)
	v.SetDefault("client.backoff_min", 250*time.Millisecond)
	v.SetDefault("client.backoff_max", 30*time.Second)
	v.SetDefault("client.request_timeout", 45*time.Second)
	v.SetDefault("client.history_page_limit", 100)
	v.SetDefault("client.checkpoint_path", "")
	v.SetDefault("client.message_period", time.Duration(0))

	v.SetDefault("server.port", 2412)
	v.SetDefault("server.file_path", "./resources/history.dat")
	v.SetDefault("server.batch_period", 500*time.Millisecond)
	v.SetDefault("server.poll_timeout", 30*time.Second)
	v.SetDefault("server.queue_size", 50)
	v.SetDefault("server.full_update_msg_limit", 100)
	v.SetDefault("server.echo_operator", false)

	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.ttl", 10*time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "chatsync.events")

	v.SetDefault("metrics.addr", "")
}
