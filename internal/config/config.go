package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/device"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/pid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix       = "PERIPHERALPM"
	DefaultConfigName      = "peripheralpm"
	DefaultConfigDir       = "/etc"
	DefaultPollInterval    = 60 * time.Second
	DefaultReadTimeout     = 5 * time.Second
	DefaultPublishInterval = 15 * time.Minute
	DefaultDailyAlignment  = "midnight"
	DefaultStoreTimeout    = 5 * time.Second
	DefaultSQLitePath      = "/var/lib/peripheralpm/state.db"
	DefaultLogLevel        = LogLevelInfo

	maxPublishInterval = 15 * time.Minute
	day                = 24 * time.Hour
)

type Config struct {
	PollInterval    time.Duration   `mapstructure:"poll_interval"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	PublishInterval time.Duration   `mapstructure:"publish_interval"`
	DailyAlignment  string          `mapstructure:"daily_alignment"`
	Categories      []string        `mapstructure:"categories"`
	Inventory       InventoryConfig `mapstructure:"inventory"`
	Store           StoreConfig     `mapstructure:"store"`
	MetricsAddress  string          `mapstructure:"metrics_address"`
	PIDFile         string          `mapstructure:"pid_file"`
	LogLevel        LogLevel        `mapstructure:"log_level"`
}

type InventoryConfig struct {
	File        string `mapstructure:"file"`
	HostSensors bool   `mapstructure:"host_sensors"`
	NVML        bool   `mapstructure:"nvml"`
}

type StoreConfig struct {
	Backends []string       `mapstructure:"backends"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	InfluxDB InfluxDBConfig `mapstructure:"influxdb"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type InfluxDBConfig struct {
	URL         string `mapstructure:"url"`
	Token       string `mapstructure:"token"`
	Org         string `mapstructure:"org"`
	Bucket      string `mapstructure:"bucket"`
	Measurement string `mapstructure:"measurement"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"poll-interval":    "poll_interval",
	"read-timeout":     "read_timeout",
	"publish-interval": "publish_interval",
	"daily-alignment":  "daily_alignment",
	"categories":       "categories",
	"inventory-file":   "inventory.file",
	"host-sensors":     "inventory.host_sensors",
	"nvml":             "inventory.nvml",
	"store-backends":   "store.backends",
	"metrics-address":  "metrics_address",
	"pid-file":         "pid_file",
	"log-level":        "log_level",
}

// RegisterFlags defines the command line flags understood by Load
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to the configuration file")
	fs.Duration("poll-interval", DefaultPollInterval, "Interval between sensor polls")
	fs.Duration("read-timeout", DefaultReadTimeout, "Upper bound for a single sensor read")
	fs.Duration("publish-interval", DefaultPublishInterval, "Interval between state store publications")
	fs.String("daily-alignment", DefaultDailyAlignment, "Reset rule of the 24-hour window (midnight or rolling)")
	fs.StringSlice("categories", categoryNames(), "Device categories to monitor")
	fs.String("inventory-file", "", "Chassis metadata file")
	fs.Bool("host-sensors", false, "Monitor the host's thermal sensors")
	fs.Bool("nvml", false, "Monitor NVIDIA GPUs as modules")
	fs.StringSlice("store-backends", []string{string(BackendSQLite)}, "State store backends")
	fs.String("metrics-address", "", "Prometheus listen address (disabled when empty)")
	fs.String("pid-file", pid.DefaultPath(), "PID file path")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
}

// Load reads configuration from defaults, the configuration file, the
// environment and command line flags, in increasing precedence
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if o.flags != nil {
		for flag, key := range flagKeys {
			if f := o.flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
				}
			}
		}
	}

	if err := readConfigFile(v, configPath(o)); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("read_timeout", DefaultReadTimeout)
	v.SetDefault("publish_interval", DefaultPublishInterval)
	v.SetDefault("daily_alignment", DefaultDailyAlignment)
	v.SetDefault("categories", categoryNames())
	v.SetDefault("inventory.file", "")
	v.SetDefault("inventory.host_sensors", false)
	v.SetDefault("inventory.nvml", false)
	v.SetDefault("store.backends", []string{string(BackendSQLite)})
	v.SetDefault("store.timeout", DefaultStoreTimeout)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 6)
	v.SetDefault("store.redis.key_prefix", "PERFORMANCE_STATS")
	v.SetDefault("store.sqlite.path", DefaultSQLitePath)
	v.SetDefault("store.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("store.kafka.topic", "performance-stats")
	v.SetDefault("store.influxdb.url", "http://localhost:8086")
	v.SetDefault("store.influxdb.token", "")
	v.SetDefault("store.influxdb.org", "")
	v.SetDefault("store.influxdb.bucket", "peripheralpm")
	v.SetDefault("store.influxdb.measurement", "performance_stats")
	v.SetDefault("store.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("store.mqtt.client_id", "peripheralpm")
	v.SetDefault("store.mqtt.username", "")
	v.SetDefault("store.mqtt.password", "")
	v.SetDefault("store.mqtt.topic_prefix", "peripheralpm/performance")
	v.SetDefault("store.mqtt.qos", 1)
	v.SetDefault("metrics_address", "")
	v.SetDefault("pid_file", pid.DefaultPath())
	v.SetDefault("log_level", string(DefaultLogLevel))
}

// configPath resolves the explicit configuration file, if any
func configPath(o *options) string {
	if o.configPath != "" {
		return o.configPath
	}
	if o.flags != nil {
		if f := o.flags.Lookup("config"); f != nil && f.Changed {
			return f.Value.String()
		}
	}

	return os.Getenv(o.envPrefix + "_CONFIG")
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("toml")
	v.AddConfigPath(DefaultConfigDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// Validate checks the loaded configuration for consistency
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !c.LogLevel.IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.PollInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, fmt.Sprintf("poll_interval=%s", c.PollInterval))
	}
	if c.ReadTimeout <= 0 || c.ReadTimeout >= c.PollInterval {
		return errFactory.WithData(errors.ErrInvalidInterval,
			fmt.Sprintf("read_timeout=%s must be positive and below poll_interval=%s", c.ReadTimeout, c.PollInterval))
	}
	if c.PublishInterval <= 0 || c.PublishInterval > maxPublishInterval || day%c.PublishInterval != 0 {
		return errFactory.WithData(errors.ErrInvalidInterval,
			fmt.Sprintf("publish_interval=%s must divide a day and not exceed %s", c.PublishInterval, maxPublishInterval))
	}

	switch c.DailyAlignment {
	case "midnight", "rolling":
	default:
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("daily_alignment=%q", c.DailyAlignment))
	}

	if len(c.Categories) == 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "no categories configured")
	}
	if _, err := c.DeviceCategories(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if c.Inventory.File == "" && !c.Inventory.HostSensors && !c.Inventory.NVML {
		return errFactory.WithData(errors.ErrInvalidConfig, "no inventory source configured")
	}

	if err := c.Store.validate(); err != nil {
		return err
	}
	if c.Store.Timeout >= c.PublishInterval {
		return errFactory.WithData(errors.ErrInvalidInterval,
			fmt.Sprintf("store.timeout=%s must be below publish_interval=%s", c.Store.Timeout, c.PublishInterval))
	}

	return nil
}

// DeviceCategories returns the configured categories, deduplicated and in
// configuration order
func (c *Config) DeviceCategories() ([]device.Category, error) {
	seen := make(map[device.Category]struct{}, len(c.Categories))
	out := make([]device.Category, 0, len(c.Categories))

	for _, name := range c.Categories {
		cat, err := device.ParseCategory(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[cat]; dup {
			continue
		}
		seen[cat] = struct{}{}
		out = append(out, cat)
	}

	return out, nil
}

// EnabledBackends returns the configured backends
func (s *StoreConfig) EnabledBackends() []Backend {
	out := make([]Backend, 0, len(s.Backends))
	for _, b := range s.Backends {
		out = append(out, Backend(strings.TrimSpace(b)))
	}
	return out
}

func (s *StoreConfig) validate() error {
	errFactory := errors.New()

	backends := s.EnabledBackends()
	if len(backends) == 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "no store backend configured")
	}
	if s.Timeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, fmt.Sprintf("store.timeout=%s", s.Timeout))
	}

	for _, b := range backends {
		if !b.IsValid() {
			return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("unknown store backend %q", b))
		}

		var missing string
		switch b {
		case BackendRedis:
			if s.Redis.Addr == "" {
				missing = "store.redis.addr"
			}
		case BackendSQLite:
			if s.SQLite.Path == "" {
				missing = "store.sqlite.path"
			}
		case BackendKafka:
			if len(s.Kafka.Brokers) == 0 || s.Kafka.Topic == "" {
				missing = "store.kafka.brokers/topic"
			}
		case BackendInfluxDB:
			if s.InfluxDB.URL == "" || s.InfluxDB.Org == "" || s.InfluxDB.Bucket == "" {
				missing = "store.influxdb.url/org/bucket"
			}
		case BackendMQTT:
			if s.MQTT.Broker == "" || s.MQTT.QoS > 2 {
				missing = "store.mqtt.broker/qos"
			}
		}

		if missing != "" {
			return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("%s backend requires %s", b, missing))
		}
	}

	return nil
}

func categoryNames() []string {
	names := make([]string, 0, len(device.AllCategories))
	for _, c := range device.AllCategories {
		names = append(names, string(c))
	}
	return names
}
