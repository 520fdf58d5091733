package config

import "github.com/spf13/pflag"

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

// options holds internal configuration options
type options struct {
	configPath string
	envPrefix  string
	flags      *pflag.FlagSet
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "PERIPHERALPM"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// WithFlags binds the flags registered by RegisterFlags. Flags explicitly set
// on the command line override file and environment values.
func WithFlags(fs *pflag.FlagSet) Option {
	return func(o *options) error {
		o.flags = fs
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

// Backend names a state store implementation
type Backend string

const (
	BackendRedis    Backend = "redis"
	BackendSQLite   Backend = "sqlite"
	BackendKafka    Backend = "kafka"
	BackendInfluxDB Backend = "influxdb"
	BackendMQTT     Backend = "mqtt"
)

// IsValid returns whether the backend is known
func (b Backend) IsValid() bool {
	switch b {
	case BackendRedis, BackendSQLite, BackendKafka, BackendInfluxDB, BackendMQTT:
		return true
	default:
		return false
	}
}
