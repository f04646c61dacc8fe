package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Auth      AuthConfig
	Backend   BackendConfig
	Bus       BusConfig
	Logging   LoggingConfig
	Features  map[string]FeatureConfig `mapstructure:"features"`
}

type ServerConfig struct {
	Address        string
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
	// guards the internal endpoints when set
	InternalKey     string                `mapstructure:"internalKey"`
	ShutdownTimeout time.Duration         `mapstructure:"shutdownTimeout"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"` // 0 disables the limit
	Mode       string `mapstructure:"mode"`
}

const (
	LimitModeReject = "reject"
	LimitModeCycle  = "cycle"
)

type TransportConfig struct {
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	PingInterval   time.Duration `mapstructure:"pingInterval"` // 0 disables keepalive pings
	MaxFrameBytes  int64         `mapstructure:"maxFrameBytes"`
	SendBuffer     int           `mapstructure:"sendBuffer"`
	EventRate      float64       `mapstructure:"eventRate"` // events per second per connection, 0 disables
	EventBurst     int           `mapstructure:"eventBurst"`
	PublishTimeout time.Duration `mapstructure:"publishTimeout"`
}

const (
	AuthModeRemote = "remote"
	AuthModeJWT    = "jwt"
)

type AuthConfig struct {
	Mode       string `mapstructure:"mode"`
	CookieName string `mapstructure:"cookieName"`
	QueryParam string `mapstructure:"queryParam"`
	// identity authority base URL; empty uses the backend URL
	URL       string `mapstructure:"url"`
	JWTSecret string `mapstructure:"jwtSecret"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"maxFailures"`
	OpenTimeout time.Duration `mapstructure:"openTimeout"`
}

const (
	BusDriverRedis  = "redis"
	BusDriverMemory = "memory"
)

type BusConfig struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	PoolSize       int           `mapstructure:"poolSize"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FeatureConfig overrides one built-in feature. Zero values keep the default.
type FeatureConfig struct {
	Enabled *bool  `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
	Path    string `mapstructure:"path"`
}
