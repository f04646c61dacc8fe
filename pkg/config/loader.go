package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// legacy deployment variables, bound next to the MERGE_* names
var legacyEnv = map[string]string{
	"server.port":           "PORT",
	"server.allowedOrigins": "ALLOWED_ORIGINS",
	"backend.url":           "BACKEND_URL",
	"bus.redis.host":        "REDIS_HOST",
	"bus.redis.port":        "REDIS_PORT",
	"bus.redis.password":    "REDIS_PASSWORD",
}

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	setDefaults(v)

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("MERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "MERGE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	normalize(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.allowedOrigins", []string{"localhost:3000"})
	v.SetDefault("server.internalKey", "")
	v.SetDefault("server.shutdownTimeout", "15s")
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", LimitModeReject)

	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transport.pingInterval", "25s")
	v.SetDefault("transport.maxFrameBytes", 64<<10)
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.eventRate", 20)
	v.SetDefault("transport.eventBurst", 40)
	v.SetDefault("transport.publishTimeout", "5s")

	v.SetDefault("auth.mode", AuthModeRemote)
	v.SetDefault("auth.cookieName", "accessToken")
	v.SetDefault("auth.queryParam", "token")
	v.SetDefault("auth.url", "")
	v.SetDefault("auth.jwtSecret", "")

	v.SetDefault("backend.url", "http://localhost:3000")
	v.SetDefault("backend.timeout", "10s")
	v.SetDefault("backend.breaker.maxFailures", 5)
	v.SetDefault("backend.breaker.openTimeout", "30s")

	v.SetDefault("bus.driver", BusDriverRedis)
	v.SetDefault("bus.redis.host", "localhost")
	v.SetDefault("bus.redis.port", 6379)
	v.SetDefault("bus.redis.password", "")
	v.SetDefault("bus.redis.db", 0)
	v.SetDefault("bus.redis.poolSize", 10)
	v.SetDefault("bus.redis.connectTimeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// normalize fills values that depend on other keys.
func normalize(v *viper.Viper, cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = fmt.Sprintf(":%d", v.GetInt("server.port"))
	}
	// a comma separated env value arrives as a single element
	var origins []string
	for _, o := range cfg.Server.AllowedOrigins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				origins = append(origins, part)
			}
		}
	}
	cfg.Server.AllowedOrigins = origins
	cfg.Backend.URL = strings.TrimRight(cfg.Backend.URL, "/")
	if cfg.Auth.URL == "" {
		cfg.Auth.URL = cfg.Backend.URL
	}
	cfg.Auth.URL = strings.TrimRight(cfg.Auth.URL, "/")
}

func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case AuthModeRemote:
		if c.Auth.URL == "" {
			return errors.New("auth.url or backend.url is required in remote auth mode")
		}
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwtSecret is required in jwt auth mode")
		}
	default:
		return fmt.Errorf("unknown auth.mode '%s'", c.Auth.Mode)
	}
	switch c.Bus.Driver {
	case BusDriverRedis, BusDriverMemory:
	default:
		return fmt.Errorf("unknown bus.driver '%s'", c.Bus.Driver)
	}
	switch c.Server.ConnectionLimit.Mode {
	case LimitModeReject, LimitModeCycle:
	default:
		return fmt.Errorf("unknown server.connectionLimit.mode '%s'", c.Server.ConnectionLimit.Mode)
	}
	if c.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	return nil
}
