package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Vault     VaultConfig
	Pool      PoolConfig
	Device    DeviceConfig
	Identity  IdentityConfig
	Access    AccessConfig
	Scheduler SchedulerConfig
	Mimir     MimirConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
	AutoMigrate    bool
}

type RedisConfig struct {
	URL      string
	QueueKey string
}

type LogConfig struct {
	Level  string
	Format string
}

type VaultConfig struct {
	EncryptionKey string
}

type PoolConfig struct {
	MaxAge         time.Duration
	WaitTimeout    time.Duration
	ConnectTimeout time.Duration
}

type DeviceConfig struct {
	CommandTimeout     time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	RateLimit          float64
	RateBurst          int
	InsecureSkipVerify bool
}

type IdentityConfig struct {
	Timeout  time.Duration
	CacheTTL time.Duration
}

type AccessConfig struct {
	DefaultMaxLimit string
}

type SchedulerConfig struct {
	ReconcileInterval time.Duration
	RetentionInterval time.Duration
	Retention         time.Duration
	PendingTimeout    time.Duration
	WorkerCount       int
	SessionTimeout    time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
}

type MimirConfig struct {
	URL           string
	TenantHeader  string
	BatchSize     int
	FlushInterval time.Duration
	AuthToken     string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("HOTSPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		cfg.Vault.EncryptionKey = key
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if url := os.Getenv("MIMIR_URL"); url != "" {
		cfg.Mimir.URL = url
	}
	if token := os.Getenv("MIMIR_AUTH_TOKEN"); token != "" {
		cfg.Mimir.AuthToken = token
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.maxconnections", 25)
	v.SetDefault("database.maxidleconns", 5)
	v.SetDefault("database.automigrate", true)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.queuekey", "hotspot:grants")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("pool.maxage", "5m")
	v.SetDefault("pool.waittimeout", "10s")
	v.SetDefault("pool.connecttimeout", "10s")
	v.SetDefault("device.commandtimeout", "15s")
	v.SetDefault("device.maxretries", 3)
	v.SetDefault("device.retrybackoff", "500ms")
	v.SetDefault("device.ratelimit", 20)
	v.SetDefault("device.rateburst", 5)
	v.SetDefault("identity.timeout", "5s")
	v.SetDefault("identity.cachettl", "2m")
	v.SetDefault("access.defaultmaxlimit", "10M/10M")
	v.SetDefault("scheduler.reconcileinterval", "1m")
	v.SetDefault("scheduler.retentioninterval", "1h")
	v.SetDefault("scheduler.retention", "168h")
	v.SetDefault("scheduler.pendingtimeout", "15m")
	v.SetDefault("scheduler.workercount", 10)
	v.SetDefault("scheduler.sessiontimeout", "30s")
	v.SetDefault("scheduler.maxretries", 3)
	v.SetDefault("scheduler.retrybackoff", "5s")
	v.SetDefault("mimir.tenantheader", "X-Scope-OrgID")
	v.SetDefault("mimir.batchsize", 1000)
	v.SetDefault("mimir.flushinterval", "10s")
	v.SetDefault("auth.issuer", "hotspot-guardian")
}
