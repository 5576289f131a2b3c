package config

import (
	"fmt"
	"time"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/constants"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/env"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	MinIO     MinIOConfig
	WebRTC    WebRTCConfig
	Call      CallConfig
	JWT       JWTConfig
	Log       LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Hosts    []string
	Keyspace string
	Timeout  time.Duration
}

// MinIOConfig holds MinIO configuration for recording artifacts
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// WebRTCConfig holds peer transport configuration
type WebRTCConfig struct {
	STUNServers []string
	// ICEDisconnectedTimeout is how long ICE tolerates silence before
	// reporting disconnected
	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepaliveInterval   time.Duration
}

// CallConfig holds call lifecycle configuration
type CallConfig struct {
	RingTimeout time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8080),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "comms-core"),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "comms"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Cassandra: CassandraConfig{
			Hosts:    env.GetSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace: env.GetString("CASSANDRA_KEYSPACE", "comms"),
			Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", 5*time.Second),
		},
		MinIO: MinIOConfig{
			Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", ""),
			SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", ""),
			UseSSL:    env.GetBool("MINIO_USE_SSL", false),
			Bucket:    env.GetString("MINIO_BUCKET", "recordings"),
		},
		WebRTC: WebRTCConfig{
			STUNServers:            env.GetSlice("STUN_SERVERS", []string{"stun:stun.l.google.com:19302"}),
			ICEDisconnectedTimeout: env.GetDuration("ICE_DISCONNECTED_TIMEOUT", 30*time.Second),
			ICEFailedTimeout:       env.GetDuration("ICE_FAILED_TIMEOUT", 120*time.Second),
			ICEKeepaliveInterval:   env.GetDuration("ICE_KEEPALIVE_INTERVAL", 2*time.Second),
		},
		Call: CallConfig{
			RingTimeout: env.GetDuration("CALL_RING_TIMEOUT", constants.DefaultRingTimeout),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Log: LogConfig{
			Level:  env.GetString("LOG_LEVEL", "info"),
			Format: env.GetString("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Call.RingTimeout <= 0 {
		return fmt.Errorf("invalid ring timeout: %v", c.Call.RingTimeout)
	}
	if c.Server.Environment == "production" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	return nil
}
