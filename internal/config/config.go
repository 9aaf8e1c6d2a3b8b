package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Render     RenderConfig
	Transcribe TranscribeConfig
	Session    SessionConfig
	Assets     AssetsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
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
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	UploadPartSize  int64
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// RenderConfig holds export rendering configuration
type RenderConfig struct {
	WorkerCount            int
	TempDir                string
	FFmpegPath             string
	FFprobePath            string
	MaxConcurrent          int
	FrameRetryLimit        int
	MaxConsecutiveFailures int
	ETAWindow              int
}

// TranscribeConfig holds speech-to-text configuration
type TranscribeConfig struct {
	Engine        string
	BinaryPath    string
	ModelPath     string
	ServiceURL    string
	FFmpegPath    string
	TempDir       string
	Language      string
	MaxConcurrent int
	JobTimeout    time.Duration
}

// SessionConfig holds editing session configuration
type SessionConfig struct {
	HistoryLimit     int
	AutosaveInterval time.Duration
	IdleTimeout      time.Duration
}

// AssetsConfig holds media registration configuration
type AssetsConfig struct {
	ProbeTimeout   time.Duration
	WaveformBlocks int
	MaxSizeBytes   int64
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")

	// Auth defaults
	viper.SetDefault("auth.jwtSecret", "change-me")
	viper.SetDefault("auth.tokenExpiry", "24h")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "cutcore")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Storage defaults
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "media")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)
	viper.SetDefault("storage.uploadPartSize", 10*1024*1024) // 10MB

	// Queue defaults
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	// Render defaults
	viper.SetDefault("render.workerCount", 2)
	viper.SetDefault("render.tempDir", "/tmp/cutcore")
	viper.SetDefault("render.ffmpegPath", "ffmpeg")
	viper.SetDefault("render.ffprobePath", "ffprobe")
	viper.SetDefault("render.maxConcurrent", 4)
	viper.SetDefault("render.frameRetryLimit", 1)
	viper.SetDefault("render.maxConsecutiveFailures", 3)
	viper.SetDefault("render.etaWindow", 60)

	// Transcribe defaults
	viper.SetDefault("transcribe.engine", "whisper")
	viper.SetDefault("transcribe.binaryPath", "whisper")
	viper.SetDefault("transcribe.modelPath", "")
	viper.SetDefault("transcribe.serviceURL", "")
	viper.SetDefault("transcribe.ffmpegPath", "ffmpeg")
	viper.SetDefault("transcribe.tempDir", "/tmp/cutcore")
	viper.SetDefault("transcribe.language", "en")
	viper.SetDefault("transcribe.maxConcurrent", 2)
	viper.SetDefault("transcribe.jobTimeout", "30m")

	// Session defaults
	viper.SetDefault("session.historyLimit", 1000)
	viper.SetDefault("session.autosaveInterval", "30s")
	viper.SetDefault("session.idleTimeout", "1h")

	// Assets defaults
	viper.SetDefault("assets.probeTimeout", "30s")
	viper.SetDefault("assets.waveformBlocks", 2000)
	viper.SetDefault("assets.maxSizeBytes", 10*1024*1024*1024) // 10GB
}
