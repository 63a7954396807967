package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/agent"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/database"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/decision"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/device"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/internal/command"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/llm"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/storage"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Log      LogConfig
	Agent    AgentConfig
	Model    ModelConfig
	IOS      IOSPoolConfig
	Android  AndroidPoolConfig
	API      APIConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
}

// StorageConfig holds blob storage configuration.
type StorageConfig struct {
	Type            string // "local" or "s3"
	BaseDir         string // For local: "./screenshots"
	S3Bucket        string
	S3Region        string
	S3Prefix        string
	S3PresignExpiry time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// AgentConfig holds job execution configuration.
type AgentConfig struct {
	TimeLimit            time.Duration
	MaxConcurrentWorkers int
	MaestroBin           string
	MaestroTimeout       time.Duration
	MaxSteps             int
	TargetScreenshots    int
}

// ModelConfig selects the decision models.
type ModelConfig struct {
	Provider                   string // "bedrock" or "openrouter"
	Region                     string
	APIKey                     string
	BaseURL                    string
	MaxTokens                  int
	Primary                    string
	Fallback                   string
	Timeout                    time.Duration
	LowConfidenceThreshold     float64
	FailureEscalationThreshold int
	HistoryWindow              int
}

// PoolConfig is the part shared by both platform pools.
type PoolConfig struct {
	Enabled         bool
	DeviceType      string
	MinIdle         int
	MaxSize         int
	AcquireTimeout  time.Duration
	DrainTimeout    time.Duration
	NamePrefix      string
	CleanupStrategy string
	CommandTimeout  time.Duration
	BootTimeout     time.Duration

	ReconcileInterval time.Duration
}

// IOSPoolConfig configures the simulator pool.
type IOSPoolConfig struct {
	PoolConfig
	Runtime string
}

// AndroidPoolConfig configures the emulator pool.
type AndroidPoolConfig struct {
	PoolConfig
	SystemImage string
	Headless    bool
}

// APIConfig holds bcrypt hashes of the accepted bearer tokens. With both
// empty the API is unauthenticated.
type APIConfig struct {
	WriteTokenHash string
	ReadTokenHash  string
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// EXPLORER_SERVER_PORT overrides server.port
	v.SetEnvPrefix("EXPLORER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config

	config.Server.Host = v.GetString("server.host")
	config.Server.Port = v.GetInt("server.port")
	config.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	config.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	config.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")

	config.Database.Host = v.GetString("database.host")
	config.Database.Port = v.GetInt("database.port")
	config.Database.User = v.GetString("database.user")
	config.Database.Password = v.GetString("database.password")
	config.Database.Database = v.GetString("database.database")
	config.Database.MaxOpenConns = v.GetInt("database.max_open_conns")
	config.Database.MaxIdleConns = v.GetInt("database.max_idle_conns")

	config.Storage.Type = v.GetString("storage.type")
	config.Storage.BaseDir = v.GetString("storage.base_dir")
	config.Storage.S3Bucket = v.GetString("storage.s3_bucket")
	config.Storage.S3Region = v.GetString("storage.s3_region")
	config.Storage.S3Prefix = v.GetString("storage.s3_prefix")
	config.Storage.S3PresignExpiry = v.GetDuration("storage.s3_presign_expiry")

	config.Log.Level = v.GetString("log.level")
	config.Log.Format = v.GetString("log.format")

	config.Agent.TimeLimit = v.GetDuration("agent.time_limit")
	config.Agent.MaxConcurrentWorkers = v.GetInt("agent.max_concurrent_workers")
	config.Agent.MaestroBin = v.GetString("agent.maestro_bin")
	config.Agent.MaestroTimeout = v.GetDuration("agent.maestro_timeout")
	config.Agent.MaxSteps = v.GetInt("agent.max_steps")
	config.Agent.TargetScreenshots = v.GetInt("agent.target_screenshots")

	config.Model.Provider = v.GetString("model.provider")
	config.Model.Region = v.GetString("model.region")
	config.Model.APIKey = v.GetString("model.api_key")
	config.Model.BaseURL = v.GetString("model.base_url")
	config.Model.MaxTokens = v.GetInt("model.max_tokens")
	config.Model.Primary = v.GetString("model.primary")
	config.Model.Fallback = v.GetString("model.fallback")
	config.Model.Timeout = v.GetDuration("model.timeout")
	config.Model.LowConfidenceThreshold = v.GetFloat64("model.low_confidence_threshold")
	config.Model.FailureEscalationThreshold = v.GetInt("model.failure_escalation_threshold")
	config.Model.HistoryWindow = v.GetInt("model.history_window")

	config.IOS.PoolConfig = readPool(v, "pool.ios")
	config.IOS.Runtime = v.GetString("pool.ios.runtime")
	config.Android.PoolConfig = readPool(v, "pool.android")
	config.Android.SystemImage = v.GetString("pool.android.system_image")
	config.Android.Headless = v.GetBool("pool.android.headless")

	config.API.WriteTokenHash = v.GetString("api.write_token_hash")
	config.API.ReadTokenHash = v.GetString("api.read_token_hash")

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "screenshot_explorer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.base_dir", "./screenshots")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_prefix", "")
	v.SetDefault("storage.s3_presign_expiry", "15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	ac := agent.DefaultConfig()
	v.SetDefault("agent.time_limit", ac.TimeLimit.String())
	v.SetDefault("agent.max_concurrent_workers", ac.MaxConcurrentWorkers)
	v.SetDefault("agent.maestro_bin", ac.MaestroBin)
	v.SetDefault("agent.maestro_timeout", ac.MaestroTimeout.String())
	v.SetDefault("agent.max_steps", ac.MaxSteps)
	v.SetDefault("agent.target_screenshots", ac.TargetScreenshots)

	dc := decision.DefaultConfig()
	v.SetDefault("model.provider", ac.Model.Provider)
	v.SetDefault("model.region", ac.Model.Region)
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.max_tokens", ac.Model.MaxTokens)
	v.SetDefault("model.primary", ac.PrimaryModel)
	v.SetDefault("model.fallback", "")
	v.SetDefault("model.timeout", dc.ModelTimeout.String())
	v.SetDefault("model.low_confidence_threshold", dc.LowConfidenceThreshold)
	v.SetDefault("model.failure_escalation_threshold", dc.FailureEscalationThreshold)
	v.SetDefault("model.history_window", dc.HistoryWindow)

	pc := device.DefaultConfig()
	for _, p := range []string{"pool.ios", "pool.android"} {
		v.SetDefault(p+".enabled", false)
		v.SetDefault(p+".min_idle", pc.MinIdle)
		v.SetDefault(p+".max_size", pc.MaxSize)
		v.SetDefault(p+".acquire_timeout", pc.AcquireTimeout.String())
		v.SetDefault(p+".drain_timeout", pc.DrainTimeout.String())
		v.SetDefault(p+".name_prefix", pc.NamePrefix)
		v.SetDefault(p+".cleanup_strategy", string(pc.CleanupStrategy))
		v.SetDefault(p+".command_timeout", "60s")
		v.SetDefault(p+".reconcile_interval", pc.ReconcileInterval.String())
	}
	v.SetDefault("pool.ios.device_type", "iPhone 15")
	v.SetDefault("pool.ios.runtime", "")
	v.SetDefault("pool.ios.boot_timeout", "3m")
	v.SetDefault("pool.android.device_type", "pixel_7")
	v.SetDefault("pool.android.system_image", "system-images;android-34;google_apis;x86_64")
	v.SetDefault("pool.android.headless", true)
	v.SetDefault("pool.android.boot_timeout", "4m")

	v.SetDefault("api.write_token_hash", "")
	v.SetDefault("api.read_token_hash", "")
}

func readPool(v *viper.Viper, prefix string) PoolConfig {
	return PoolConfig{
		Enabled:         v.GetBool(prefix + ".enabled"),
		DeviceType:      v.GetString(prefix + ".device_type"),
		MinIdle:         v.GetInt(prefix + ".min_idle"),
		MaxSize:         v.GetInt(prefix + ".max_size"),
		AcquireTimeout:  v.GetDuration(prefix + ".acquire_timeout"),
		DrainTimeout:    v.GetDuration(prefix + ".drain_timeout"),
		NamePrefix:      v.GetString(prefix + ".name_prefix"),
		CleanupStrategy: v.GetString(prefix + ".cleanup_strategy"),
		CommandTimeout:  v.GetDuration(prefix + ".command_timeout"),
		BootTimeout:     v.GetDuration(prefix + ".boot_timeout"),

		ReconcileInterval: v.GetDuration(prefix + ".reconcile_interval"),
	}
}

func (c *Config) databaseConfig() database.Config {
	return database.Config{
		Host:         c.Database.Host,
		Port:         c.Database.Port,
		User:         c.Database.User,
		Password:     c.Database.Password,
		Database:     c.Database.Database,
		MaxOpenConns: c.Database.MaxOpenConns,
		MaxIdleConns: c.Database.MaxIdleConns,
	}
}

func (c *Config) storageConfig() storage.Config {
	return storage.Config{
		Type:          c.Storage.Type,
		BaseDir:       c.Storage.BaseDir,
		S3Bucket:      c.Storage.S3Bucket,
		S3Region:      c.Storage.S3Region,
		S3Prefix:      c.Storage.S3Prefix,
		PresignExpiry: c.Storage.S3PresignExpiry,
	}
}

func (c *Config) newLogger() *logger.LogrusLogger {
	return logger.NewLogrusLoggerWithOptions(logger.Options{Level: c.Log.Level, Format: c.Log.Format})
}

func (c *Config) agentConfig() agent.Config {
	ac := agent.DefaultConfig()
	ac.TimeLimit = c.Agent.TimeLimit
	ac.MaxConcurrentWorkers = c.Agent.MaxConcurrentWorkers
	ac.MaestroBin = c.Agent.MaestroBin
	ac.MaestroTimeout = c.Agent.MaestroTimeout
	ac.MaxSteps = c.Agent.MaxSteps
	ac.TargetScreenshots = c.Agent.TargetScreenshots

	ac.Model = llm.Config{
		Provider:  c.Model.Provider,
		Region:    c.Model.Region,
		APIKey:    c.Model.APIKey,
		BaseURL:   c.Model.BaseURL,
		MaxTokens: c.Model.MaxTokens,
	}
	ac.PrimaryModel = c.Model.Primary
	ac.FallbackModel = c.Model.Fallback
	ac.Decision.ModelTimeout = c.Model.Timeout
	ac.Decision.LowConfidenceThreshold = c.Model.LowConfidenceThreshold
	ac.Decision.FailureEscalationThreshold = c.Model.FailureEscalationThreshold
	ac.Decision.HistoryWindow = c.Model.HistoryWindow
	return ac
}

func (p PoolConfig) deviceConfig() device.Config {
	return device.Config{
		MinIdle:         p.MinIdle,
		MaxSize:         p.MaxSize,
		AcquireTimeout:  p.AcquireTimeout,
		DrainTimeout:    p.DrainTimeout,
		NamePrefix:      p.NamePrefix,
		CleanupStrategy: device.CleanupStrategy(p.CleanupStrategy),

		ReconcileInterval: p.ReconcileInterval,
	}
}

// provisioners builds a provisioner per enabled platform. only, when set,
// limits the result to that platform.
func (c *Config) provisioners(only hierarchy.Platform) map[hierarchy.Platform]device.Provisioner {
	provs := make(map[hierarchy.Platform]device.Provisioner)
	exec := command.Exec{}

	if c.IOS.Enabled && (only == "" || only == hierarchy.PlatformIOS) {
		provs[hierarchy.PlatformIOS] = device.NewSimctlProvisioner(device.SimctlConfig{
			DeviceType:     c.IOS.DeviceType,
			Runtime:        c.IOS.Runtime,
			CommandTimeout: c.IOS.CommandTimeout,
			BootTimeout:    c.IOS.BootTimeout,
		}, exec)
	}
	if c.Android.Enabled && (only == "" || only == hierarchy.PlatformAndroid) {
		provs[hierarchy.PlatformAndroid] = device.NewEmulatorProvisioner(device.EmulatorConfig{
			SystemImage:    c.Android.SystemImage,
			DeviceType:     c.Android.DeviceType,
			Headless:       c.Android.Headless,
			CommandTimeout: c.Android.CommandTimeout,
			BootTimeout:    c.Android.BootTimeout,
		}, exec, exec)
	}
	return provs
}

func (c *Config) poolConfig(p hierarchy.Platform) PoolConfig {
	if p == hierarchy.PlatformIOS {
		return c.IOS.PoolConfig
	}
	return c.Android.PoolConfig
}

// newPools builds a pool per enabled platform.
func (c *Config) newPools(only hierarchy.Platform, log logger.Logger) (map[hierarchy.Platform]*device.Pool, error) {
	pools := make(map[hierarchy.Platform]*device.Pool)
	for platform, prov := range c.provisioners(only) {
		pool, err := device.NewPool(c.poolConfig(platform).deviceConfig(), prov, log.WithField("platform", string(platform)))
		if err != nil {
			return nil, fmt.Errorf("invalid %s pool config: %w", platform, err)
		}
		pools[platform] = pool
	}
	return pools, nil
}

// shutdownPools drains every pool and tears its devices down.
func shutdownPools(ctx context.Context, pools map[hierarchy.Platform]*device.Pool, log logger.Logger) {
	for platform, pool := range pools {
		if err := pool.Shutdown(ctx); err != nil {
			log.Error(ctx, "device pool shutdown failed", map[string]interface{}{
				"platform": string(platform),
				"error":    err.Error(),
			})
		}
	}
}

func openDatabase(cfg *Config) (*gorm.DB, *sql.DB, error) {
	db, err := database.Connect(cfg.databaseConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	return db, sqlDB, nil
}
