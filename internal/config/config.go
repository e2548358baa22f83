package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Business BusinessConfig `mapstructure:"business"`
	Job      JobConfig      `mapstructure:"job"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	WorkerID int `mapstructure:"worker_id"` // 雪花算法机器ID
}

// DatabaseConfig 支持 mysql / postgres / sqlite 三种驱动
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // sqlite 文件路径
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PlayerEvents string `mapstructure:"player_events"`
}

type RealtimeConfig struct {
	ChannelPrefix string `mapstructure:"channel_prefix"` // redis 发布订阅的频道前缀
	ClientBuffer  int    `mapstructure:"client_buffer"`
}

type BusinessConfig struct {
	OverdraftLimit        string `mapstructure:"overdraft_limit"` // 允许现金透支的额度，decimal 字符串
	MaxRetryCount         int    `mapstructure:"max_retry_count"`
	CallTimeMinutes       int    `mapstructure:"call_time_minutes"`
	CashoutWindowMinutes  int    `mapstructure:"cashout_window_minutes"`
	PlayerLockSeconds     int    `mapstructure:"player_lock_seconds"`
	PlayerLockMaxRetries  int    `mapstructure:"player_lock_max_retries"`
	PlayerLockRetryMillis int    `mapstructure:"player_lock_retry_millis"`
}

type JobConfig struct {
	OutboxIntervalMillis    int `mapstructure:"outbox_interval_millis"`
	SeatTimerSeconds        int `mapstructure:"seat_timer_seconds"`
	BackfillIntervalMinutes int `mapstructure:"backfill_interval_minutes"`
	BatchSize               int `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json / console
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "pokerclub")
	v.SetDefault("database.path", "pokerclub.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.player_events", "pokerclub.player-events")

	v.SetDefault("realtime.channel_prefix", "pokerclub:rt:")
	v.SetDefault("realtime.client_buffer", 64)

	v.SetDefault("business.overdraft_limit", "0")
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.call_time_minutes", 15)
	v.SetDefault("business.cashout_window_minutes", 10)
	v.SetDefault("business.player_lock_seconds", 30)
	v.SetDefault("business.player_lock_max_retries", 30)
	v.SetDefault("business.player_lock_retry_millis", 100)

	v.SetDefault("job.outbox_interval_millis", 200)
	v.SetDefault("job.seat_timer_seconds", 5)
	v.SetDefault("job.backfill_interval_minutes", 60)
	v.SetDefault("job.batch_size", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load 读取配置文件，环境变量 POKERCLUB_* 可覆盖任意配置项
// 例如 POKERCLUB_DATABASE_DRIVER=sqlite
// configPath 为空时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("POKERCLUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if _, err := decimal.NewFromString(cfg.Business.OverdraftLimit); err != nil {
		return nil, fmt.Errorf("overdraft_limit 格式错误: %w", err)
	}

	return cfg, nil
}

// LoadConfig 加载配置文件，失败直接退出
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	GlobalConfig = cfg
	return cfg
}

// OverdraftLimitDecimal 现金允许透支的额度（非负）
func (b BusinessConfig) OverdraftLimitDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(b.OverdraftLimit)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func (b BusinessConfig) CallTime() time.Duration {
	return time.Duration(b.CallTimeMinutes) * time.Minute
}

func (b BusinessConfig) CashoutWindow() time.Duration {
	return time.Duration(b.CashoutWindowMinutes) * time.Minute
}

func (b BusinessConfig) PlayerLockTTL() time.Duration {
	return time.Duration(b.PlayerLockSeconds) * time.Second
}

func (b BusinessConfig) PlayerLockRetryInterval() time.Duration {
	return time.Duration(b.PlayerLockRetryMillis) * time.Millisecond
}
