package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// GetDSN 构建数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config 报警 Broker 配置
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`

	// 公开基础 URL（用于 ack 链接）
	BaseURL string `yaml:"base_url"`

	// 触发入口配置
	Trigger struct {
		BucketSeconds      int `yaml:"bucket_seconds"`        // 幂等时间桶宽度（秒），默认 10
		ReservationTTL     int `yaml:"reservation_ttl"`       // 幂等预留 TTL（秒），默认桶宽 x3
		RateLimitPerMinute int `yaml:"rate_limit_per_minute"` // 每设备每分钟限制，默认 10
	} `yaml:"trigger"`

	// 升级调度配置
	Escalation struct {
		QueueKey        string `yaml:"queue_key"`     // 延迟任务队列键
		PollInterval    int    `yaml:"poll_interval"` // 轮询间隔（秒），默认 1
		WorkerCount     int    `yaml:"worker_count"`  // 并发工作协程数，默认 4
		BatchSize       int    `yaml:"batch_size"`    // 每轮取任务数量，默认 16
		DefaultPolicyID string `yaml:"default_policy_id"`
	} `yaml:"escalation"`

	// 自由文本字段长度限制
	Limits struct {
		ActorMaxLen int `yaml:"actor_max_len"`
		NoteMaxLen  int `yaml:"note_max_len"`
	} `yaml:"limits"`

	Zammad struct {
		BaseURL      string `yaml:"base_url"`
		APIToken     string `yaml:"api_token"`
		Group        string `yaml:"group"`
		Customer     string `yaml:"customer"`
		PriorityIDP0 int    `yaml:"priority_id_p0"`
		StateIDNew   int    `yaml:"state_id_new"`
	} `yaml:"zammad"`

	SendXMS struct {
		Enabled  bool   `yaml:"enabled"`
		BaseURL  string `yaml:"base_url"`
		APIKey   string `yaml:"api_key"`
		FromName string `yaml:"from_name"`
		SendPath string `yaml:"send_path"`
	} `yaml:"sendxms"`

	Signal struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
		GroupID  string `yaml:"group_id"`
		SendPath string `yaml:"send_path"`
	} `yaml:"signal"`

	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 加载配置
// 先从环境变量加载默认值，再用 CONFIG_FILE 指定的 YAML 文件覆盖（可选）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "alarm")
	cfg.Database.Password = getEnv("DB_PASSWORD", "alarm")
	cfg.Database.Database = getEnv("DB_NAME", "alarm")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.BaseURL = getEnv("BASE_URL", "http://localhost:8080")

	cfg.Trigger.BucketSeconds = getEnvInt("TRIGGER_BUCKET_SECONDS", 10)
	cfg.Trigger.ReservationTTL = getEnvInt("TRIGGER_RESERVATION_TTL", 30)
	cfg.Trigger.RateLimitPerMinute = getEnvInt("TRIGGER_RATE_LIMIT_PER_MINUTE", 10)

	cfg.Escalation.QueueKey = getEnv("ESCALATION_QUEUE_KEY", "alarm-broker:jobs")
	cfg.Escalation.PollInterval = getEnvInt("ESCALATION_POLL_INTERVAL", 1)
	cfg.Escalation.WorkerCount = getEnvInt("ESCALATION_WORKER_COUNT", 4)
	cfg.Escalation.BatchSize = getEnvInt("ESCALATION_BATCH_SIZE", 16)
	cfg.Escalation.DefaultPolicyID = getEnv("ESCALATION_DEFAULT_POLICY", "default")

	cfg.Limits.ActorMaxLen = getEnvInt("LIMIT_ACTOR_MAX_LEN", 120)
	cfg.Limits.NoteMaxLen = getEnvInt("LIMIT_NOTE_MAX_LEN", 2000)

	cfg.Zammad.BaseURL = getEnv("ZAMMAD_BASE_URL", "")
	cfg.Zammad.APIToken = getEnv("ZAMMAD_API_TOKEN", "")
	cfg.Zammad.Group = getEnv("ZAMMAD_GROUP", "Notfallstelle")
	cfg.Zammad.Customer = getEnv("ZAMMAD_CUSTOMER", "guess:alarm-system@example.org")
	cfg.Zammad.PriorityIDP0 = getEnvInt("ZAMMAD_PRIORITY_ID_P0", 3)
	cfg.Zammad.StateIDNew = getEnvInt("ZAMMAD_STATE_ID_NEW", 1)

	cfg.SendXMS.Enabled = getEnvBool("SENDXMS_ENABLED", false)
	cfg.SendXMS.BaseURL = getEnv("SENDXMS_BASE_URL", "")
	cfg.SendXMS.APIKey = getEnv("SENDXMS_API_KEY", "")
	cfg.SendXMS.FromName = getEnv("SENDXMS_FROM_NAME", "Notfall")
	cfg.SendXMS.SendPath = getEnv("SENDXMS_SEND_PATH", "/send")

	cfg.Signal.Enabled = getEnvBool("SIGNAL_ENABLED", false)
	cfg.Signal.Endpoint = getEnv("SIGNAL_ENDPOINT", "")
	cfg.Signal.GroupID = getEnv("SIGNAL_GROUP_ID", "")
	cfg.Signal.SendPath = getEnv("SIGNAL_SEND_PATH", "/v2/send")

	cfg.MQTT.Enabled = getEnvBool("MQTT_ENABLED", false)
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "alarm-broker")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "alarm-broker/events")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// YAML 覆盖（可选）
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
