package global

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	GatewayID string `mapstructure:"gateway_id"`
	NodeID    int64  `mapstructure:"node_id"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	UpdateTopic string   `mapstructure:"update_topic"`
	GroupPrefix string   `mapstructure:"group_prefix"`
}

type NatsConfig struct {
	URL            string `mapstructure:"url"`
	ComposeSubject string `mapstructure:"compose_subject"`
}

// SeqConfig 间隙判定与响应上限都是配置，不在调用点写死。
type SeqConfig struct {
	GapThreshold int64 `mapstructure:"gap_threshold"` // 超过则 TOO_LONG
	HardLimit    int   `mapstructure:"hard_limit"`    // totalLimit 钳制上限
}

type CryptoConfig struct {
	RecordKeyHex string `mapstructure:"record_key_hex"` // 32 字节，hex 编码
}

type AppConfig struct {
	Server ServerConfig `mapstructure:"server"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Nats   NatsConfig   `mapstructure:"nats"`
	Seq    SeqConfig    `mapstructure:"seq"`
	Crypto CryptoConfig `mapstructure:"crypto"`
}

var Config = defaultConfig()

func defaultConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{Addr: ":8480", GatewayID: "gw-1", NodeID: 1},
		Redis:  RedisConfig{Addr: "127.0.0.1:6379", PoolSize: 64},
		Mongo:  MongoConfig{URI: "mongodb://127.0.0.1:27017", Database: "usync", MaxPoolSize: 100},
		Kafka:  KafkaConfig{UpdateTopic: "usync.updates", GroupPrefix: "usync-gw"},
		Nats:   NatsConfig{URL: "nats://127.0.0.1:4222", ComposeSubject: "usync.compose"},
		Seq:    SeqConfig{GapThreshold: 10000, HardLimit: 1500},
	}
}

// Load 从 config.yaml 读取配置；缺省值见 defaultConfig。
func Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("usync")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaultConfig()
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Seq.GapThreshold <= 0 {
		cfg.Seq.GapThreshold = 10000
	}
	if cfg.Seq.HardLimit <= 0 {
		cfg.Seq.HardLimit = 1500
	}
	Config = cfg
	return nil
}

// RecordKey 解析落盘加密密钥；未配置返回 nil（明文存储，仅限开发）。
func (c CryptoConfig) RecordKey() ([]byte, error) {
	if c.RecordKeyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.RecordKeyHex)
	if err != nil {
		return nil, fmt.Errorf("record_key_hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("record key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// 便捷读取
func GapThreshold() int64      { return Config.Seq.GapThreshold }
func HardLimit() int           { return Config.Seq.HardLimit }
func SessionTTL() time.Duration { return 30 * 24 * time.Hour }
