package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Packs     []PackConfig    `mapstructure:"packs"`
	Credits   CreditsConfig   `mapstructure:"credits"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Tools     []ToolConfig    `mapstructure:"tools"`
	OSS       OSSConfig       `mapstructure:"oss"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	Path         string `mapstructure:"path"` // sqlite 文件路径
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// PaymentConfig 支付网关配置，密钥缺失时下单接口直接拒绝
type PaymentConfig struct {
	Provider      string        `mapstructure:"provider"`
	BaseURL       string        `mapstructure:"base_url"`
	KeyID         string        `mapstructure:"key_id"`
	KeySecret     string        `mapstructure:"key_secret"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// PackConfig 服务端定价的积分包
type PackConfig struct {
	ID        string `mapstructure:"id"`
	Credits   string `mapstructure:"credits"`    // 十进制字符串，如 "50"
	PriceBase string `mapstructure:"price_base"` // 主币单位，如 "99.00"
	TaxRate   string `mapstructure:"tax_rate"`   // 如 "0.18"
	Currency  string `mapstructure:"currency"`
}

type CreditsConfig struct {
	PurchaseExpiryDays int `mapstructure:"purchase_expiry_days"`
	UsageExpiryDays    int `mapstructure:"usage_expiry_days"`
}

type BillingConfig struct {
	Mode               string        `mapstructure:"mode"` // reserve, refund
	ReservationTimeout time.Duration `mapstructure:"reservation_timeout"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	CommitBelowStatus  int           `mapstructure:"commit_below_status"`
}

type QuotaConfig struct {
	HashKey  string           `mapstructure:"hash_key"`
	Limits   map[string]int64 `mapstructure:"limits"`
	IPLimits map[string]int64 `mapstructure:"ip_limits"`
}

// ToolConfig 计费工具，请求会被转发到 Upstream
type ToolConfig struct {
	Name        string `mapstructure:"name"`
	Upstream    string `mapstructure:"upstream"`
	CostPerPage string `mapstructure:"cost_per_page"`
	MinCost     string `mapstructure:"min_cost"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
}

type RetentionConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Days      int           `mapstructure:"days"`
	BatchSize int           `mapstructure:"batch_size"`
	Interval  time.Duration `mapstructure:"interval"`
}

func Load(configPath string) (*Config, error) {
	// .env 仅用于本地开发，不存在时忽略
	_ = godotenv.Load()

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("payment.provider", "razorpay")
	v.SetDefault("payment.base_url", "https://api.razorpay.com/v1")
	v.SetDefault("payment.timeout", 10*time.Second)
	v.SetDefault("credits.purchase_expiry_days", 90)
	v.SetDefault("credits.usage_expiry_days", 90)
	v.SetDefault("billing.mode", "reserve")
	v.SetDefault("billing.reservation_timeout", 15*time.Minute)
	v.SetDefault("billing.sweep_interval", time.Minute)
	v.SetDefault("billing.commit_below_status", 400)
	v.SetDefault("retention.days", 365)
	v.SetDefault("retention.batch_size", 500)
	v.SetDefault("retention.interval", 24*time.Hour)
}
