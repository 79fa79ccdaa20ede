package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Port      string `mapstructure:"port"`
	DBDriver  string `mapstructure:"db_driver"`
	DBConn    string `mapstructure:"db_conn"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`

	CBRURL           string  `mapstructure:"cbr_url"`
	CBRDepositSpread float64 `mapstructure:"cbr_deposit_spread"`
	InterestSchedule string  `mapstructure:"interest_schedule"`

	// HMACSecret signs every transaction log entry
	HMACSecret     string `mapstructure:"hmac_secret"`
	FraudThreshold int64  `mapstructure:"fraud_threshold"`
	FraudBlock     bool   `mapstructure:"fraud_block"`
	MaxRetries     int    `mapstructure:"max_retries"`

	// Optional backends; empty means the in-process fallback
	RedisAddr string `mapstructure:"redis_addr"`
	NATSURL   string `mapstructure:"nats_url"`

	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     string `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	SenderEmail  string `mapstructure:"sender_email"`
	NotifyBuffer int    `mapstructure:"notify_buffer"`
}

var drivers = map[string]bool{"postgres": true, "sqlite3": true, "memory": true}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_driver", "postgres")
	v.SetDefault("db_conn", "host=localhost port=5436 user=test password=test dbname=bank sslmode=disable")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("jwt_secret", "secret")
	v.SetDefault("cbr_url", "https://www.cbr.ru/DailyInfoWebServ/DailyInfo.asmx")
	v.SetDefault("cbr_deposit_spread", 5.0)
	v.SetDefault("interest_schedule", "0 0 1 * *")
	v.SetDefault("hmac_secret", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6")
	v.SetDefault("fraud_threshold", 100000)
	v.SetDefault("fraud_block", false)
	v.SetDefault("max_retries", 5)
	v.SetDefault("redis_addr", "")
	v.SetDefault("nats_url", "")
	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", "587")
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("sender_email", "")
	v.SetDefault("notify_buffer", 256)
}

// NewConfig loads configuration from defaults, an optional config file and
// environment variables, in increasing priority
func NewConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required values
func (c *Config) Validate() error {
	if !drivers[c.DBDriver] {
		return fmt.Errorf("DB_DRIVER %q is not supported", c.DBDriver)
	}
	if c.DBConn == "" && c.DBDriver != "memory" {
		return errors.New("DB_CONN is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.HMACSecret == "" {
		return errors.New("HMAC_SECRET is required")
	}
	if c.FraudThreshold <= 0 {
		return errors.New("FRAUD_THRESHOLD must be positive")
	}
	if c.MaxRetries <= 0 {
		return errors.New("MAX_RETRIES must be positive")
	}
	if c.NotifyBuffer <= 0 {
		return errors.New("NOTIFY_BUFFER must be positive")
	}
	return nil
}

// SMTPEnabled reports whether email notifications can be sent
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SenderEmail != ""
}
