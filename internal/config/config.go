package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Sender    SenderConfig    `yaml:"sender"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	DKIM      DKIMConfig      `yaml:"dkim"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type DeliveryConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay"`
	ClaimTTL   time.Duration `yaml:"claim_ttl"`
}

type TrackingConfig struct {
	// BaseURL is the externally reachable root used to build click/open
	// tracking and unsubscribe links, without a trailing slash.
	BaseURL string `yaml:"base_url"`
}

type SenderConfig struct {
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	StartTLS bool   `yaml:"starttls"`
}

type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
}

// AMQPConfig configures the signal bus. With an empty URL the process runs
// with an in-memory bus instead of a broker.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8085"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/listmill/app.db"
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = 15 * time.Second
	}
	if cfg.Delivery.BatchSize == 0 {
		cfg.Delivery.BatchSize = 50
	}
	if cfg.Delivery.BatchDelay == 0 {
		cfg.Delivery.BatchDelay = time.Second
	}
	if cfg.Delivery.ClaimTTL == 0 {
		cfg.Delivery.ClaimTTL = 15 * time.Minute
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.AMQP.Exchange == "" {
		cfg.AMQP.Exchange = "listmill"
	}
	if cfg.AMQP.Queue == "" {
		cfg.AMQP.Queue = "listmill.delivery"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	cfg.Tracking.BaseURL = strings.TrimRight(cfg.Tracking.BaseURL, "/")
}

func validate(cfg *Config) error {
	if cfg.Tracking.BaseURL == "" {
		return fmt.Errorf("tracking.base_url is required")
	}
	if !strings.HasPrefix(cfg.Tracking.BaseURL, "http://") && !strings.HasPrefix(cfg.Tracking.BaseURL, "https://") {
		return fmt.Errorf("tracking.base_url must start with http:// or https://")
	}
	if cfg.Sender.FromEmail == "" {
		return fmt.Errorf("sender.from_email is required")
	}
	if cfg.Delivery.BatchSize < 1 {
		return fmt.Errorf("delivery.batch_size must be positive")
	}
	if cfg.DKIM.Enabled {
		if cfg.DKIM.KeyFile == "" {
			return fmt.Errorf("dkim.key_file is required when DKIM is enabled")
		}
		if cfg.DKIM.Domain == "" {
			return fmt.Errorf("dkim.domain is required when DKIM is enabled")
		}
		if cfg.DKIM.Selector == "" {
			return fmt.Errorf("dkim.selector is required when DKIM is enabled")
		}
	}
	return nil
}
