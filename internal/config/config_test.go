package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listmill.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const minimalConfig = `
tracking:
  base_url: https://news.example.com
sender:
  from_email: news@example.com
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":8085" {
		t.Errorf("unexpected listen addr: %s", cfg.Server.ListenAddr)
	}
	if cfg.Scheduler.PollInterval != 15*time.Second {
		t.Errorf("unexpected poll interval: %s", cfg.Scheduler.PollInterval)
	}
	if cfg.Delivery.BatchSize != 50 {
		t.Errorf("unexpected batch size: %d", cfg.Delivery.BatchSize)
	}
	if cfg.Delivery.BatchDelay != time.Second {
		t.Errorf("unexpected batch delay: %s", cfg.Delivery.BatchDelay)
	}
	if cfg.Delivery.ClaimTTL != 15*time.Minute {
		t.Errorf("unexpected claim ttl: %s", cfg.Delivery.ClaimTTL)
	}
	if cfg.SMTP.Port != 587 {
		t.Errorf("unexpected smtp port: %d", cfg.SMTP.Port)
	}
	if cfg.AMQP.Exchange != "listmill" || cfg.AMQP.Queue != "listmill.delivery" {
		t.Errorf("unexpected amqp defaults: %s / %s", cfg.AMQP.Exchange, cfg.AMQP.Queue)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %s / %s", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  listen_addr: ":9000"
scheduler:
  poll_interval: 5s
delivery:
  batch_size: 10
  batch_delay: 250ms
tracking:
  base_url: https://news.example.com/
sender:
  from_email: news@example.com
  from_name: Example News
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("unexpected listen addr: %s", cfg.Server.ListenAddr)
	}
	if cfg.Scheduler.PollInterval != 5*time.Second {
		t.Errorf("unexpected poll interval: %s", cfg.Scheduler.PollInterval)
	}
	if cfg.Delivery.BatchSize != 10 || cfg.Delivery.BatchDelay != 250*time.Millisecond {
		t.Errorf("unexpected delivery config: %+v", cfg.Delivery)
	}
	// Trailing slash is stripped so URL building can always append paths
	if cfg.Tracking.BaseURL != "https://news.example.com" {
		t.Errorf("trailing slash not trimmed: %s", cfg.Tracking.BaseURL)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing base url",
			content: "sender:\n  from_email: a@b.c\n",
			wantErr: "tracking.base_url",
		},
		{
			name:    "base url without scheme",
			content: "tracking:\n  base_url: news.example.com\nsender:\n  from_email: a@b.c\n",
			wantErr: "http:// or https://",
		},
		{
			name:    "missing from email",
			content: "tracking:\n  base_url: https://news.example.com\n",
			wantErr: "sender.from_email",
		},
		{
			name:    "negative batch size",
			content: minimalConfig + "delivery:\n  batch_size: -1\n",
			wantErr: "batch_size",
		},
		{
			name:    "dkim without key",
			content: minimalConfig + "dkim:\n  enabled: true\n  domain: example.com\n  selector: mail\n",
			wantErr: "dkim.key_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
