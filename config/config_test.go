package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "empty base url",
			mutate: func(cfg *Config) {
				cfg.BaseURL = ""
			},
			wantErr: "base URL",
		},
		{
			name: "url without host",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "http://"
			},
			wantErr: "base URL",
		},
		{
			name: "zero max pages",
			mutate: func(cfg *Config) {
				cfg.MaxPages = 0
			},
			wantErr: "max pages",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "negative retries",
			mutate: func(cfg *Config) {
				cfg.MaxRetries = -1
			},
			wantErr: "max retries",
		},
		{
			name: "negative retry delay",
			mutate: func(cfg *Config) {
				cfg.RetryDelay = -time.Second
			},
			wantErr: "retry delay",
		},
		{
			name: "negative page delay",
			mutate: func(cfg *Config) {
				cfg.PageDelay = -time.Second
			},
			wantErr: "page delay",
		},
		{
			name: "empty user agent",
			mutate: func(cfg *Config) {
				cfg.UserAgent = ""
			},
			wantErr: "user agent",
		},
		{
			name: "empty database url",
			mutate: func(cfg *Config) {
				cfg.DatabaseURL = ""
			},
			wantErr: "database URL",
		},
		{
			name: "zero connect timeout",
			mutate: func(cfg *Config) {
				cfg.ConnectTimeout = 0
			},
			wantErr: "connect timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SCRAPER_TEST_STRING", "hello")
	if value, ok := EnvString("SCRAPER_TEST_STRING"); !ok || value != "hello" {
		t.Fatalf("EnvString = %q, %v", value, ok)
	}
	if _, ok := EnvString("SCRAPER_TEST_MISSING"); ok {
		t.Fatalf("EnvString should report absence")
	}

	t.Setenv("SCRAPER_TEST_INT", "42")
	if value, ok, err := EnvInt("SCRAPER_TEST_INT"); err != nil || !ok || value != 42 {
		t.Fatalf("EnvInt = %d, %v, %v", value, ok, err)
	}
	t.Setenv("SCRAPER_TEST_INT", "nope")
	if _, _, err := EnvInt("SCRAPER_TEST_INT"); err == nil {
		t.Fatalf("EnvInt should reject non-integers")
	}

	t.Setenv("SCRAPER_TEST_DURATION", "750ms")
	if value, ok, err := EnvDuration("SCRAPER_TEST_DURATION"); err != nil || !ok || value != 750*time.Millisecond {
		t.Fatalf("EnvDuration = %v, %v, %v", value, ok, err)
	}
}
