package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"INKSHELF_BACKEND", "INKSHELF_STORE_TIMEOUT_MS", "INKSHELF_COMMENT_ATTEMPTS", "REDIS_URL", "MEILI_URL", "S3_USE_SSL"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Backend != BackendGit || cfg.StoreTimeout != 10*time.Second || cfg.CommentAttempts != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RedisURL != "" || cfg.MeiliURL != "" || cfg.S3UseSSL {
		t.Fatalf("optional services should be off by default: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INKSHELF_BACKEND", "S3")
	t.Setenv("INKSHELF_STORE_TIMEOUT_MS", "250")
	t.Setenv("INKSHELF_REFRESH_TTL_SECONDS", "60")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("INKSHELF_SCAN_CONCURRENCY", "not-a-number")

	cfg := Load()
	if cfg.Backend != BackendS3 {
		t.Fatalf("Backend = %q", cfg.Backend)
	}
	if cfg.StoreTimeout != 250*time.Millisecond || cfg.RefreshTTL != time.Minute {
		t.Fatalf("durations = %v, %v", cfg.StoreTimeout, cfg.RefreshTTL)
	}
	if !cfg.S3UseSSL || cfg.ScanConcurrency != 8 {
		t.Fatalf("unexpected parse: ssl=%v concurrency=%d", cfg.S3UseSSL, cfg.ScanConcurrency)
	}
}

func TestValidate(t *testing.T) {
	base := Config{Backend: BackendMemory, StoreTimeout: time.Second, CommentAttempts: 1, ScanConcurrency: 1}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "memory ok", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "floppy" }, wantErr: "unknown"},
		{name: "contents needs url", mutate: func(c *Config) { c.Backend = BackendContentAPI }, wantErr: "INKSHELF_CONTENT_API_URL"},
		{name: "s3 needs keys", mutate: func(c *Config) { c.Backend = BackendS3 }, wantErr: "S3_ACCESS_KEY"},
		{name: "zero attempts", mutate: func(c *Config) { c.CommentAttempts = 0 }, wantErr: "ATTEMPTS"},
		{name: "zero timeout", mutate: func(c *Config) { c.StoreTimeout = 0 }, wantErr: "TIMEOUT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}
