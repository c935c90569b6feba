package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cognidesk/cognidesk/pkg/fault"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Search.TopK != 10 {
		t.Errorf("search top_k = %d", cfg.Search.TopK)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 10s
logging:
  level: debug
search:
  top_k: 25
  dense_weight: 0.8
tools:
  tools:
    - name: create_contact
      service_type: crm
      endpoint: http://crm.internal/contacts
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
	if cfg.Search.TopK != 25 || cfg.Search.DenseWeight != 0.8 {
		t.Errorf("search = %+v", cfg.Search)
	}
	if len(cfg.Tools.Tools) != 1 || cfg.Tools.Tools[0].Name != "create_contact" {
		t.Errorf("tools = %+v", cfg.Tools.Tools)
	}
	// Defaults still fill the rest.
	if cfg.Server.Host != "0.0.0.0" || cfg.Conversation.IdleTimeout == 0 {
		t.Errorf("defaults missing: %+v", cfg)
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis.prod:6379")

	path := writeConfig(t, `
redis:
  addr: ${TEST_REDIS_ADDR}
  password: ${TEST_REDIS_PASSWORD:-fallback-secret}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Redis.Addr != "redis.prod:6379" {
		t.Errorf("addr = %q", cfg.Redis.Addr)
	}
	if cfg.Redis.Password != "fallback-secret" {
		t.Errorf("password = %q", cfg.Redis.Password)
	}
}

func TestValidateRejectsBrokenConfig(t *testing.T) {
	path := writeConfig(t, `
tools:
  tools:
    - name: broken_tool
`)
	if _, err := Load(path); fault.KindOf(err) != fault.KindValidation {
		t.Errorf("expected validation failure, got %v", err)
	}

	path = writeConfig(t, `
batch:
  sources:
    - name: legacy
      type: mainframe
`)
	if _, err := Load(path); fault.KindOf(err) != fault.KindValidation {
		t.Errorf("expected validation failure, got %v", err)
	}
}

func TestExpandEnvHelpers(t *testing.T) {
	t.Setenv("TEST_VALUE", "abc")

	if got := expandEnv("prefix-${TEST_VALUE}-suffix"); got != "prefix-abc-suffix" {
		t.Errorf("got %q", got)
	}
	if got := expandEnv("${TEST_MISSING:-def}"); got != "def" {
		t.Errorf("got %q", got)
	}
	if got := expandEnv("${TEST_MISSING}"); got != "" {
		t.Errorf("got %q", got)
	}
}
