package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"zonerelay/server/anticheat"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	clearAddrEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	def := DefaultConfig()
	if cfg.Server.Addr != def.Server.Addr || cfg.Duel.ChallengeTimeout != def.Duel.ChallengeTimeout {
		t.Errorf("defaults not applied: %+v", cfg.Server)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	clearAddrEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9000"
  allowed_origins: ["https://game.example"]
anticheat:
  max_move_speed: 80
  ban_action: flag
  actions:
    emote:
      max: 3
      window: 5s
duel:
  challenge_timeout: 45s
chat:
  max_length: 120
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.AntiCheat.MaxMoveSpeed != 80 || cfg.AntiCheat.BanAction != anticheat.BanFlag {
		t.Errorf("anticheat = %+v", cfg.AntiCheat)
	}
	if got := cfg.AntiCheat.Actions["emote"]; got.Max != 3 || got.Window != 5*time.Second {
		t.Errorf("emote limit = %+v", got)
	}
	if _, ok := cfg.AntiCheat.Actions["attack"]; !ok {
		t.Error("default attack limit lost when adding a new kind")
	}
	if cfg.AntiCheat.MaxStepDistance != 10 {
		t.Errorf("unset field lost its default: %v", cfg.AntiCheat.MaxStepDistance)
	}
	if cfg.Duel.ChallengeTimeout != 45*time.Second || cfg.Chat.MaxLength != 120 {
		t.Errorf("duel/chat = %+v / %+v", cfg.Duel, cfg.Chat)
	}
}

// clearAddrEnv 屏蔽运行环境里的监听地址变量
func clearAddrEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RELAY_ADDR", "")
	t.Setenv("PORT", "")
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_ADDR", ":7777")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != ":7777" || cfg.Log.Level != "debug" || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("env overrides not applied: addr=%q level=%q redis=%q", cfg.Server.Addr, cfg.Log.Level, cfg.Redis.Addr)
	}
}

func TestLoadConfigPortEnv(t *testing.T) {
	t.Setenv("RELAY_ADDR", "")
	t.Setenv("PORT", "4000")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != ":4000" {
		t.Errorf("addr = %q, want :4000", cfg.Server.Addr)
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("RELAY_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("RELAY_TEST_DOTENV") })
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("RELAY_TEST_DOTENV"); got != "from-file" {
		t.Errorf("env = %q", got)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"wildcard", []string{"*"}, "https://evil.example", "game.example", true},
		{"listed", []string{"https://game.example"}, "https://game.example", "api.example", true},
		{"not listed", []string{"https://game.example"}, "https://evil.example", "api.example", false},
		{"same origin", nil, "https://game.example", "game.example", true},
		{"cross origin", nil, "https://evil.example", "game.example", false},
		{"no origin header", nil, "", "game.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ServerConfig{AllowedOrigins: tt.allowed}
			if got := c.IsOriginAllowed(tt.origin, tt.host); got != tt.want {
				t.Errorf("IsOriginAllowed(%q, %q) = %v, want %v", tt.origin, tt.host, got, tt.want)
			}
		})
	}
}
