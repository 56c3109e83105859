package config

import (
	"os"
	"testing"
	"time"
)

const testSecret = "auth:\n  jwtSecret: \"0123456789abcdef0123\"\n"

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9191
  host: "127.0.0.1"

database:
  host: "testdb"
  dbname: "kidtube_test"

engine:
  defaultTimezone: "Europe/Berlin"
  schedulePolicy: "per_day"
  maxDeltaSeconds: 60

approval:
  submitCooldown: "45s"
` + testSecret)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Expected port 9191, got %d", cfg.Server.Port)
	}
	if cfg.Database.Host != "testdb" {
		t.Errorf("Expected database host testdb, got %s", cfg.Database.Host)
	}
	if cfg.Engine.SchedulePolicy != "per_day" {
		t.Errorf("Expected per_day policy, got %s", cfg.Engine.SchedulePolicy)
	}
	if cfg.Engine.MaxDeltaSeconds != 60 {
		t.Errorf("Expected max delta 60, got %d", cfg.Engine.MaxDeltaSeconds)
	}
	if cfg.Approval.SubmitCooldown != 45*time.Second {
		t.Errorf("Expected 45s cooldown, got %v", cfg.Approval.SubmitCooldown)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"+testSecret))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Engine.SchedulePolicy != "exhaustive" {
		t.Errorf("Expected exhaustive default, got %s", cfg.Engine.SchedulePolicy)
	}
	if cfg.Engine.MaxDeltaSeconds != 120 {
		t.Errorf("Expected max delta 120, got %d", cfg.Engine.MaxDeltaSeconds)
	}
	if cfg.Approval.SubmitCooldown != 30*time.Second {
		t.Errorf("Expected 30s cooldown, got %v", cfg.Approval.SubmitCooldown)
	}
	if cfg.Engine.HeartbeatGap != 8*time.Second {
		t.Errorf("Expected 8s heartbeat gap, got %v", cfg.Engine.HeartbeatGap)
	}
	if cfg.Session.PINMaxAttempts != 5 {
		t.Errorf("Expected 5 PIN attempts, got %d", cfg.Session.PINMaxAttempts)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KIDTUBE_ENGINE_MAXDELTASECONDS", "30")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"+testSecret))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Engine.MaxDeltaSeconds != 30 {
		t.Errorf("Expected env override 30, got %d", cfg.Engine.MaxDeltaSeconds)
	}
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	_, err := Load(writeConfig(t, "engine:\n  schedulePolicy: \"sometimes\"\n"+testSecret))
	if err == nil {
		t.Error("Expected error for invalid schedule policy")
	}
}

func TestLoadRejectsWeakJWTSecret(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unset", "server:\n  port: 8080\n"},
		{"placeholder", "auth:\n  jwtSecret: \"change-me\"\n"},
		{"short", "auth:\n  jwtSecret: \"abc123\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Error("Expected error for weak jwt secret")
			}
		})
	}
}

func TestLoadJWTSecretFromEnv(t *testing.T) {
	t.Setenv("KIDTUBE_AUTH_JWTSECRET", "from-the-environment-0001")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-the-environment-0001" {
		t.Errorf("Expected env secret, got %s", cfg.Auth.JWTSecret)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent file")
	}
}
