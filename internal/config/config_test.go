package config

import (
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DB_URL", "DATA_PATH", "WORKER_POOL_SIZE", "TASK_QUEUE_HIGHWATER",
		"TASK_RESULT_TTL_SECONDS", "MILP_TIME_LIMIT_SECONDS", "SYNC_TRIAL_CAP",
	} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if cfg.TaskQueueHighwater != 1000 {
		t.Errorf("Expected highwater 1000, got %d", cfg.TaskQueueHighwater)
	}
	if cfg.TaskResultTTL != time.Hour {
		t.Errorf("Expected TTL 1h, got %s", cfg.TaskResultTTL)
	}
	if cfg.OptimizerTimeLimit != 10*time.Second {
		t.Errorf("Expected optimizer limit 10s, got %s", cfg.OptimizerTimeLimit)
	}
	if cfg.SyncTrialCap != 5000 {
		t.Errorf("Expected sync cap 5000, got %d", cfg.SyncTrialCap)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WORKER_POOL_SIZE", "4")
	t.Setenv("TASK_RESULT_TTL_SECONDS", "120")
	t.Setenv("MILP_TIME_LIMIT_SECONDS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Port)
	}
	if cfg.WorkerPoolSize != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.WorkerPoolSize)
	}
	if cfg.TaskResultTTL != 2*time.Minute {
		t.Errorf("Expected TTL 2m, got %s", cfg.TaskResultTTL)
	}
	// Unparseable ints fall back to the default.
	if cfg.OptimizerTimeLimit != 10*time.Second {
		t.Errorf("Expected fallback 10s, got %s", cfg.OptimizerTimeLimit)
	}
}

func TestGodotenvQuoting(t *testing.T) {
	content := `DB_URL='file:data.db?cache=shared&mode="rwc"'`
	tmpfile, err := os.CreateTemp("", ".env.test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	env, err := godotenv.Read(tmpfile.Name())
	if err != nil {
		t.Fatalf("Error reading env: %v", err)
	}

	expected := `file:data.db?cache=shared&mode="rwc"`
	if env["DB_URL"] != expected {
		t.Errorf("Expected %s, got %s", expected, env["DB_URL"])
	}
}
