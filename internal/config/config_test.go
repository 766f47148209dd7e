package config

import (
	"strings"
	"testing"
	"time"

	"github.com/bobarin/listingreel/internal/models"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/listingreel")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("PUBLIC_BASE_URL", "https://ingest.example.com")
	t.Setenv("FAL_KEY", "fal-key")
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.VideoProvider != models.ProviderQueue || cfg.GenerationModel() != models.ModelKlingImageToVideo {
		t.Errorf("unexpected provider defaults %s %s", cfg.VideoProvider, cfg.GenerationModel())
	}
	if cfg.DispatchConcurrency != 1 || cfg.ClipDurationSeconds != 5 {
		t.Errorf("unexpected dispatch defaults %+v", cfg)
	}
	if cfg.JobWebhookMaxRetries != 3 || cfg.JobWebhookBackoff != time.Second {
		t.Errorf("unexpected job webhook budget %d/%v", cfg.JobWebhookMaxRetries, cfg.JobWebhookBackoff)
	}
	if cfg.BatchWebhookMaxRetries != 6 || cfg.BatchWebhookBackoff != 2*time.Second {
		t.Errorf("unexpected batch webhook budget %d/%v", cfg.BatchWebhookMaxRetries, cfg.BatchWebhookBackoff)
	}
	if len(cfg.PriorityCategories) != 2 || cfg.PriorityCategories[0] != "kitchen" {
		t.Errorf("unexpected priority categories %v", cfg.PriorityCategories)
	}
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("VIDEO_PROVIDER", "veo")
	t.Setenv("GEMINI_API_KEY", "g")
	t.Setenv("PRIORITY_CATEGORIES", " kitchen , pool ,")
	t.Setenv("MIN_SECONDARY_SCORE", "0.75")
	t.Setenv("BATCH_WEBHOOK_BACKOFF", "1500ms")
	t.Setenv("JOB_WEBHOOK_BACKOFF", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GenerationModel() != models.ModelVeo {
		t.Errorf("expected veo model, got %s", cfg.GenerationModel())
	}
	if strings.Join(cfg.PriorityCategories, ",") != "kitchen,pool" {
		t.Errorf("unexpected list %v", cfg.PriorityCategories)
	}
	if cfg.MinSecondaryScore != 0.75 || cfg.BatchWebhookBackoff != 1500*time.Millisecond || cfg.JobWebhookBackoff != 4*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"no database":       {"DATABASE_URL": ""},
		"no public url":     {"PUBLIC_BASE_URL": ""},
		"unknown provider":  {"VIDEO_PROVIDER": "sora"},
		"veo without key":   {"VIDEO_PROVIDER": "veo"},
		"minio without key": {"STORAGE_BACKEND": "minio"},
		"webhook no secret": {"CALLBACK_WEBHOOK_URL": "https://app.example.com/hook"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
