package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.RetrievalProvider != "auto" {
		t.Fatalf("RetrievalProvider = %q, want %q", cfg.RetrievalProvider, "auto")
	}
	if cfg.ResponderMode != "auto" {
		t.Fatalf("ResponderMode = %q, want %q", cfg.ResponderMode, "auto")
	}
	if cfg.SimilarityThreshold != 0.15 {
		t.Fatalf("SimilarityThreshold = %v, want 0.15", cfg.SimilarityThreshold)
	}
	if cfg.TopKResults != 10 {
		t.Fatalf("TopKResults = %d, want 10", cfg.TopKResults)
	}
	if cfg.EmbeddingDim != 1536 {
		t.Fatalf("EmbeddingDim = %d, want 1536", cfg.EmbeddingDim)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("SIMILARITY_THRESHOLD", "0.3")
	t.Setenv("TOP_K_RESULTS", "25")
	t.Setenv("RESPONDER_HTTP_URL", "http://localhost:7777/generate")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.SimilarityThreshold != 0.3 {
		t.Fatalf("SimilarityThreshold = %v, want 0.3", cfg.SimilarityThreshold)
	}
	if cfg.TopKResults != 25 {
		t.Fatalf("TopKResults = %d, want 25", cfg.TopKResults)
	}
	if cfg.ResponderHTTPURL != "http://localhost:7777/generate" {
		t.Fatalf("ResponderHTTPURL = %q, want explicit value", cfg.ResponderHTTPURL)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatal("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"SIMILARITY_THRESHOLD":     "1.5",
		"TOP_K_RESULTS":            "0",
		"EMBEDDING_DIM":            "-1",
		"APP_SESSION_IDLE_TIMEOUT": "2s",
		"APP_ALLOW_ANY_ORIGIN":     "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() accepted %s=%q", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_IDLE_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_DATA_DIR",
		"DATABASE_URL",
		"RETRIEVAL_PROVIDER",
		"CHROMEM_PATH",
		"SIMILARITY_THRESHOLD",
		"TOP_K_RESULTS",
		"EMBEDDING_MODEL",
		"EMBEDDING_DIM",
		"RESPONDER_MODE",
		"RESPONDER_HTTP_URL",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
