package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FullFile(t *testing.T) {
	content := `
server:
  port: 9000
  cors_origins: ["https://atlasapprox.org"]
log:
  level: debug
  format: console
atlas:
  backend: local
  path: "/data/atlas"
  embeddings: "prost"
  reference_db: "/data/reference.db"
cache:
  chunk_cache_mb: 64
limits:
  max_features: 20
measurement_types:
  gene_expression:
    unit: "cptt"
  chromatin_accessibility:
    fraction_is_average: true
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://atlasapprox.org" {
		t.Errorf("unexpected cors origins: %v", cfg.Server.CORSOrigins)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Atlas.Path != "/data/atlas" {
		t.Errorf("unexpected atlas path: %s", cfg.Atlas.Path)
	}
	if cfg.Atlas.Embeddings != "prost" {
		t.Errorf("unexpected embeddings name: %s", cfg.Atlas.Embeddings)
	}
	if cfg.Atlas.ReferenceDB != "/data/reference.db" {
		t.Errorf("unexpected reference db: %s", cfg.Atlas.ReferenceDB)
	}
	if cfg.Cache.ChunkCacheMB != 64 {
		t.Errorf("expected chunk cache 64MB, got %d", cfg.Cache.ChunkCacheMB)
	}
	if cfg.Limits.MaxFeatures != 20 {
		t.Errorf("expected max features 20, got %d", cfg.Limits.MaxFeatures)
	}
	if !cfg.MeasurementTypes["chromatin_accessibility"].FractionIsAverage {
		t.Error("expected chromatin_accessibility fraction_is_average")
	}
	if cfg.MeasurementTypes["gene_expression"].FractionIsAverage {
		t.Error("gene_expression must keep a separate fraction")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
atlas:
  path: "/test/atlas"
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Atlas.Backend != "local" {
		t.Errorf("expected default backend local, got %q", cfg.Atlas.Backend)
	}
	if cfg.Atlas.Embeddings != "protein_embeddings" {
		t.Errorf("expected default embeddings name, got %q", cfg.Atlas.Embeddings)
	}
	if cfg.Limits.MaxFeatures != 50 {
		t.Errorf("expected default max features 50, got %d", cfg.Limits.MaxFeatures)
	}
	if cfg.Limits.MaxFeaturesNeighborhood != 100 {
		t.Errorf("expected default neighborhood max features 100, got %d", cfg.Limits.MaxFeaturesNeighborhood)
	}
	if cfg.Cache.QueryCacheSize != 1000 {
		t.Errorf("expected default query cache size 1000, got %d", cfg.Cache.QueryCacheSize)
	}
	if _, ok := cfg.MeasurementTypes["gene_expression"]; !ok {
		t.Error("expected default measurement types")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ATLASAPPROX_ATLAS_PATH", "/env/atlas")
	t.Setenv("ATLASAPPROX_MINIO_SECRET_KEY", "s3cr3t")

	cfg := loadFromString(t, "atlas:\n  path: /file/atlas\n")
	if cfg.Atlas.Path != "/env/atlas" {
		t.Errorf("expected env path, got %s", cfg.Atlas.Path)
	}
	if cfg.Atlas.Minio.SecretKey != "s3cr3t" {
		t.Errorf("expected env secret key, got %q", cfg.Atlas.Minio.SecretKey)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknownBackend": "atlas:\n  backend: ftp\n",
		"minioNoBucket":  "atlas:\n  backend: minio\n  minio:\n    endpoint: localhost:9000\n",
		"negativeLimit":  "limits:\n  max_features: -1\n",
		"badYAML":        "server: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatalf("failed to write temp config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
