package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default()
	if cfg.Port == 0 || cfg.DataDir == "" || cfg.MaxConcurrentTasks != 1 || cfg.FetchWorkers < 1 {
		t.Fatalf("default config invalid: %+v", cfg)
	}
	if cfg.TranslationTimeout() != 20*time.Minute || cfg.FetchTimeout() != 10*time.Second {
		t.Fatalf("unexpected default timeouts: %v %v", cfg.TranslationTimeout(), cfg.FetchTimeout())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "not_exists.json"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.LibraryType != "user" {
		t.Fatalf("expected default library type, got %q", cfg.LibraryType)
	}
}

func TestLoadReadsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := []byte(`{
    "library_id": "123456",
    "library_type": "User",
    "api_key": "secret",
    "user_data_dir": "config/user_data",
    "extension_path": "config/extension",
    "output_dir": "download",
    "zotero_storage": "/home/me/Zotero/storage",
    "last_used_collection_key": "ABCD1234",
    "last_used_collection_name": "Reading",
    "max_concurrent_tasks": 2,
    "api_base_url": "http://localhost:9999/"
}`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LibraryID != "123456" || cfg.LibraryType != "user" || cfg.MaxConcurrentTasks != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.APIBaseURL != "http://localhost:9999" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.APIBaseURL)
	}
	if cfg.FetchWorkers != defaultFetchWorkers {
		t.Fatalf("expected default fetch workers, got %d", cfg.FetchWorkers)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsInvalidConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"max_concurrent_tasks": 0}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid concurrency")
	}
}

func TestValidateListsMissingKeys(t *testing.T) {
	err := Default().Validate()
	if err == nil {
		t.Fatalf("expected missing keys error")
	}
	for _, key := range []string{"library_id", "api_key", "zotero_storage"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %q in %v", key, err)
		}
	}
}

func TestWriteDefaultAndSaveLastCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.json")
	created, err := WriteDefault(path)
	if err != nil || !created {
		t.Fatalf("write default: created=%v err=%v", created, err)
	}
	if created, _ := WriteDefault(path); created {
		t.Fatalf("existing file must not be overwritten")
	}
	if err := SaveLastCollection(path, "KEY1", "Papers"); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LastUsedCollectionKey != "KEY1" || cfg.LastUsedCollectionName != "Papers" {
		t.Fatalf("last used collection not persisted: %+v", cfg)
	}
	if cfg.OutputDir != "download" {
		t.Fatalf("other keys must survive, got output_dir=%q", cfg.OutputDir)
	}
}
