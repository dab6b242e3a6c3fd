package config

import (
	"path/filepath"
	"testing"
)

func TestCollectionMemoryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.LastUsedCollectionKey = "OLD"
	mem := NewCollectionMemory(path, cfg)
	if key, _ := mem.Last(); key != "OLD" {
		t.Fatalf("expected initial key from config, got %q", key)
	}
	if err := mem.Remember("NEWKEY", "Reading list"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if key, name := mem.Last(); key != "NEWKEY" || name != "Reading list" {
		t.Fatalf("unexpected memory %q %q", key, name)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.LastUsedCollectionKey != "NEWKEY" || loaded.LastUsedCollectionName != "Reading list" {
		t.Fatalf("collection not written to file: %+v", loaded)
	}
}
