package pthash

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoad(t *testing.T) {
	keys := testKeys(2000)
	cfg := NewBuildConfig()
	cfg.Seed = 6
	f, _, err := Build(keys, cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	path := filepath.Join(t.TempDir(), "keys.phf")
	if err := Save(f, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	g, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, k := range keys {
		if f.Lookup(k) != g.Lookup(k) {
			t.Fatalf("position of %q changed across save/load", k)
		}
	}

	h, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, k := range keys {
		if f.Lookup(k) != h.Lookup(k) {
			t.Fatalf("position of %q changed across mmap open", k)
		}
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	keys := testKeys(100)
	cfg := NewBuildConfig()
	cfg.Seed = 6
	f, _, err := Build(keys, cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	dir := t.TempDir()
	if err := Save(f, filepath.Join(dir, "keys.phf")); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "keys.phf" {
		t.Fatalf("directory holds %d entries, want only the function file", len(entries))
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	keys := testKeys(500)
	cfg := NewBuildConfig()
	cfg.Seed = 6
	f, _, err := Build(keys, cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys.phf")
	if err := Save(f, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0x01
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("load of corrupt file succeeded")
	}
	if _, err := Open(path); err == nil {
		t.Fatal("open of corrupt file succeeded")
	}
}
