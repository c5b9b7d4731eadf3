package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("instance-abc", "/home/user/.local/share/feedwatcher")
	original.Archive = ArchiveConfig{Type: "s3", S3Bucket: "posts", S3Prefix: "fw", S3Region: "eu-west-1"}
	original.Store = StoreConfig{Type: "badger", DataDir: "/data"}
	original.Worker.ScanPageSize = 25

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.InstanceID != original.InstanceID {
		t.Errorf("InstanceID = %q, want %q", got.InstanceID, original.InstanceID)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Store != original.Store {
		t.Errorf("Store = %+v, want %+v", got.Store, original.Store)
	}
	if got.Archive != original.Archive {
		t.Errorf("Archive = %+v, want %+v", got.Archive, original.Archive)
	}
	if got.Source != original.Source {
		t.Errorf("Source = %+v, want %+v", got.Source, original.Source)
	}
	if got.Worker != original.Worker {
		t.Errorf("Worker = %+v, want %+v", got.Worker, original.Worker)
	}
	if got.Encryption != original.Encryption {
		t.Errorf("Encryption = %+v, want %+v", got.Encryption, original.Encryption)
	}
}

func TestManager_Read_AppliesDefaults(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(`
instance_id = "x"

[store]
type = "memory"

[worker]
scan_page_size = 5
`))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.Worker.ScanPageSize != 5 {
		t.Errorf("Worker.ScanPageSize = %d, want 5", cfg.Worker.ScanPageSize)
	}
	if cfg.Worker.DatePageSize != 100 {
		t.Errorf("Worker.DatePageSize = %d, want 100", cfg.Worker.DatePageSize)
	}
	if cfg.Worker.TickSeconds != 60 {
		t.Errorf("Worker.TickSeconds = %d, want 60", cfg.Worker.TickSeconds)
	}
	if cfg.Source.BaseURL != DefaultGraphURL {
		t.Errorf("Source.BaseURL = %q, want %q", cfg.Source.BaseURL, DefaultGraphURL)
	}
	if cfg.Source.APIVersion != DefaultAPIVersion {
		t.Errorf("Source.APIVersion = %q, want %q", cfg.Source.APIVersion, DefaultAPIVersion)
	}
	if cfg.Server.Listen != DefaultListen {
		t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, DefaultListen)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("instance-1", "/data/fw")

	if cfg.InstanceID != "instance-1" {
		t.Errorf("InstanceID = %q, want %q", cfg.InstanceID, "instance-1")
	}
	if cfg.LogDir != "/data/fw/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/fw/log")
	}
	if cfg.Store.DataDir != "/data/fw/data" {
		t.Errorf("Store.DataDir = %q, want %q", cfg.Store.DataDir, "/data/fw/data")
	}
	if cfg.Encryption.IdentityPath != "/data/fw/keys/credential.key" {
		t.Errorf("Encryption.IdentityPath = %q", cfg.Encryption.IdentityPath)
	}
	if cfg.Source.CookiesPath != "/data/fw/session/cookies.json" {
		t.Errorf("Source.CookiesPath = %q", cfg.Source.CookiesPath)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "feedwatcher.toml")

		if err := Init(path, NewConfig("i", "/data")); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("config file not created: %v", err)
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "feedwatcher.toml")
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}

		if err := Init(path, NewConfig("i", "/data")); err == nil {
			t.Error("Init() expected error for existing file")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads written config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "feedwatcher.toml")
		if err := Init(path, NewConfig("instance-9", "/data")); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		cfg, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if cfg.InstanceID != "instance-9" {
			t.Errorf("InstanceID = %q, want %q", cfg.InstanceID, "instance-9")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ReadFromFile(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("ReadFromFile() expected error")
		}
	})
}
