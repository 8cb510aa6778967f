package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		xdg := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", xdg)

		dir, err := GetConfigDir()
		if err != nil {
			t.Fatalf("GetConfigDir() error = %v", err)
		}
		if want := filepath.Join(xdg, "rkflash"); dir != want {
			t.Errorf("GetConfigDir() = %v, want %v", dir, want)
		}
		return
	}

	dir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if !strings.Contains(dir, "rkflash") {
		t.Errorf("GetConfigDir() = %v, should contain 'rkflash'", dir)
	}
}

func TestGetConfigPath(t *testing.T) {
	path, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", path)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %v, want %v", cfg.Version, CurrentVersion)
	}
	if cfg.Transfer.ChunkSectors != 32 || cfg.Transfer.Retries != 3 {
		t.Errorf("Transfer = %+v, want 32 sectors and 3 retries", cfg.Transfer)
	}
	if cfg.Transfer.ErasePattern != 0xff {
		t.Errorf("ErasePattern = %#x, want 0xff", cfg.Transfer.ErasePattern)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transfer.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Transfer.Timeout)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "full file",
			body: `version: 1
log_level: debug
transfer:
  chunk_sectors: 64
  retries: 5
  retry_delay: 50ms
  timeout: 10s
  erase_pattern: 0
profiles:
  - product_id: 0x350a
    chip: RK3568
`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.LogLevel != "debug" {
					t.Errorf("LogLevel = %q", cfg.LogLevel)
				}
				tr := cfg.Transfer
				if tr.ChunkSectors != 64 || tr.Retries != 5 || tr.RetryDelay != 50*time.Millisecond ||
					tr.Timeout != 10*time.Second || tr.ErasePattern != 0 {
					t.Errorf("Transfer = %+v", tr)
				}
				prof, ok := cfg.USBProfiles().Lookup(0x350a)
				if !ok || prof.Chip != "RK3568" || prof.ReadEndpoint != 1 || prof.WriteEndpoint != 2 {
					t.Errorf("extra profile = %+v, %v", prof, ok)
				}
			},
		},
		{
			name: "partial transfer keeps defaults",
			body: "transfer:\n  chunk_sectors: 16\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Version != CurrentVersion {
					t.Errorf("Version = %d", cfg.Version)
				}
				if cfg.Transfer.ChunkSectors != 16 || cfg.Transfer.Retries != 3 || cfg.Transfer.ErasePattern != 0xff {
					t.Errorf("Transfer = %+v", cfg.Transfer)
				}
			},
		},
		{name: "chunk too large", body: "transfer:\n  chunk_sectors: 129\n", wantErr: true},
		{name: "bad erase pattern", body: "transfer:\n  erase_pattern: 256\n", wantErr: true},
		{name: "zero retries", body: "transfer:\n  retries: 0\n", wantErr: true},
		{name: "future version", body: "version: 2\n", wantErr: true},
		{name: "profile without product", body: "profiles:\n  - chip: RK9999\n", wantErr: true},
		{name: "not yaml", body: "transfer: [", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := NewConfig()
	cfg.LogLevel = "warn"
	cfg.Transfer.Timeout = 2 * time.Second
	cfg.UpdateDeviceLastSeen("RK3188", 0x00e90000, "SAMSUNG")
	cfg.EnsureDevice("RK3188").Nickname = "bench tablet"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}
	if entries, _ := os.ReadDir(filepath.Dir(path)); len(entries) != 1 {
		t.Errorf("config dir holds %d entries, want only config.yaml", len(entries))
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.LogLevel != "warn" || loaded.Transfer.Timeout != 2*time.Second {
		t.Errorf("loaded = %+v, transfer %+v", loaded, loaded.Transfer)
	}
	dev := loaded.Devices["RK3188"]
	if dev == nil {
		t.Fatal("device record lost")
	}
	if dev.Nickname != "bench tablet" || dev.FlashSectors != 0x00e90000 || dev.Manufacturer != "SAMSUNG" {
		t.Errorf("device = %+v", dev)
	}
	if time.Since(dev.LastSeen) > time.Minute {
		t.Errorf("LastSeen = %v", dev.LastSeen)
	}
}

func TestLoad_DefaultPath(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG_CONFIG_HOME only applies on Linux")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := NewConfig()
	cfg.Transfer.Retries = 7
	if err := cfg.Save(""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Transfer.Retries != 7 {
		t.Errorf("Retries = %d, want 7", loaded.Transfer.Retries)
	}
}

func TestEnsureDevice(t *testing.T) {
	cfg := &Config{}

	a := cfg.EnsureDevice("RK3066")
	b := cfg.EnsureDevice("RK3066")
	if a != b {
		t.Error("EnsureDevice() returned a new record for a known chip")
	}
	if len(cfg.Devices) != 1 {
		t.Errorf("len(Devices) = %d, want 1", len(cfg.Devices))
	}
}
