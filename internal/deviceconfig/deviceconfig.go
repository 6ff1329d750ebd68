// Package deviceconfig persists the terminal's activation record and sync
// checkpoint. The file is the device's identity: losing it means the
// terminal must be re-activated, so writes go through a temp file and
// rename to stay crash-safe.
package deviceconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var ErrNotActivated = errors.New("device is not activated")

// Config is the on-disk activation record. LastSyncAt is the pull
// checkpoint: always a server-issued sync timestamp, never the device's
// own clock.
type Config struct {
	Activated  bool       `json:"activated"`
	Endpoint   string     `json:"endpoint"`
	DeviceID   string     `json:"device_id"`
	StoreID    string     `json:"store_id"`
	StoreName  string     `json:"store_name"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

// DefaultPath places the config under the user config dir, next to where
// the device database lives.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dukkanpos", "device.json"), nil
}

// Load reads the activation record. A missing file is reported as
// ErrNotActivated so callers branch on activation state, not on os errors.
func (f *File) Load() (Config, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, ErrNotActivated
		}
		return Config{}, fmt.Errorf("read device config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse device config: %w", err)
	}
	if !cfg.Activated || cfg.DeviceID == "" {
		return Config{}, ErrNotActivated
	}
	return cfg, nil
}

// Save writes the record atomically: temp file in the same directory, fsync
// via Close, then rename over the old file.
func (f *File) Save(cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode device config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "device-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace device config: %w", err)
	}
	return nil
}

// LastSyncAt returns the persisted pull checkpoint, nil before the first
// successful pull.
func (f *File) LastSyncAt() (*time.Time, error) {
	cfg, err := f.Load()
	if err != nil {
		return nil, err
	}
	return cfg.LastSyncAt, nil
}

// SetLastSyncAt advances the pull checkpoint and persists immediately, so a
// crash after a pull cycle never re-reads with a stale checkpoint.
func (f *File) SetLastSyncAt(at time.Time) error {
	cfg, err := f.Load()
	if err != nil {
		return err
	}
	at = at.UTC()
	cfg.LastSyncAt = &at
	return f.Save(cfg)
}
