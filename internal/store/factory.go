package store

import (
	"fmt"
	"os"
	"path/filepath"

	"feedwatcher/internal/config"
	"feedwatcher/internal/watcher"
)

// NewStoreFromConfig creates a Store implementation based on the store config type.
func NewStoreFromConfig(cfg config.StoreConfig) (watcher.Store, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "feedwatcher.db"))
	case "badger":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for badger store")
		}
		return NewBadgerStore(filepath.Join(cfg.DataDir, "badger"))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
