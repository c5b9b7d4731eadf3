package encryption

import (
	"fmt"

	"feedwatcher/internal/config"
	"feedwatcher/internal/watcher"
)

// NewSealerFromConfig creates a Sealer based on the configuration type.
func NewSealerFromConfig(cfg config.EncryptionConfig) (watcher.Sealer, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.IdentityPath == "" {
			return nil, fmt.Errorf("age encryption requires identity_path to be set")
		}
		return NewAgeSealer(cfg), nil
	case "none":
		return PlainSealer{}, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
