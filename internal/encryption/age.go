package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
	"filippo.io/age/armor"

	"feedwatcher/internal/config"
	"feedwatcher/internal/watcher"
)

// AgeSealer implements watcher.Sealer with an age X25519 identity kept in a
// file readable only by the owner. Sealed values are ASCII-armored.
type AgeSealer struct {
	identityPath string
}

var _ watcher.Sealer = (*AgeSealer)(nil)

// NewAgeSealer creates an AgeSealer from configuration.
func NewAgeSealer(cfg config.EncryptionConfig) *AgeSealer {
	return &AgeSealer{identityPath: cfg.IdentityPath}
}

// Setup generates a new identity and writes it to the identity file.
// It refuses to replace an existing identity, which would make sealed values unreadable.
func (s *AgeSealer) Setup() error {
	if s.IsConfigured() {
		return fmt.Errorf("identity already exists at %s", s.identityPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.identityPath), 0700); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}

	content := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
	if err := os.WriteFile(s.identityPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	return nil
}

// IsConfigured reports whether the identity file exists.
func (s *AgeSealer) IsConfigured() bool {
	_, err := os.Stat(s.identityPath)
	return err == nil
}

// Seal encrypts plaintext to the identity's recipient.
func (s *AgeSealer) Seal(plaintext []byte) ([]byte, error) {
	identity, err := s.loadIdentity()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	armorWriter := armor.NewWriter(&buf)
	w, err := age.Encrypt(armorWriter, identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts a value produced by Seal.
func (s *AgeSealer) Open(sealed []byte) ([]byte, error) {
	identity, err := s.loadIdentity()
	if err != nil {
		return nil, err
	}

	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(sealed)), identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

func (s *AgeSealer) loadIdentity() (*age.X25519Identity, error) {
	data, err := os.ReadFile(s.identityPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no identity at %s (run `feedwatcher encryption init`)", s.identityPath)
		}
		return nil, fmt.Errorf("reading identity: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity found in %s", s.identityPath)
}
