package apikeystore

import (
	"fmt"
	"os"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"gopkg.in/yaml.v3"
)

// fileEntry is one YAML record in the static key file.
type fileEntry struct {
	KeyID     string                `yaml:"key_id"`
	Tier      relaymodel.APIKeyTier `yaml:"tier"`
	ExpiresAt string                `yaml:"expires_at"`
	Active    bool                  `yaml:"active"`
}

type fileDocument struct {
	Keys []fileEntry `yaml:"keys"`
}

// FileSource is a Source backed by a static YAML file of provisioned keys,
// reloaded on every Resolve-triggered cache miss so an operator can edit the
// file and have changes picked up within the store's staleness bound.
type FileSource struct {
	path string
}

// LoadFileSource builds a FileSource for path. An empty path is valid: it
// simply serves no keys, so /sponsor rejects every bearer token.
func LoadFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Lookup(keyID string) (relaymodel.APIKeyMetadata, bool, error) {
	if s.path == "" {
		return relaymodel.APIKeyMetadata{}, false, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return relaymodel.APIKeyMetadata{}, false, nil
		}
		return relaymodel.APIKeyMetadata{}, false, fmt.Errorf("read api key file: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return relaymodel.APIKeyMetadata{}, false, fmt.Errorf("parse api key file: %w", err)
	}
	for _, entry := range doc.Keys {
		if entry.KeyID != keyID {
			continue
		}
		meta := relaymodel.APIKeyMetadata{KeyID: entry.KeyID, Tier: entry.Tier, Active: entry.Active}
		if entry.ExpiresAt != "" {
			if t, err := time.Parse(time.RFC3339, entry.ExpiresAt); err == nil {
				meta.ExpiresAt = t
			}
		}
		return meta, true, nil
	}
	return relaymodel.APIKeyMetadata{}, false, nil
}
