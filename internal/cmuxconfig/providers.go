// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cmuxconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProviderSecrets maps a provider name (e.g. "anthropic", "openai") to its
// API key, loaded from a secrets file outside config.json (spec.md §6
// "provider API keys read from a secrets file keyed by provider name").
type ProviderSecrets map[string]string

// LoadProviderSecrets reads a YAML file of provider name -> API key pairs.
// A missing file yields an empty map rather than an error, since provider
// configuration may instead arrive via providers.setConfig at runtime.
func LoadProviderSecrets(path string) (ProviderSecrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProviderSecrets{}, nil
		}
		return nil, fmt.Errorf("cmuxconfig: read providers file: %w", err)
	}

	var secrets ProviderSecrets
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("cmuxconfig: parse providers file: %w", err)
	}
	if secrets == nil {
		secrets = ProviderSecrets{}
	}
	return secrets, nil
}

// Save writes secrets back to path, creating parent directories as needed.
// Not atomic-renamed like config.json: this file is operator-edited, not
// machine-mutated under concurrent access.
func (s ProviderSecrets) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("cmuxconfig: marshal providers file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cmuxconfig: create providers file dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
