// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"sort"
	"sync"

	"github.com/coder/cmux-sub011/internal/cmuxconfig"
)

// providerStore persists provider API keys to providers.yaml and reports
// which providers are configured, implementing bridge.ProviderStore. It
// also keeps the live clientResolver's view of secrets current so a
// providers.setConfig call takes effect on the very next sendMessage.
type providerStore struct {
	mu       sync.Mutex
	path     string
	secrets  cmuxconfig.ProviderSecrets
	resolver *clientResolver
}

func newProviderStore(path string, secrets cmuxconfig.ProviderSecrets, resolver *clientResolver) *providerStore {
	return &providerStore{path: path, secrets: secrets, resolver: resolver}
}

func (p *providerStore) Set(providerName, apiKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.secrets == nil {
		p.secrets = cmuxconfig.ProviderSecrets{}
	}
	p.secrets[providerName] = apiKey
	if err := p.secrets.Save(p.path); err != nil {
		return err
	}
	p.resolver.setSecrets(p.secrets)
	return nil
}

func (p *providerStore) Configured() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.secrets))
	for name := range p.secrets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
